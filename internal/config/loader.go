package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atmosphere-mesh/corenode/internal/validate"
)

// ErrConfigNotFound is returned when no config file can be located.
var ErrConfigNotFound = errors.New("config file not found")

// ErrConfigVersionTooNew is returned when a config file declares a schema
// version newer than this binary understands.
var ErrConfigVersionTooNew = errors.New("config version too new")

// checkConfigFilePermissions rejects a config file with overly permissive
// permissions: it returns an error whenever any group or other permission
// bit is set (anything beyond 0600). Config files may reference key and
// credentials file paths.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadNodeConfig loads node configuration from a YAML file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Default version to 1 for configs written before versioning was added.
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade atmospherenode", ErrConfigVersionTooNew, cfg.Version, CurrentConfigVersion)
	}

	return &cfg, nil
}

// SaveNodeConfig writes node configuration to path with owner-only
// permissions.
func SaveNodeConfig(path string, cfg *NodeConfig) error {
	if cfg.Version == 0 {
		cfg.Version = CurrentConfigVersion
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ValidateNodeConfig validates node configuration.
func ValidateNodeConfig(cfg *NodeConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.AppID == "" {
		return fmt.Errorf("app_id is required")
	}
	if err := validate.NetworkName(cfg.AppID); err != nil {
		return fmt.Errorf("app_id: %w", err)
	}
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if cfg.Mesh.CredentialsFile == "" {
		return fmt.Errorf("mesh.credentials_file is required")
	}
	if cfg.Network.ListenPort < 0 || cfg.Network.ListenPort > 65535 {
		return fmt.Errorf("network.listen_port must be between 0 and 65535")
	}
	for _, cap := range cfg.Capabilities {
		if err := validate.CapabilityID(cap.ID); err != nil {
			return fmt.Errorf("capabilities: %w", err)
		}
	}
	return nil
}

// FindConfigFile searches for an atmosphere config file in standard
// locations. Search order: explicitPath (if given), ./atmosphere.yaml,
// ~/.config/atmosphere/config.yaml, /etc/atmosphere/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{
		"atmosphere.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "atmosphere", "config.yaml"))
	}

	searchPaths = append(searchPaths, filepath.Join("/etc", "atmosphere", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun 'atmospherenode init' to create one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory. This allows configs in
// ~/.config/atmosphere/ to reference key and credentials files using
// relative paths.
func ResolveConfigPaths(cfg *NodeConfig, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
	if cfg.Mesh.CredentialsFile != "" && !filepath.IsAbs(cfg.Mesh.CredentialsFile) {
		cfg.Mesh.CredentialsFile = filepath.Join(configDir, cfg.Mesh.CredentialsFile)
	}
	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(configDir, cfg.DataDir)
	}
}

// DefaultConfigDir returns the default atmosphere config directory
// (~/.config/atmosphere).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "atmosphere"), nil
}

// DefaultNodeConfig returns a NodeConfig with the paths and settings a
// fresh `atmospherenode init` would write, rooted at dataDir.
func DefaultNodeConfig(dataDir, appID string) *NodeConfig {
	return &NodeConfig{
		Version: CurrentConfigVersion,
		DataDir: dataDir,
		AppID:   appID,
		Identity: IdentityConfig{
			KeyFile: filepath.Join(dataDir, "identity.json"),
		},
		Mesh: MeshConfig{
			CredentialsFile: filepath.Join(dataDir, "mesh.json"),
		},
		Network: NetworkConfig{
			ListenPort: 0,
			EnableLAN:  true,
		},
	}
}
