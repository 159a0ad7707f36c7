package main

import (
	"fmt"
	"path/filepath"

	"github.com/atmosphere-mesh/corenode/internal/config"
	"github.com/atmosphere-mesh/corenode/internal/daemon"
)

// loadConfig resolves and loads the node config from explicitPath (or the
// standard search order when empty), returning the resolved config
// together with the directory it lives in and the config file path itself.
func loadConfig(explicitPath string) (cfg *config.NodeConfig, configDir, cfgFile string, err error) {
	cfgFile, err = config.FindConfigFile(explicitPath)
	if err != nil {
		return nil, "", "", fmt.Errorf("config error: %w", err)
	}
	cfg, err = config.LoadNodeConfig(cfgFile)
	if err != nil {
		return nil, "", "", fmt.Errorf("config error: %w", err)
	}
	configDir = filepath.Dir(cfgFile)
	config.ResolveConfigPaths(cfg, configDir)
	return cfg, configDir, cfgFile, nil
}

// daemonPaths returns the control socket and cookie file paths a node
// started against configDir uses, matching the dot-prefixed sibling-file
// convention used elsewhere for admin sockets.
func daemonPaths(configDir string) (socketPath, cookiePath string) {
	return filepath.Join(configDir, ".atmosphere.sock"), filepath.Join(configDir, ".atmosphere.cookie")
}

// dialDaemon loads config from explicitPath and connects a Client to the
// daemon it names.
func dialDaemon(explicitPath string) (*daemon.Client, error) {
	_, configDir, _, err := loadConfig(explicitPath)
	if err != nil {
		return nil, err
	}
	socketPath, cookiePath := daemonPaths(configDir)
	client, err := daemon.NewClient(socketPath, cookiePath)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w\nStart it with: atmospherenode start", err)
	}
	return client, nil
}
