// Package meshcred implements mesh membership credentials: the shared
// secret a set of peers uses to recognize each other, and the portable
// invite token that lets a new device join. Credentials are process-wide
// configuration, loaded once at startup and passed into the node — never
// ambient global state.
package meshcred

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// SecretSize is the length in bytes of a mesh shared secret.
const SecretSize = 32

// Credentials identifies a mesh and carries the symmetric secret peers use
// to authenticate each other during the transport handshake (see
// ProveHandshake and VerifyHandshake). Peers sharing the same MeshID and Secret
// replicate the same CRDT store.
type Credentials struct {
	MeshID    uuid.UUID `json:"mesh_id"`
	Secret    [SecretSize]byte `json:"-"`
	SecretHex string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a fresh mesh (a brand new mesh_id and a random secret).
// Used by "create mesh"; the resulting Credentials is what gets turned
// into invite tokens for other devices.
func New() (*Credentials, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("meshcred: failed to generate shared secret: %w", err)
	}
	c := &Credentials{
		MeshID:    uuid.New(),
		Secret:    secret,
		CreatedAt: time.Now(),
	}
	c.SecretHex = hex.EncodeToString(c.Secret[:])
	return c, nil
}

// Expired reports whether the credentials have passed their expiry, if any.
func (c *Credentials) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// checkFilePermissions rejects mesh credential files that are readable by
// group or others; the shared secret is the only thing standing between
// an attacker and full mesh membership.
func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat mesh credentials file %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("mesh credentials file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// wireForm is the on-disk JSON shape of mesh.json; SecretHex is the only
// secret representation that round-trips through JSON.
type wireForm struct {
	MeshID    uuid.UUID  `json:"mesh_id"`
	Secret    string     `json:"secret"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Load reads mesh credentials from path (typically {data_dir}/mesh.json).
func Load(path string) (*Credentials, error) {
	if err := checkFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meshcred: failed to read %s: %w", path, err)
	}
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("meshcred: failed to parse %s: %w", path, err)
	}
	secret, err := decodeSecret(w.Secret)
	if err != nil {
		return nil, fmt.Errorf("meshcred: %s: %w", path, err)
	}
	return &Credentials{
		MeshID:    w.MeshID,
		Secret:    secret,
		SecretHex: w.Secret,
		CreatedAt: w.CreatedAt,
		ExpiresAt: w.ExpiresAt,
	}, nil
}

// Save persists mesh credentials to path with owner-only permissions.
func (c *Credentials) Save(path string) error {
	w := wireForm{
		MeshID:    c.MeshID,
		Secret:    c.SecretHex,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("meshcred: failed to marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("meshcred: failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("meshcred: failed to write %s: %w", path, err)
	}
	return nil
}

func decodeSecret(hexStr string) ([SecretSize]byte, error) {
	var out [SecretSize]byte
	if len(hexStr) != SecretSize*2 {
		return out, fmt.Errorf("secret must be %d hex characters, got %d", SecretSize*2, len(hexStr))
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, fmt.Errorf("invalid secret hex: %w", err)
	}
	copy(out[:], raw)
	return out, nil
}
