package meshcred

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNew_ProducesDistinctSecrets(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.MeshID == b.MeshID {
		t.Fatal("expected distinct mesh ids")
	}
	if a.SecretHex == b.SecretHex {
		t.Fatal("expected distinct secrets")
	}
	if len(a.SecretHex) != SecretSize*2 {
		t.Fatalf("expected %d hex chars, got %d", SecretSize*2, len(a.SecretHex))
	}
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.json")

	orig, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := orig.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MeshID != orig.MeshID {
		t.Fatalf("mesh id mismatch: %s != %s", loaded.MeshID, orig.MeshID)
	}
	if loaded.Secret != orig.Secret {
		t.Fatal("secret mismatch after round trip")
	}
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.json")

	creds, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := creds.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for world-readable mesh credentials file")
	}
}

func TestExpired(t *testing.T) {
	creds, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if creds.Expired(creds.CreatedAt) {
		t.Fatal("fresh credentials with no expiry should never be expired")
	}
}
