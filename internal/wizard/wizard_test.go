package wizard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/remsim-project/remsim-core/internal/config"
)

func TestWriteConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := config.Default()
	cfg.Server.ListenAddr = ":12345"

	if err := writeConfig(cfg, path); err != nil {
		t.Fatalf("writeConfig failed: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	if loaded.Server.ListenAddr != ":12345" {
		t.Errorf("ListenAddr = %q, want :12345", loaded.Server.ListenAddr)
	}
}

func TestValidateUint16(t *testing.T) {
	if err := validateUint16("8"); err != nil {
		t.Errorf("validateUint16(8) = %v, want nil", err)
	}
	if err := validateUint16("not-a-number"); err == nil {
		t.Error("validateUint16(not-a-number) = nil, want error")
	}
	if err := validateUint16("99999999"); err == nil {
		t.Error("validateUint16 should reject values overflowing uint16")
	}
}

func TestMustUint16(t *testing.T) {
	if got := mustUint16("42"); got != 42 {
		t.Errorf("mustUint16(42) = %d, want 42", got)
	}
}

func TestFileExistsAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")
	os.MkdirAll(filepath.Dir(path), 0o755)

	cfg := config.Default()
	if err := writeConfig(cfg, path); err != nil {
		t.Fatalf("writeConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}
