package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comfoairq.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
local_uuid = "20200428-0000-0000-0000-000000090804"
comfoair_uuid = "00000000-0000-0000-0000-000000000055"
comfoair_ip = "192.168.1.213"
port = 56747
multicast = "192.168.1.255"
verbose = true
debug = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LocalID != uuid.MustParse("20200428-0000-0000-0000-000000090804") {
		t.Fatalf("local id = %s", cfg.LocalID)
	}
	if cfg.RemoteID != uuid.MustParse("00000000-0000-0000-0000-000000000055") {
		t.Fatalf("remote id = %s", cfg.RemoteID)
	}
	if cfg.RemoteAddr != netip.MustParseAddr("192.168.1.213") {
		t.Fatalf("remote addr = %s", cfg.RemoteAddr)
	}
	if cfg.Group != netip.MustParseAddr("192.168.1.255") {
		t.Fatalf("group = %s", cfg.Group)
	}
	if !cfg.Verbose || !cfg.Debug {
		t.Fatalf("flags not loaded: %+v", cfg)
	}
	if !cfg.Discovered() {
		t.Fatalf("pre-configured remote pair should count as discovered")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `local_uuid = "6c4b8f2e-1d3a-4f5b-9c7d-2e8a0b1c3d4e"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Group != DefaultGroup {
		t.Fatalf("group = %s, want %s", cfg.Group, DefaultGroup)
	}
	if cfg.Discovered() {
		t.Fatalf("no remote pair configured, should not be discovered")
	}
}

func TestLoadRejectsBadUUID(t *testing.T) {
	path := writeConfig(t, `local_uuid = "not-a-uuid"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateLocalIdentityRequired(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrLocalIdentityMissing) {
		t.Fatalf("expected ErrLocalIdentityMissing, got %v", err)
	}
}

func TestValidateRemotePairInvariant(t *testing.T) {
	cfg := Default()
	cfg.LocalID = uuid.New()

	cfg.RemoteID = uuid.New()
	if err := cfg.Validate(); !errors.Is(err, ErrRemotePairIncomplete) {
		t.Fatalf("identity without address: expected ErrRemotePairIncomplete, got %v", err)
	}

	cfg.RemoteID = uuid.UUID{}
	cfg.RemoteAddr = netip.MustParseAddr("10.0.0.1")
	if err := cfg.Validate(); !errors.Is(err, ErrRemotePairIncomplete) {
		t.Fatalf("address without identity: expected ErrRemotePairIncomplete, got %v", err)
	}

	cfg.RemoteID = uuid.New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete pair should validate, got %v", err)
	}
}

func TestValidatePortRange(t *testing.T) {
	cfg := Default()
	cfg.LocalID = uuid.New()
	cfg.Port = 0
	if err := cfg.Validate(); !errors.Is(err, ErrPortOutOfRange) {
		t.Fatalf("expected ErrPortOutOfRange, got %v", err)
	}
}
