package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rcon.Port != DefaultRconPort {
		t.Fatalf("default rcon port: got %d", cfg.Rcon.Port)
	}
	if cfg.ApplicationData.ShutdownPolicy != ShutdownDrain {
		t.Fatalf("default shutdown policy: got %q", cfg.ApplicationData.ShutdownPolicy)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"rcon": {"password": "secret", "port": 27016}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rcon.Port != 27016 || cfg.Rcon.Password != "secret" {
		t.Fatalf("overlay lost explicit values: %+v", cfg.Rcon)
	}
	// Untouched sections keep their defaults.
	if cfg.ApplicationData.Sweeper.IntervalSec != 60 {
		t.Fatalf("overlay lost defaults: %+v", cfg.ApplicationData.Sweeper)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rcon := cfg.GetRcon()
	rcon.Password = "changed"
	cfg.SetRcon(rcon)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.GetRcon().Password != "changed" {
		t.Fatalf("saved value lost: %+v", again.GetRcon())
	}
}

func TestValidateRejectsMissingPassword(t *testing.T) {
	cfg := DefaultConfig()

	result := Validate(cfg)
	if result.IsValid() {
		t.Fatalf("expected validation failure for empty password")
	}

	cfg.Rcon.Password = "secret"
	if result := Validate(cfg); !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
}

func TestValidateShutdownPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rcon.Password = "secret"
	cfg.ApplicationData.ShutdownPolicy = "linger"

	if result := Validate(cfg); result.IsValid() {
		t.Fatalf("expected error for unknown shutdown policy")
	}
}

func TestValidateAPIAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rcon.Password = "secret"
	cfg.ApplicationData.API.AuthDisabled = false
	cfg.ApplicationData.API.Token = ""

	if result := Validate(cfg); result.IsValid() {
		t.Fatalf("expected error when api auth is enabled without a token")
	}
}
