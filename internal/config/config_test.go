package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeEnv(t, "VAULT_MASTER_KEY=0123456789abcdef0123456789abcdef\nJWT_SECRET=test-secret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.WSPort != 8081 {
		t.Errorf("ports = %d/%d, want 8080/8081", cfg.HTTPPort, cfg.WSPort)
	}
	if cfg.DatabasePath != "./data/arena.db" {
		t.Errorf("database path = %q", cfg.DatabasePath)
	}
	if cfg.JWTAccessTTL.Minutes() != 15 {
		t.Errorf("access ttl = %v, want 15m", cfg.JWTAccessTTL)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	path := writeEnv(t, "HTTP_PORT=9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error without VAULT_MASTER_KEY")
	}
}

func TestValidateRejectsPortClash(t *testing.T) {
	cfg := &Config{
		HTTPPort:       8080,
		WSPort:         8080,
		DatabasePath:   "x.db",
		VaultMasterKey: "0123456789abcdef0123456789abcdef",
		JWTSecret:      "s",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when HTTP and WS ports collide")
	}
}

func TestValidateRejectsShortMasterKey(t *testing.T) {
	cfg := &Config{
		HTTPPort:       8080,
		WSPort:         8081,
		DatabasePath:   "x.db",
		VaultMasterKey: "short",
		JWTSecret:      "s",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short master key")
	}
}
