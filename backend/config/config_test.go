package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Running.Port != 8082 {
		t.Fatalf("port = %d", cfg.Running.Port)
	}
	if cfg.Collab.SaveDebounce != 2*time.Second {
		t.Fatalf("saveDebounce = %v", cfg.Collab.SaveDebounce)
	}
	if cfg.Auth.Mode != "remote" || cfg.LLM.MaxTokens != 150 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "running:\n  port: 9000\ncollab:\n  saveDebounce: 500ms\nauth:\n  mode: jwt\n"
	if err := os.WriteFile(filepath.Join(dir, "collabConfig.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLLAB_AUTH_JWTSECRET", "from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Running.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Running.Port)
	}
	if cfg.Collab.SaveDebounce != 500*time.Millisecond {
		t.Fatalf("saveDebounce = %v", cfg.Collab.SaveDebounce)
	}
	if cfg.Auth.Mode != "jwt" || cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
}
