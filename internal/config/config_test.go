package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COLLADOC_CONFIG", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("COLLADOC_ACCESS_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 24*time.Hour {
		t.Fatalf("expected 24h access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.SendQueueSize != 256 {
		t.Fatalf("expected send queue 256, got %d", cfg.SendQueueSize)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colladoc.toml")
	body := `
addr = ":9000"
jwt_secret = "from-file"
access_ttl = "2h"
log_format = "console"
send_queue_size = 64
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLLADOC_CONFIG", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("COLLADOC_JWT_SECRET", "")
	t.Setenv("COLLADOC_ACCESS_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should override file, got %q", cfg.Addr)
	}
	if cfg.JWTSecret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.JWTSecret)
	}
	if cfg.AccessTTL != 2*time.Hour {
		t.Fatalf("expected 2h, got %s", cfg.AccessTTL)
	}
	if cfg.LogFormat != "console" || cfg.SendQueueSize != 64 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("addr = [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COLLADOC_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}

func TestGetenvDuration(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"90", 90 * time.Second},
		{"15m", 15 * time.Minute},
		{"soon", time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("COLLADOC_TEST_DURATION", tc.value)
		if got := getenvDuration("COLLADOC_TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("getenvDuration(%q) = %s, want %s", tc.value, got, tc.want)
		}
	}
}
