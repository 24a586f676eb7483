package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.yaml")
	yml := `
camera:
  use_proxy: true
  proxy_base: https://proxy.example.com/api
  transport: poll
stream:
  retry_base: 2s
  max_retries: 7
rover:
  log_backup_path: /var/lib/rover/file.json
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STREAM_MAX_RETRIES", "9")
	t.Setenv("STUN_SERVERS", "stun:a:1, stun:b:2")
	t.Setenv("ROVER_LOG_BACKUP", "/var/lib/rover/env.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Camera.UseProxy || cfg.Camera.ProxyBase != "https://proxy.example.com/api" {
		t.Errorf("camera section not read from file: %+v", cfg.Camera)
	}
	if cfg.Camera.Transport != "poll" {
		t.Errorf("expected transport poll, got %q", cfg.Camera.Transport)
	}
	if cfg.Stream.RetryBase != 2*time.Second {
		t.Errorf("expected retry base 2s, got %v", cfg.Stream.RetryBase)
	}
	if cfg.Stream.MaxRetries != 9 {
		t.Errorf("env should override file: got max retries %d", cfg.Stream.MaxRetries)
	}
	if cfg.Stream.ProbeInterval != 10*time.Second {
		t.Errorf("untouched default lost: probe interval %v", cfg.Stream.ProbeInterval)
	}
	if len(cfg.WebRTC.STUNServers) != 2 || cfg.WebRTC.STUNServers[1] != "stun:b:2" {
		t.Errorf("unexpected stun servers %v", cfg.WebRTC.STUNServers)
	}
	if cfg.Rover.LogBackupPath != "/var/lib/rover/env.json" {
		t.Errorf("mission log backup path %q", cfg.Rover.LogBackupPath)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"proxy without base", func(c *Config) { c.Camera.UseProxy = true }, "proxy_base"},
		{"unknown transport", func(c *Config) { c.Camera.Transport = "rtsp" }, "transport"},
		{"max below base", func(c *Config) { c.Stream.RetryMaxDelay = time.Millisecond }, "retry_max_delay"},
		{"zero retries", func(c *Config) { c.Stream.MaxRetries = 0 }, "max_retries"},
		{"firebase without key", func(c *Config) { c.DataStore.DatabaseURL = "https://x.firebaseio.com" }, "api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
