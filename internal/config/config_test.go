package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Push.PollInterval.Std() != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Push.PollInterval.Std())
	}
	if cfg.Watch.Burst != 3 {
		t.Errorf("Burst = %d", cfg.Watch.Burst)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[api]
base_url = "https://review.example.com"
user_id = "user-1"

[push]
endpoint = "wss://review.example.com/push"
poll_interval = "10s"

[watch]
dir = "/tmp/drawings"
settle_delay = "500ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://review.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Push.Endpoint != "wss://review.example.com/push" {
		t.Errorf("Endpoint = %q", cfg.Push.Endpoint)
	}
	if cfg.Push.PollInterval.Std() != 10*time.Second {
		t.Errorf("PollInterval = %v", cfg.Push.PollInterval.Std())
	}
	if cfg.Watch.SettleDelay.Std() != 500*time.Millisecond {
		t.Errorf("SettleDelay = %v", cfg.Watch.SettleDelay.Std())
	}
	// untouched sections keep their defaults
	if cfg.Watch.Burst != 3 {
		t.Errorf("Burst = %d, want default", cfg.Watch.Burst)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Level = %q, want default", cfg.Log.Level)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[api\nbase_url = "), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config must error")
	}
}

func TestBearerTokenResolution(t *testing.T) {
	cfg := Default()
	if _, err := cfg.BearerToken(); err == nil {
		t.Fatal("no token configured, want error")
	}

	cfg.API.Token = "inline-token"
	token, err := cfg.BearerToken()
	if err != nil || token != "inline-token" {
		t.Fatalf("token = %q err = %v", token, err)
	}

	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("  file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.API.Token = ""
	cfg.API.TokenFile = tokenFile
	token, err = cfg.BearerToken()
	if err != nil || token != "file-token" {
		t.Fatalf("token = %q err = %v", token, err)
	}
}
