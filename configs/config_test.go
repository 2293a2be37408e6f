package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FACEBOOK_GRAPH_URL", "")
	t.Setenv("PUBLISH_CONCURRENCY", "")

	cfg := config.LoadConfig()
	if cfg.InstagramGraphURL != "https://graph.facebook.com/v20.0" {
		t.Fatalf("unexpected graph url: %q", cfg.InstagramGraphURL)
	}
	if cfg.SignedURLTTL != 10*time.Minute {
		t.Fatalf("unexpected signed url ttl: %s", cfg.SignedURLTTL)
	}
	if cfg.InstagramPolling.MaxAttempts != 15 || cfg.InstagramPolling.Interval != 10*time.Second {
		t.Fatalf("unexpected instagram polling: %+v", cfg.InstagramPolling)
	}
	if cfg.TiktokPolling.MaxAttempts != 15 || cfg.TiktokPolling.Interval != 15*time.Second {
		t.Fatalf("unexpected tiktok polling: %+v", cfg.TiktokPolling)
	}
	if cfg.PublishConcurrency != 10 {
		t.Fatalf("unexpected publish concurrency: %d", cfg.PublishConcurrency)
	}
}

func TestLoadConfigReadsEnv(t *testing.T) {
	t.Setenv("TIKTOK_API_URL", "http://tiktok.local")
	t.Setenv("PUBLISH_CONCURRENCY", "3")
	t.Setenv("BODY_LIMIT_MB", "not-a-number")

	cfg := config.LoadConfig()
	if cfg.TiktokAPIURL != "http://tiktok.local" {
		t.Fatalf("expected tiktok url from env, got %q", cfg.TiktokAPIURL)
	}
	if cfg.PublishConcurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.PublishConcurrency)
	}
	if cfg.BodyLimitMB != 1024 {
		t.Fatalf("expected default body limit for invalid value, got %d", cfg.BodyLimitMB)
	}
}

func TestApplyFileOverlaysValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosspost.toml")
	content := `
[server]
port = "8080"
publish_concurrency = 4

[storage]
signed_url_ttl = 300

[polling.instagram]
interval = 2
max_attempts = 5

[polling.tiktok]
max_attempts = 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.PublishConcurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.PublishConcurrency)
	}
	if cfg.SignedURLTTL != 5*time.Minute {
		t.Fatalf("expected 5m ttl, got %s", cfg.SignedURLTTL)
	}
	if cfg.InstagramPolling.Interval != 2*time.Second || cfg.InstagramPolling.MaxAttempts != 5 {
		t.Fatalf("unexpected instagram polling: %+v", cfg.InstagramPolling)
	}
	if cfg.TiktokPolling.Interval != 15*time.Second {
		t.Fatalf("expected tiktok interval untouched, got %s", cfg.TiktokPolling.Interval)
	}
	if cfg.TiktokPolling.MaxAttempts != 20 {
		t.Fatalf("expected tiktok attempts 20, got %d", cfg.TiktokPolling.MaxAttempts)
	}
}

func TestApplyFileMissingIsIgnored(t *testing.T) {
	cfg := config.LoadConfig()
	if err := cfg.ApplyFile(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestApplyFileRejectsInvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\nport="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := config.LoadConfig()
	if err := cfg.ApplyFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadUsesConfigFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosspost.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = \"9000\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
}
