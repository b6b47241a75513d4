package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	t.Setenv(SecretEnv, "")
	if _, err := Load(""); !errors.Is(err, ErrAuthSecretMissing) {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	t.Setenv(SecretEnv, "from-env")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if cfg.Auth.HMACSecret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.HMACSecret)
	}
	if cfg.ListenAddress != ":8080" || cfg.Stream.Buffer != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadAuthSectionWithoutEnabledStaysEnabled(t *testing.T) {
	t.Setenv(SecretEnv, "")
	path := writeConfig(t, "auth:\n  hmacSecret: s3cret\n  issuer: janus\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth to stay enabled when the key is omitted")
	}
	if cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("expected auth defaults to be restored: %+v", cfg.Auth)
	}
}

func TestLoadAllowsExplicitAuthDisabled(t *testing.T) {
	t.Setenv(SecretEnv, "")
	path := writeConfig(t, "listen: 127.0.0.1:9090\nauth:\n  enabled: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("expected auth to be disabled")
	}
	if cfg.ListenAddress != "127.0.0.1:9090" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
}

func TestLoadRateLimits(t *testing.T) {
	t.Setenv(SecretEnv, "x")
	path := writeConfig(t, "rateLimits:\n  - id: mutations\n    requestsPerMinute: 120\n    burst: 10\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	limit, ok := cfg.RateLimit("mutations")
	if !ok || limit.Burst != 10 || limit.RequestsPerMinute != 120 {
		t.Fatalf("unexpected rate limit: %+v", limit)
	}
	if _, ok := cfg.RateLimit("reads"); ok {
		t.Fatalf("unexpected rate limit for reads")
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	t.Setenv(SecretEnv, "x")
	cases := map[string]string{
		"unknown key":     "listenAddr: :1\n",
		"empty limit id":  "rateLimits:\n  - requestsPerMinute: 1\n",
		"duplicate limit": "rateLimits:\n  - id: a\n    requestsPerMinute: 1\n  - id: a\n    requestsPerMinute: 2\n",
		"zero rate":       "rateLimits:\n  - id: a\n",
		"negative stream": "stream:\n  backlog: -1\n",
		"empty listen":    "listen: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
