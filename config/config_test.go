package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != DatabaseLevelDB || cfg.Policy.FeeBps != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Policy != cfg.Policy || reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "/var/lib/janus"
Database = "LevelDB"
Owner = "0x0101010101010101010101010101010101010101"
PauseBlocksReads = true
GatewayConfig = "gateway.yaml"

[policy]
FeeBps = 250
AcceptanceWindowSeconds = 3600
WarrantyWindowSeconds = 7200

[journal]
Path = "/tmp/journal.db"

[idempotency]
Driver = "postgres"
DSN = "postgres://janus@localhost/janus"
TTLSeconds = 600

[logging]
Level = "debug"
Env = "prod"
File = "/var/log/janus.log"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != DatabaseLevelDB {
		t.Fatalf("database must be normalised, got %q", cfg.Database)
	}
	if !cfg.PauseBlocksReads || cfg.GatewayConfig != "gateway.yaml" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.Policy.FeeBps != 250 || cfg.Policy.AcceptanceWindowSeconds != 3600 || cfg.Policy.WarrantyWindowSeconds != 7200 {
		t.Fatalf("unexpected policy: %+v", cfg.Policy)
	}
	if cfg.JournalPath() != "/tmp/journal.db" {
		t.Fatalf("unexpected journal path %s", cfg.JournalPath())
	}
	if cfg.Idempotency.Driver != IdempotencyPostgres || cfg.Idempotency.TTLSeconds != 600 {
		t.Fatalf("unexpected idempotency: %+v", cfg.Idempotency)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.MaxBackups != 5 {
		t.Fatalf("logging defaults must survive partial sections: %+v", cfg.Logging)
	}
	if cfg.LedgerPath() != filepath.Join("/var/lib/janus", "ledger") {
		t.Fatalf("unexpected ledger path %s", cfg.LedgerPath())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "Bogus = 1\n",
		"fee":              "[policy]\nFeeBps = 10001\nAcceptanceWindowSeconds = 1\nWarrantyWindowSeconds = 1\n",
		"acceptance":       "[policy]\nFeeBps = 1\nAcceptanceWindowSeconds = 0\nWarrantyWindowSeconds = 1\n",
		"database":         "Database = \"redis\"\n",
		"postgres dsn":     "[idempotency]\nDriver = \"postgres\"\n",
		"idempotency kind": "[idempotency]\nDriver = \"etcd\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", strings.TrimSpace(contents))
			}
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	if cfg.JournalPath() != filepath.Join("/data", "journal.db") {
		t.Fatalf("unexpected journal path %s", cfg.JournalPath())
	}
	if cfg.IdempotencyPath() != filepath.Join("/data", "idempotency.db") {
		t.Fatalf("unexpected idempotency path %s", cfg.IdempotencyPath())
	}
	cfg.Idempotency.DSN = "/custom.db"
	if cfg.IdempotencyPath() != "/custom.db" {
		t.Fatalf("bolt DSN must override the default path")
	}
}

func TestWebhookSecretFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "[webhook]\nEndpoint = \"https://console.example/hooks\"\nTopics = [\"escrow.refund.requested\"]\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(WebhookSecretEnv, "")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected missing secret error")
	}
	t.Setenv(WebhookSecretEnv, "hook-secret")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhook.Secret != "hook-secret" || len(cfg.Webhook.Topics) != 1 {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
}
