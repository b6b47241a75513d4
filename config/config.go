package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the engine configuration loaded by escrowd.
type Config struct {
	DataDir          string      `toml:"DataDir"`
	Database         string      `toml:"Database"`
	Owner            string      `toml:"Owner"`
	FeeTreasury      string      `toml:"FeeTreasury"`
	PauseBlocksReads bool        `toml:"PauseBlocksReads"`
	GatewayConfig    string      `toml:"GatewayConfig"`
	Policy           Policy      `toml:"policy"`
	Journal          Journal     `toml:"journal"`
	Idempotency      Idempotency `toml:"idempotency"`
	Logging          Logging     `toml:"logging"`
	Webhook          Webhook     `toml:"webhook"`
}

// Policy holds the immutable economic and timing settings applied when the
// ledger is first initialised.
type Policy struct {
	FeeBps                  uint32 `toml:"FeeBps"`
	AcceptanceWindowSeconds int64  `toml:"AcceptanceWindowSeconds"`
	WarrantyWindowSeconds   int64  `toml:"WarrantyWindowSeconds"`
}

// Journal controls the SQLite event journal.
type Journal struct {
	Path     string `toml:"Path"`
	Disabled bool   `toml:"Disabled"`
}

// Idempotency selects the store used to replay mutation responses.
type Idempotency struct {
	Driver     string `toml:"Driver"`
	DSN        string `toml:"DSN"`
	TTLSeconds int64  `toml:"TTLSeconds"`
}

// Webhook forwards dispute events to the arbiter console. Delivery is off
// when Endpoint is empty.
type Webhook struct {
	Endpoint    string   `toml:"Endpoint"`
	Secret      string   `toml:"Secret"`
	Topics      []string `toml:"Topics"`
	MaxAttempts int      `toml:"MaxAttempts"`
	QueueSize   int      `toml:"QueueSize"`
}

// WebhookSecretEnv supplies Webhook.Secret when the file leaves it empty.
const WebhookSecretEnv = "JANUS_WEBHOOK_SECRET"

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

const (
	DatabaseLevelDB = "leveldb"
	DatabaseMemory  = "memory"

	IdempotencyPostgres = "postgres"
	IdempotencyBolt     = "bolt"
	IdempotencyNone     = "none"
)

// Load loads the configuration from the given path. A default file is
// written when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		DataDir:  "./janus-data",
		Database: DatabaseLevelDB,
		Policy: Policy{
			FeeBps:                  100,
			AcceptanceWindowSeconds: 24 * 60 * 60,
			WarrantyWindowSeconds:   30 * 24 * 60 * 60,
		},
		Idempotency: Idempotency{
			Driver:     IdempotencyBolt,
			TTLSeconds: 24 * 60 * 60,
		},
		Logging: Logging{
			Level:      "info",
			Env:        "local",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

func (c *Config) normalise() {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	if c.Database == "" {
		c.Database = DatabaseLevelDB
	}
	c.Idempotency.Driver = strings.ToLower(strings.TrimSpace(c.Idempotency.Driver))
	if c.Idempotency.Driver == "" {
		c.Idempotency.Driver = IdempotencyNone
	}
	c.Owner = strings.TrimSpace(c.Owner)
	c.FeeTreasury = strings.TrimSpace(c.FeeTreasury)
	c.Webhook.Endpoint = strings.TrimSpace(c.Webhook.Endpoint)
	if c.Webhook.Secret == "" {
		c.Webhook.Secret = os.Getenv(WebhookSecretEnv)
	}
}

// Validate ensures the configuration can be used to start the engine.
func (c *Config) Validate() error {
	switch c.Database {
	case DatabaseLevelDB:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("DataDir is required for the leveldb database")
		}
	case DatabaseMemory:
	default:
		return fmt.Errorf("Database: unsupported backend %q", c.Database)
	}
	if c.Policy.FeeBps > 10_000 {
		return fmt.Errorf("policy: FeeBps must be <= 10000")
	}
	if c.Policy.AcceptanceWindowSeconds <= 0 {
		return fmt.Errorf("policy: AcceptanceWindowSeconds must be positive")
	}
	if c.Policy.WarrantyWindowSeconds <= 0 {
		return fmt.Errorf("policy: WarrantyWindowSeconds must be positive")
	}
	switch c.Idempotency.Driver {
	case IdempotencyPostgres:
		if strings.TrimSpace(c.Idempotency.DSN) == "" {
			return fmt.Errorf("idempotency: DSN is required for postgres")
		}
	case IdempotencyBolt, IdempotencyNone:
	default:
		return fmt.Errorf("idempotency: unsupported driver %q", c.Idempotency.Driver)
	}
	if c.Idempotency.TTLSeconds < 0 {
		return fmt.Errorf("idempotency: TTLSeconds must not be negative")
	}
	if c.Webhook.Endpoint != "" && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook: Secret or %s is required when Endpoint is set", WebhookSecretEnv)
	}
	if c.Webhook.MaxAttempts < 0 || c.Webhook.QueueSize < 0 {
		return fmt.Errorf("webhook: MaxAttempts and QueueSize must not be negative")
	}
	return nil
}

// JournalPath resolves the journal location, defaulting into DataDir.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// IdempotencyPath resolves the bolt file used when Driver is "bolt".
func (c *Config) IdempotencyPath() string {
	if c.Idempotency.Driver == IdempotencyBolt && c.Idempotency.DSN != "" {
		return c.Idempotency.DSN
	}
	return filepath.Join(c.DataDir, "idempotency.db")
}

// LedgerPath is the LevelDB directory.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
