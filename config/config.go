// Package config loads process configuration from an optional YAML file with
// environment variable overrides. Validation is fail fast: a process with an
// unusable config must not start.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Authz    AuthzConfig    `yaml:"authz"`
	Payout   PayoutConfig   `yaml:"payout"`
	Audit    AuditConfig    `yaml:"audit"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds the HTTP listener settings for the API process.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig selects the handler and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthzConfig carries the credential sources for release-triggering callers.
type AuthzConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	StaticTokenBcryptHash string `yaml:"static_token_bcrypt_hash"`
	StaticTokenPrincipal  string `yaml:"static_token_principal"`
}

// PayoutConfig carries the fee split and materials remainder policy.
type PayoutConfig struct {
	PlatformFeeBps                int64 `yaml:"platform_fee_bps"`
	RouterFeeBps                  int64 `yaml:"router_fee_bps"`
	RemainderCreditThresholdCents int64 `yaml:"remainder_credit_threshold_cents"`
}

// AuditConfig carries the reconciliation tolerances.
type AuditConfig struct {
	DriftToleranceCents int64 `yaml:"drift_tolerance_cents"`
}

// NotifyConfig carries the ops webhook destination. Empty URL disables it.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns the built-in policy values used when a file or env override
// does not set them.
func Default() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Payout: PayoutConfig{
			PlatformFeeBps:                1000,
			RouterFeeBps:                  500,
			RemainderCreditThresholdCents: 2000,
		},
		Audit: AuditConfig{DriftToleranceCents: 100},
	}
}

// Load reads the YAML file at path (skipped when path is empty), then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Authz.JWTSecret, "AUTHZ_JWT_SECRET")
	setString(&cfg.Authz.StaticTokenBcryptHash, "AUTHZ_STATIC_TOKEN_HASH")
	setString(&cfg.Authz.StaticTokenPrincipal, "AUTHZ_STATIC_TOKEN_PRINCIPAL")
	setString(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setInt64(&cfg.Payout.PlatformFeeBps, "PLATFORM_FEE_BPS")
	setInt64(&cfg.Payout.RouterFeeBps, "ROUTER_FEE_BPS")
	setInt64(&cfg.Payout.RemainderCreditThresholdCents, "REMAINDER_CREDIT_THRESHOLD_CENTS")
	setInt64(&cfg.Audit.DriftToleranceCents, "DRIFT_TOLERANCE_CENTS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations that would misprice payouts or silence the
// audit.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database url is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Payout.PlatformFeeBps < 0 || c.Payout.RouterFeeBps < 0 {
		return fmt.Errorf("config: fee basis points must not be negative")
	}
	if c.Payout.PlatformFeeBps+c.Payout.RouterFeeBps > 10000 {
		return fmt.Errorf("config: combined fees exceed 100%%: platform %d bps + router %d bps",
			c.Payout.PlatformFeeBps, c.Payout.RouterFeeBps)
	}
	if c.Payout.RemainderCreditThresholdCents < 0 {
		return fmt.Errorf("config: remainder credit threshold must not be negative")
	}
	if c.Audit.DriftToleranceCents < 0 {
		return fmt.Errorf("config: drift tolerance must not be negative")
	}
	return nil
}
