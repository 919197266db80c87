package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	MetricsEnabled   bool   `mapstructure:"METRICS_ENABLED"`
	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`

	AuditPubSubProject string `mapstructure:"AUDIT_PUBSUB_PROJECT"`
	AuditPubSubTopic   string `mapstructure:"AUDIT_PUBSUB_TOPIC"`
	AuditWebhookURL    string `mapstructure:"AUDIT_WEBHOOK_URL"`
	AuditWebhookSecret string `mapstructure:"AUDIT_WEBHOOK_SECRET"`

	// RulesetRefreshSchedule is a cron expression; empty disables the
	// active rule-set cache.
	RulesetRefreshSchedule string  `mapstructure:"RULESET_REFRESH_SCHEDULE"`
	ReviewSampleRate       float64 `mapstructure:"REVIEW_SAMPLE_RATE"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"LOG_LEVEL", "CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"METRICS_ENABLED", "METRICS_NAMESPACE", "AUDIT_PUBSUB_PROJECT", "AUDIT_PUBSUB_TOPIC",
	"AUDIT_WEBHOOK_URL", "AUDIT_WEBHOOK_SECRET", "RULESET_REFRESH_SCHEDULE", "REVIEW_SAMPLE_RATE",
}

// Load reads configuration from the environment, with an optional .env
// file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_NAMESPACE", "safety")
	v.SetDefault("REVIEW_SAMPLE_RATE", 0.05)

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE if set, otherwise "development" in a
// development environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed with ENV=production")
		}
	case "jwt":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ReviewSampleRate < 0 || c.ReviewSampleRate > 1 {
		return fmt.Errorf("REVIEW_SAMPLE_RATE must be within [0,1], got %v", c.ReviewSampleRate)
	}
	if (c.AuditPubSubProject == "") != (c.AuditPubSubTopic == "") {
		return fmt.Errorf("AUDIT_PUBSUB_PROJECT and AUDIT_PUBSUB_TOPIC must be set together")
	}
	if c.AuditWebhookURL != "" && len(c.AuditWebhookSecret) < 16 {
		return fmt.Errorf("AUDIT_WEBHOOK_SECRET must be at least 16 bytes when AUDIT_WEBHOOK_URL is set")
	}
	if c.RulesetRefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RulesetRefreshSchedule); err != nil {
			return fmt.Errorf("RULESET_REFRESH_SCHEDULE: %w", err)
		}
	}
	return nil
}
