package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	AuthMode      string   `mapstructure:"AUTH_MODE"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	EDIBodyLimit   string        `mapstructure:"EDI_BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`

	// Interchange envelope for generated 837P files.
	X12SubmitterID      string `mapstructure:"X12_SUBMITTER_ID"`
	X12SubmitterName    string `mapstructure:"X12_SUBMITTER_NAME"`
	X12SubmitterContact string `mapstructure:"X12_SUBMITTER_CONTACT"`
	X12SubmitterPhone   string `mapstructure:"X12_SUBMITTER_PHONE"`
	X12ReceiverID       string `mapstructure:"X12_RECEIVER_ID"`
	X12ReceiverName     string `mapstructure:"X12_RECEIVER_NAME"`
	X12UsageIndicator   string `mapstructure:"X12_USAGE_INDICATOR"`

	PayerRulesFile          string  `mapstructure:"PAYER_RULES_FILE"`
	TimelyFilingDays        int     `mapstructure:"TIMELY_FILING_DAYS"`
	PostingConcurrency      int     `mapstructure:"POSTING_CONCURRENCY"`
	UnderpaymentMinVariance float64 `mapstructure:"UNDERPAYMENT_MIN_VARIANCE"`
	UnderpaymentMinPercent  float64 `mapstructure:"UNDERPAYMENT_MIN_PERCENT"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "DEFAULT_TENANT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "EDI_BODY_LIMIT", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"X12_SUBMITTER_ID", "X12_SUBMITTER_NAME", "X12_SUBMITTER_CONTACT", "X12_SUBMITTER_PHONE",
	"X12_RECEIVER_ID", "X12_RECEIVER_NAME", "X12_USAGE_INDICATOR",
	"PAYER_RULES_FILE", "TIMELY_FILING_DAYS", "POSTING_CONCURRENCY",
	"UNDERPAYMENT_MIN_VARIANCE", "UNDERPAYMENT_MIN_PERCENT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("EDI_BODY_LIMIT", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("X12_SUBMITTER_NAME", "REVCYCLE")
	v.SetDefault("X12_USAGE_INDICATOR", "P")
	v.SetDefault("TIMELY_FILING_DAYS", 90)
	v.SetDefault("POSTING_CONCURRENCY", 8)
	v.SetDefault("UNDERPAYMENT_MIN_VARIANCE", 25)
	v.SetDefault("UNDERPAYMENT_MIN_PERCENT", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active and every request gets admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development selects "development" (no
// auth, all requests get admin) and anything else selects "external".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set so that real JWT authentication is enforced.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if c.X12UsageIndicator != "P" && c.X12UsageIndicator != "T" {
		return fmt.Errorf("X12_USAGE_INDICATOR must be \"P\" or \"T\", got %q", c.X12UsageIndicator)
	}
	if c.IsProduction() && c.X12SubmitterID == "" {
		return fmt.Errorf("X12_SUBMITTER_ID is required in production")
	}
	if c.TimelyFilingDays <= 0 {
		return fmt.Errorf("TIMELY_FILING_DAYS must be positive, got %d", c.TimelyFilingDays)
	}
	if c.PostingConcurrency <= 0 {
		return fmt.Errorf("POSTING_CONCURRENCY must be positive, got %d", c.PostingConcurrency)
	}
	if c.UnderpaymentMinVariance < 0 || c.UnderpaymentMinPercent < 0 {
		return fmt.Errorf("underpayment thresholds must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}

	return nil
}
