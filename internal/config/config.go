// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
//
// Fee percentages and the release window are read once at startup and
// snapshot onto escrow records at capture time; changing them never
// affects records that already exist.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement rates
	IndividualFeePercent int // platform fee for solo professionals (0-100)
	FirmFeePercent       int // platform fee for firm-affiliated professionals (0-100)
	ReleaseWindowDays    int // days after completion before auto-release

	// Firm member commission rules, "role=percent" pairs, e.g. "lead=70,associate=40".
	CommissionRules          map[string]int
	DefaultCommissionPercent int // used when a member's role has no rule

	// Auto-release scheduler
	SchedulerInterval time.Duration
	SchedulerBatch    int

	// Refund gateway
	StripeAPIKey  string // empty = in-memory gateway (development)
	RefundTimeout time.Duration

	// Security / observability
	AdminSecret  string
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultIndividualFee     = 10
	DefaultFirmFee           = 15
	DefaultReleaseWindow     = 7
	DefaultCommission        = 50
	DefaultSchedulerInterval = 2 * time.Minute
	DefaultSchedulerBatch    = 100
	DefaultRefundTimeout     = 10 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", "text"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		IndividualFeePercent:     getEnvInt("INDIVIDUAL_FEE_PERCENT", DefaultIndividualFee),
		FirmFeePercent:           getEnvInt("FIRM_FEE_PERCENT", DefaultFirmFee),
		ReleaseWindowDays:        getEnvInt("RELEASE_WINDOW_DAYS", DefaultReleaseWindow),
		DefaultCommissionPercent: getEnvInt("DEFAULT_COMMISSION_PERCENT", DefaultCommission),
		SchedulerInterval:        getEnvDuration("SCHEDULER_INTERVAL", DefaultSchedulerInterval),
		SchedulerBatch:           getEnvInt("SCHEDULER_BATCH", DefaultSchedulerBatch),
		StripeAPIKey:             os.Getenv("STRIPE_API_KEY"),
		RefundTimeout:            getEnvDuration("REFUND_TIMEOUT", DefaultRefundTimeout),
		AdminSecret:              os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	rules, err := parseCommissionRules(os.Getenv("COMMISSION_RULES"))
	if err != nil {
		return nil, err
	}
	cfg.CommissionRules = rules

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.IndividualFeePercent < 0 || c.IndividualFeePercent > 100 {
		return fmt.Errorf("INDIVIDUAL_FEE_PERCENT must be 0-100, got %d", c.IndividualFeePercent)
	}
	if c.FirmFeePercent < 0 || c.FirmFeePercent > 100 {
		return fmt.Errorf("FIRM_FEE_PERCENT must be 0-100, got %d", c.FirmFeePercent)
	}
	if c.DefaultCommissionPercent < 0 || c.DefaultCommissionPercent > 100 {
		return fmt.Errorf("DEFAULT_COMMISSION_PERCENT must be 0-100, got %d", c.DefaultCommissionPercent)
	}
	if c.ReleaseWindowDays <= 0 {
		return fmt.Errorf("RELEASE_WINDOW_DAYS must be positive, got %d", c.ReleaseWindowDays)
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.SchedulerInterval)
	}
	for role, pct := range c.CommissionRules {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("commission percent for role %q must be 0-100, got %d", role, pct)
		}
	}
	return nil
}

// ReleaseWindow returns the release window as a duration.
func (c *Config) ReleaseWindow() time.Duration {
	return time.Duration(c.ReleaseWindowDays) * 24 * time.Hour
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseCommissionRules parses "role=percent,role=percent" into a map.
func parseCommissionRules(s string) (map[string]int, error) {
	rules := make(map[string]int)
	if s == "" {
		return rules, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		role, pctStr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("COMMISSION_RULES entry %q is not role=percent", pair)
		}
		pct, err := strconv.Atoi(strings.TrimSpace(pctStr))
		if err != nil {
			return nil, fmt.Errorf("COMMISSION_RULES entry %q has non-numeric percent", pair)
		}
		rules[strings.TrimSpace(role)] = pct
	}
	return rules, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
