package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the top-level mims.yaml configuration.
type Config struct {
	Timezone    string           `yaml:"timezone"`
	Limits      LimitsConfig     `yaml:"limits"`
	Loans       LoanBounds       `yaml:"loans"`
	Identifiers IdentifierConfig `yaml:"identifiers"`
	Database    DatabaseConfig   `yaml:"database"`
	HTTP        HTTPConfig       `yaml:"http"`
	Log         LogConfig        `yaml:"log"`
	Notify      NotifyConfig     `yaml:"notify"`
}

// LimitsConfig bounds outgoing money per account per calendar day.
type LimitsConfig struct {
	DailyWithdrawal decimal.Decimal `yaml:"daily_withdrawal"`
	// DailyWithdrawalByType overrides DailyWithdrawal for an account type.
	DailyWithdrawalByType map[string]decimal.Decimal `yaml:"daily_withdrawal_by_type,omitempty"`
}

// LoanBounds are the accepted ranges for loan applications and approvals.
type LoanBounds struct {
	MinAmount decimal.Decimal `yaml:"min_amount"`
	MaxAmount decimal.Decimal `yaml:"max_amount"`
	MinRate   decimal.Decimal `yaml:"min_rate"` // annual percent
	MaxRate   decimal.Decimal `yaml:"max_rate"`
	MinTerm   int             `yaml:"min_term_months"`
	MaxTerm   int             `yaml:"max_term_months"`
}

// IdentifierConfig tunes external number generation.
type IdentifierConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// DatabaseConfig selects the store. An empty URL runs in memory.
type DatabaseConfig struct {
	URL string `yaml:"url,omitempty"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Development bool   `yaml:"development,omitempty"`
}

// NotifyConfig controls post-commit event delivery.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url,omitempty"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	AuditDir       string        `yaml:"audit_dir,omitempty"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
}

// MaxTermCeiling caps loans.max_term_months. Amortization cost grows with the
// term, so the bound keeps quotes cheap whatever the config says.
const MaxTermCeiling = 600

// maxRateCeiling is the first rate the loans.interest_rate column cannot hold.
var maxRateCeiling = decimal.NewFromInt(1000)

// Environment variables that override file settings.
const (
	EnvDatabaseURL     = "MIMS_DATABASE_URL"
	EnvHTTPAddr        = "MIMS_HTTP_ADDR"
	EnvLogLevel        = "MIMS_LOG_LEVEL"
	EnvWebhookURL      = "MIMS_WEBHOOK_URL"
	EnvDailyWithdrawal = "MIMS_DAILY_WITHDRAWAL_LIMIT"
	EnvTimezone        = "MIMS_TIMEZONE"
)

// Load reads a mims.yaml file from disk. Fields the file omits keep their
// Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns the configuration mims runs with when nothing is set.
func Default() *Config {
	return &Config{
		Timezone: "UTC",
		Limits: LimitsConfig{
			DailyWithdrawal: decimal.NewFromInt(10000),
		},
		Loans: LoanBounds{
			MinAmount: decimal.NewFromInt(100),
			MaxAmount: decimal.NewFromInt(100000),
			MinRate:   decimal.NewFromInt(1),
			MaxRate:   decimal.NewFromInt(50),
			MinTerm:   1,
			MaxTerm:   60,
		},
		Identifiers: IdentifierConfig{MaxAttempts: 5},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notify: NotifyConfig{
			WebhookTimeout: 5 * time.Second,
			QueueSize:      1024,
			Workers:        2,
		},
	}
}

// ApplyEnv loads the given .env files (missing files are skipped) and then
// overrides cfg from the process environment. Variables already set in the
// environment win over .env entries.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg.Database.URL = getEnv(EnvDatabaseURL, cfg.Database.URL)
	cfg.HTTP.Addr = getEnv(EnvHTTPAddr, cfg.HTTP.Addr)
	cfg.Log.Level = getEnv(EnvLogLevel, cfg.Log.Level)
	cfg.Notify.WebhookURL = getEnv(EnvWebhookURL, cfg.Notify.WebhookURL)
	cfg.Timezone = getEnv(EnvTimezone, cfg.Timezone)

	if v, ok := os.LookupEnv(EnvDailyWithdrawal); ok {
		limit, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvDailyWithdrawal, err)
		}
		cfg.Limits.DailyWithdrawal = limit
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if !c.Limits.DailyWithdrawal.IsPositive() {
		problems = append(problems, "limits.daily_withdrawal must be positive")
	}
	for t, v := range c.Limits.DailyWithdrawalByType {
		if !v.IsPositive() {
			problems = append(problems, fmt.Sprintf("limits.daily_withdrawal_by_type.%s must be positive", t))
		}
	}
	b := c.Loans
	if !b.MinAmount.IsPositive() || b.MinAmount.GreaterThan(b.MaxAmount) {
		problems = append(problems, "loans: need 0 < min_amount <= max_amount")
	}
	if b.MinRate.IsNegative() || b.MinRate.GreaterThan(b.MaxRate) {
		problems = append(problems, "loans: need 0 <= min_rate <= max_rate")
	}
	if b.MinTerm < 1 || b.MinTerm > b.MaxTerm {
		problems = append(problems, "loans: need 1 <= min_term_months <= max_term_months")
	}
	if b.MaxTerm > MaxTermCeiling {
		problems = append(problems, fmt.Sprintf("loans: max_term_months must be at most %d", MaxTermCeiling))
	}
	if b.MaxRate.GreaterThanOrEqual(maxRateCeiling) {
		problems = append(problems, fmt.Sprintf("loans: max_rate must be below %s", maxRateCeiling))
	}
	if c.Identifiers.MaxAttempts < 1 {
		problems = append(problems, "identifiers.max_attempts must be at least 1")
	}
	if c.Notify.QueueSize < 1 || c.Notify.Workers < 1 {
		problems = append(problems, "notify: queue_size and workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the time zone that defines a calendar day.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DailyLimit returns the daily outgoing limit for an account type.
func (l LimitsConfig) DailyLimit(accountType string) decimal.Decimal {
	if v, ok := l.DailyWithdrawalByType[accountType]; ok {
		return v
	}
	return l.DailyWithdrawal
}
