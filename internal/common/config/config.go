// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                 `mapstructure:"app"`
	Database      DatabaseConfig            `mapstructure:"database"`
	Session       SessionConfig             `mapstructure:"session"`
	Platforms     map[string]PlatformConfig `mapstructure:"platforms"`
	Identities    []IdentityConfig          `mapstructure:"identities"`
	Pool          PoolConfig                `mapstructure:"pool"`
	Mailbox       MailboxConfig             `mapstructure:"mailbox"`
	Search        SearchConfig              `mapstructure:"search"`
	Filter        FilterConfig              `mapstructure:"filter"`
	Profile       ProfileConfig             `mapstructure:"profile"`
	Notifications NotificationConfig        `mapstructure:"notifications"`
	Metrics       MetricsConfig             `mapstructure:"metrics"`
	Logging       LoggingConfig             `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig bounds one orchestrator run.
type SessionConfig struct {
	MaxApplications  int `mapstructure:"max_applications"`   // across all platforms
	Concurrency      int `mapstructure:"concurrency"`        // in-flight postings per platform
	MinDelay         int `mapstructure:"min_delay"`          // milliseconds between submissions
	MaxDelay         int `mapstructure:"max_delay"`          // milliseconds, jitter upper bound
	SubmitMaxRetries int `mapstructure:"submit_max_retries"` // transient submission retries
	BackoffInitial   int `mapstructure:"backoff_initial"`    // milliseconds
	BackoffMax       int `mapstructure:"backoff_max"`        // milliseconds
	VerifyDeadline   int `mapstructure:"verify_deadline"`    // milliseconds
	VerifyPollEvery  int `mapstructure:"verify_poll_every"`  // milliseconds
	VerifyMailboxCap int `mapstructure:"verify_mailbox_cap"` // consecutive mailbox errors tolerated
}

// PlatformConfig holds the per-platform settings and credentials. Board and
// APIKey apply to platforms addressed through a hosted job-board API.
type PlatformConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Email           string  `mapstructure:"email"`
	Password        string  `mapstructure:"password"`
	Board           string  `mapstructure:"board"`
	APIKey          string  `mapstructure:"api_key"`
	MaxApplications int     `mapstructure:"max_applications"`
	RatePerMinute   float64 `mapstructure:"rate_per_minute"`
}

// IdentityConfig declares one egress identity at startup.
type IdentityConfig struct {
	Name           string `mapstructure:"name"`
	ProxyURL       string `mapstructure:"proxy_url"`
	UserAgent      string `mapstructure:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	Locale         string `mapstructure:"locale"`
}

// PoolConfig tunes identity cooldown and acquisition behavior.
type PoolConfig struct {
	CooldownBase     int `mapstructure:"cooldown_base"`     // milliseconds
	CooldownMax      int `mapstructure:"cooldown_max"`      // milliseconds
	FailureThreshold int `mapstructure:"failure_threshold"` // consecutive failures before cooldown
	AcquireTimeout   int `mapstructure:"acquire_timeout"`   // milliseconds
}

// MailboxConfig points at the IMAP account receiving verification mail.
type MailboxConfig struct {
	Address         string   `mapstructure:"address"`
	Password        string   `mapstructure:"password"`
	IMAPServer      string   `mapstructure:"imap_server"`
	IMAPPort        int      `mapstructure:"imap_port"`
	FromContains    []string `mapstructure:"from_contains"`
	SubjectContains []string `mapstructure:"subject_contains"`
}

// SearchConfig holds the default posting search criteria.
type SearchConfig struct {
	Keywords      []string `mapstructure:"keywords"`
	Locations     []string `mapstructure:"locations"`
	DatePosted    string   `mapstructure:"date_posted"`
	EasyApplyOnly bool     `mapstructure:"easy_apply_only"`
	RemoteOnly    bool     `mapstructure:"remote_only"`
}

// FilterConfig is the static rule set for the keyword filter.
type FilterConfig struct {
	IncludeKeywords  []string `mapstructure:"include_keywords"`
	ExcludeKeywords  []string `mapstructure:"exclude_keywords"`
	ExcludeCompanies []string `mapstructure:"exclude_companies"`
}

// ProfileConfig locates the operator's form-answer data.
type ProfileConfig struct {
	AnswersPath string `mapstructure:"answers_path"`
}

// NotificationConfig holds settings for post-run reporting.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled     bool   `mapstructure:"enabled"`
		PhoneNumber string `mapstructure:"phone_number"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
