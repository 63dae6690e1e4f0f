// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like LINKEDIN_EMAIL
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored if not present
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills credentials from well-known environment
// variables when the config file leaves them empty.
func overrideEmptyConfig(cfg *Config) {
	for name, platform := range cfg.Platforms {
		upper := strings.ToUpper(name)
		if platform.Email == "" {
			if val := os.Getenv(upper + "_EMAIL"); val != "" {
				platform.Email = val
			}
		}
		if platform.Password == "" {
			if val := os.Getenv(upper + "_PASSWORD"); val != "" {
				platform.Password = val
			}
		}
		cfg.Platforms[name] = platform
	}

	if cfg.Mailbox.Address == "" {
		if val := os.Getenv("VERIFICATION_EMAIL"); val != "" {
			cfg.Mailbox.Address = val
		}
	}
	if cfg.Mailbox.Password == "" {
		if val := os.Getenv("VERIFICATION_PASSWORD"); val != "" {
			cfg.Mailbox.Password = val
		}
	}
	if cfg.Mailbox.IMAPServer == "" {
		if val := os.Getenv("VERIFICATION_IMAP_SERVER"); val != "" {
			cfg.Mailbox.IMAPServer = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Session defaults: serial by default, conservative pacing
	if cfg.Session.MaxApplications == 0 {
		cfg.Session.MaxApplications = 25
	}
	if cfg.Session.Concurrency == 0 {
		cfg.Session.Concurrency = 1
	}
	if cfg.Session.MinDelay == 0 {
		cfg.Session.MinDelay = 2000
	}
	if cfg.Session.MaxDelay < cfg.Session.MinDelay {
		cfg.Session.MaxDelay = cfg.Session.MinDelay + 3000
	}
	if cfg.Session.SubmitMaxRetries == 0 {
		cfg.Session.SubmitMaxRetries = 3
	}
	if cfg.Session.BackoffInitial == 0 {
		cfg.Session.BackoffInitial = 2000
	}
	if cfg.Session.BackoffMax == 0 {
		cfg.Session.BackoffMax = 60000
	}
	if cfg.Session.VerifyDeadline == 0 {
		cfg.Session.VerifyDeadline = 300000 // five minutes, per platform mail latency
	}
	if cfg.Session.VerifyPollEvery == 0 {
		cfg.Session.VerifyPollEvery = 30000
	}
	if cfg.Session.VerifyMailboxCap == 0 {
		cfg.Session.VerifyMailboxCap = 5
	}

	// Pool defaults
	if cfg.Pool.CooldownBase == 0 {
		cfg.Pool.CooldownBase = 300000 // five minutes
	}
	if cfg.Pool.CooldownMax == 0 {
		cfg.Pool.CooldownMax = 3600000
	}
	if cfg.Pool.FailureThreshold == 0 {
		cfg.Pool.FailureThreshold = 3
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 120000
	}

	// Platform defaults
	for key, platform := range cfg.Platforms {
		if platform.MaxApplications == 0 {
			platform.MaxApplications = 5
		}
		if platform.RatePerMinute == 0 {
			platform.RatePerMinute = 2
		}
		cfg.Platforms[key] = platform
	}

	if cfg.Mailbox.IMAPPort == 0 {
		cfg.Mailbox.IMAPPort = 993
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9091"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if len(cfg.Identities) == 0 {
		return fmt.Errorf("at least one identity is required")
	}
	for i, id := range cfg.Identities {
		if id.Name == "" {
			return fmt.Errorf("identities[%d].name is required", i)
		}
	}

	enabled := 0
	for name, platform := range cfg.Platforms {
		if !platform.Enabled {
			continue
		}
		enabled++
		if platform.Email == "" || platform.Password == "" {
			return fmt.Errorf("platform %s is enabled but has no credentials", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no platform is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
