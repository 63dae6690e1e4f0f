// internal/common/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
app:
  name: jobpilot
  version: 1.0.0
  environment: test

database:
  postgres:
    host: localhost
    port: 5432
    database: jobpilot
    user: jobpilot
    password: secret
  redis:
    address: localhost:6379

session:
  max_applications: 10
  concurrency: 2

platforms:
  greenhouse:
    enabled: true
    email: apply@example.com
    password: hunter2
    board: examplecorp
    max_applications: 3
    rate_per_minute: 1.5

identities:
  - name: residential-1
    proxy_url: http://proxy-1.example.com:8080
    user_agent: Mozilla/5.0
  - name: residential-2

mailbox:
  address: verify@example.com
  password: hunter2
  imap_server: imap.example.com
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "jobpilot", cfg.App.Name)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 10, cfg.Session.MaxApplications)
	assert.Equal(t, 2, cfg.Session.Concurrency)

	gh := cfg.Platforms["greenhouse"]
	assert.True(t, gh.Enabled)
	assert.Equal(t, "examplecorp", gh.Board)
	assert.Equal(t, 3, gh.MaxApplications)
	assert.Equal(t, 1.5, gh.RatePerMinute)

	require.Len(t, cfg.Identities, 2)
	assert.Equal(t, "residential-1", cfg.Identities[0].Name)
	assert.Equal(t, "imap.example.com", cfg.Mailbox.IMAPServer)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.SubmitMaxRetries)
	assert.Equal(t, 2000, cfg.Session.BackoffInitial)
	assert.Equal(t, 300000, cfg.Session.VerifyDeadline)
	assert.Equal(t, 5, cfg.Session.VerifyMailboxCap)
	assert.Equal(t, 300000, cfg.Pool.CooldownBase)
	assert.Equal(t, 3, cfg.Pool.FailureThreshold)
	assert.Equal(t, 993, cfg.Mailbox.IMAPPort)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9091", cfg.Metrics.Address)
	assert.GreaterOrEqual(t, cfg.Session.MaxDelay, cfg.Session.MinDelay)
}

func TestLoadFromFileEnvOverride(t *testing.T) {
	t.Setenv("GREENHOUSE_PASSWORD", "from-env")

	yaml := `
database:
  postgres:
    host: localhost
    database: jobpilot
    user: jobpilot
  redis:
    address: localhost:6379
platforms:
  greenhouse:
    enabled: true
    email: apply@example.com
identities:
  - name: solo
`
	cfg, err := LoadFromFile(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Platforms["greenhouse"].Password)
}

func TestLoadFromFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing postgres host",
			yaml: `
database:
  postgres:
    database: jobpilot
    user: jobpilot
  redis:
    address: localhost:6379
platforms:
  greenhouse: {enabled: true, email: a@b.c, password: x}
identities:
  - name: solo
`,
			wantErr: "database.postgres.host is required",
		},
		{
			name: "no identities",
			yaml: `
database:
  postgres: {host: localhost, database: jobpilot, user: jobpilot}
  redis: {address: localhost:6379}
platforms:
  greenhouse: {enabled: true, email: a@b.c, password: x}
`,
			wantErr: "at least one identity is required",
		},
		{
			name: "no enabled platform",
			yaml: `
database:
  postgres: {host: localhost, database: jobpilot, user: jobpilot}
  redis: {address: localhost:6379}
platforms:
  greenhouse: {enabled: false}
identities:
  - name: solo
`,
			wantErr: "no platform is enabled",
		},
		{
			name: "enabled platform without credentials",
			yaml: `
database:
  postgres: {host: localhost, database: jobpilot, user: jobpilot}
  redis: {address: localhost:6379}
platforms:
  greenhouse: {enabled: true}
identities:
  - name: solo
`,
			wantErr: "has no credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, GetDuration(2000))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
