package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflowai/caseflow/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultStoreDriver, cfg.Store.Driver)
	assert.Equal(t, config.DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, "generic", cfg.Mail.Adapter)
	assert.Equal(t, 587, cfg.Mail.Generic.SMTPPort)
	assert.Equal(t, "starttls", cfg.Mail.Generic.SMTPSecurity)
	assert.Equal(t, config.DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, time.Minute, cfg.Orchestrator.PollInterval())
	assert.Equal(t, 5, cfg.Orchestrator.MaxPerPoll)
}

func TestLoadOverridesFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
addr = ":9090"

[auth]
jwt_secret = "s3cret"

[store]
driver = "postgres"

[postgres]
host = "db.internal"
port = 5433
user = "caseflow"
password = "pw"
database = "cases"

[mail]
adapter = "mailgun"

[mail.mailgun]
domain = "mg.example.com"
api_key = "key-abc"
region = "eu"

[llm]
model = "gpt-4o"
timeout_seconds = 10

[orchestrator]
poll_interval_seconds = 15
max_per_poll = 2
allowlist = ["jane@acme.com", "hr@acme.com"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://caseflow:pw@db.internal:5433/cases?sslmode=disable", cfg.Postgres.DSN())
	assert.Equal(t, "mailgun", cfg.Mail.Adapter)
	assert.Equal(t, "mg.example.com", cfg.Mail.Mailgun.Domain)
	assert.Equal(t, "eu", cfg.Mail.Mailgun.Region)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.PollInterval())
	assert.Equal(t, []string{"jane@acme.com", "hr@acme.com"}, cfg.Orchestrator.Allowlist)

	// Untouched sections keep their defaults.
	assert.Equal(t, config.DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, 993, cfg.Mail.Generic.IMAPPort)
}

func TestLoadUnreadableTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("addr = [broken"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
