package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func validConfig() string {
	return `
[database]
host = "localhost"
name = "mailsummary"
user = "mailsummary"

[imap]
address = "mail.example.com:993"
username = "jo@example.com"
password = "secret"
`
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, validConfig())

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "mail.example.com:993", cfg.IMAP.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig()))
	require.NoError(t, err)

	timeout, err := cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	interval, err := cfg.Engine.GetInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, interval)

	assert.Equal(t, 1, cfg.Engine.GetWorkers())
	assert.Equal(t, "INBOX", cfg.IMAP.GetMailbox())
	assert.Equal(t, "Archive", cfg.IMAP.GetArchiveBox())
	assert.Equal(t, "127.0.0.1:8680", cfg.HTTPAPI.GetAddr())

	maxAge, err := cfg.Cache.GetMaxAge()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, maxAge)
}

func TestValidateRejectsMissingDatabase(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestValidateAPIKeyRequiredWhenEnabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig()+`
[http_api]
enabled = true
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_api.api_key")
}

func TestValidateSMTPNotifierNeedsAddressing(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig()+`
[notifier]
backend = "smtp"
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifier.smtp_address")
}

func TestValidateUnknownNotifierBackend(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig()+`
[notifier]
backend = "carrier-pigeon"
`))
	require.NoError(t, err)

	assert.Error(t, cfg.Validate())
}

func TestDayDurationsAccepted(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig()+`
[cache]
path = "/var/lib/mailsummary"
max_age = "14d"
`))
	require.NoError(t, err)

	maxAge, err := cfg.Cache.GetMaxAge()
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, maxAge)
}
