package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "993", cfg.IMAP.Port)
	assert.True(t, cfg.IMAP.TLS)
	assert.Equal(t, 300, cfg.IMAP.StaleAfterSec)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NotEmpty(t, cfg.Storage.Path)
	assert.Empty(t, cfg.Watch.Folders)
	assert.Equal(t, 120, cfg.Watch.IntervalSec)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
imap:
  host: imap.example.com
  port: "143"
  tls: false
account:
  username: me@example.com
  display_name: Me
`), 0o600))
	t.Setenv("EMAIL_MCP_SMTP_HOST", "smtp.example.com")
	t.Setenv("EMAIL_MCP_ACCOUNT_PASSWORD", "from-env")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", cfg.IMAP.Host)
	assert.Equal(t, "143", cfg.IMAP.Port)
	assert.False(t, cfg.IMAP.TLS)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, "from-env", cfg.Account.Password)
	assert.Equal(t, "me@example.com", cfg.FromAddress())
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsFields(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	err = cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AppConfig.IMAP.Host")
	assert.Contains(t, err.Error(), "AppConfig.Account.Username")
}

func TestSaveConfigOmitsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.IMAP.Host = "imap.example.com"
	cfg.Account.Username = "me@example.com"
	cfg.Account.Password = "hunter2"
	cfg.Export.S3.SecretAccessKey = "s3-secret"

	require.NoError(t, SaveConfig(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "s3-secret")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", loaded.IMAP.Host)
	assert.Equal(t, "me@example.com", loaded.Account.Username)
}
