package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. EMAIL_MCP_IMAP_HOST.
const EnvPrefix = "EMAIL_MCP"

// IMAPConfig holds the incoming mail server settings.
type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host" validate:"required,hostname|ip"`
	Port string `mapstructure:"port" yaml:"port" validate:"required,numeric"`

	// TLS selects implicit TLS (993); false means STARTTLS (143).
	TLS bool `mapstructure:"tls" yaml:"tls"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gte=1"`

	// StaleAfterSec is the idle time after which the connection is
	// probed with NOOP before reuse.
	StaleAfterSec int `mapstructure:"stale_after_sec" yaml:"stale_after_sec" validate:"gte=0"`
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host       string `mapstructure:"host" yaml:"host" validate:"required,hostname|ip"`
	Port       string `mapstructure:"port" yaml:"port" validate:"required,numeric"`
	TLS        bool   `mapstructure:"tls" yaml:"tls"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gte=1"`
}

// AccountConfig identifies the mailbox owner.
type AccountConfig struct {
	Username string `mapstructure:"username" yaml:"username" validate:"required"`

	// Password may be left empty, in which case it is read from the
	// system keyring.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// Email is the From address; it defaults to Username.
	Email       string `mapstructure:"email" yaml:"email" validate:"omitempty,email"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
}

// ServerConfig holds the tool HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
}

// StorageConfig locates the local SQLite database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// S3Config holds the object storage settings for exports.
type S3Config struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// ExportConfig holds export destinations.
type ExportConfig struct {
	Dir string   `mapstructure:"dir" yaml:"dir" validate:"required"`
	S3  S3Config `mapstructure:"s3" yaml:"s3"`
}

// WatchConfig lists folders polled in the background for new messages.
type WatchConfig struct {
	Folders     []string `mapstructure:"folders" yaml:"folders"`
	IntervalSec int      `mapstructure:"interval_sec" yaml:"interval_sec" validate:"gte=0"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
	Output string `mapstructure:"output" yaml:"output"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	SMTP    SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`
	Account AccountConfig `mapstructure:"account" yaml:"account"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// FromAddress returns the address used in From headers.
func (c *AppConfig) FromAddress() string {
	if c.Account.Email != "" {
		return c.Account.Email
	}
	return c.Account.Username
}

// configDir returns ~/.config/email-mcp, or the working directory when the
// home directory is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "email-mcp")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/email-mcp/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

var defaults = map[string]any{
	"imap.host":                   "",
	"imap.port":                   "993",
	"imap.tls":                    true,
	"imap.timeout_sec":            30,
	"imap.stale_after_sec":        300,
	"smtp.host":                   "",
	"smtp.port":                   "465",
	"smtp.tls":                    true,
	"smtp.timeout_sec":            30,
	"account.username":            "",
	"account.password":            "",
	"account.email":               "",
	"account.display_name":        "",
	"server.addr":                 "127.0.0.1:8765",
	"storage.path":                "",
	"export.dir":                  "",
	"export.s3.region":            "us-east-1",
	"export.s3.bucket":            "",
	"export.s3.endpoint":          "",
	"export.s3.access_key_id":     "",
	"export.s3.secret_access_key": "",
	"export.s3.use_path_style":    false,
	"watch.folders":               []string{},
	"watch.interval_sec":          120,
	"log.level":                   "info",
	"log.format":                  "json",
	"log.output":                  "stderr",
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("storage.path", filepath.Join(configDir(), "email-mcp.db"))
	v.SetDefault("export.dir", filepath.Join(configDir(), "exports"))

	// Every key has a default, so AutomaticEnv covers all of them.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying EMAIL_MCP_* environment overrides. A missing file yields the
// defaults plus the environment. The result is not validated; call
// Validate once credentials have been resolved.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Passwords are never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	account := cfg.Account
	account.Password = ""
	s3 := cfg.Export.S3
	s3.SecretAccessKey = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("account", account)
	v.Set("server", cfg.Server)
	v.Set("storage", cfg.Storage)
	v.Set("export", ExportConfig{Dir: cfg.Export.Dir, S3: s3})
	v.Set("watch", cfg.Watch)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
