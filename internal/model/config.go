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

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// MailConfig controls how outgoing messages are rendered and stored.
type MailConfig struct {
	// UseLocalTime renders the Date header in local time instead of UTC.
	UseLocalTime bool `mapstructure:"use_local_time" yaml:"use_local_time"`

	// Hostname is the domain part of generated Message-IDs. Empty means
	// the host name reported by the OS.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// RetainPlaintext keeps the plaintext body next to the encrypted
	// message in the database.
	RetainPlaintext bool `mapstructure:"retain_plaintext" yaml:"retain_plaintext"`
}

// SMTPConfig holds the submission server settings. The password is read
// from the keyring.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port" validate:"omitempty,numeric"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// IMAPConfig holds the mailbox settings used by fetch. The password is
// read from the keyring.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port" validate:"omitempty,numeric"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox  string `mapstructure:"mailbox" yaml:"mailbox"`
}

// KeyringConfig selects where secret keys and passwords are kept.
type KeyringConfig struct {
	Service string `mapstructure:"service" yaml:"service" validate:"required"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=logfmt json"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	SMTP     SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Keyring  KeyringConfig  `mapstructure:"keyring" yaml:"keyring"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/acmail/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "acmail")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{
			Path: filepath.Join(configDir(), "acmail.db"),
		},
		SMTP: SMTPConfig{Port: "587"},
		IMAP: IMAPConfig{Port: "993", TLS: true, Mailbox: "INBOX"},
		Keyring: KeyringConfig{
			Service: "acmail",
			FileDir: filepath.Join(configDir(), "keys"),
		},
		Log: LogConfig{Level: "info", Format: "logfmt"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with ACMAIL_ override file values
// (ACMAIL_MAIL_USE_LOCAL_TIME=true). If the file does not exist, the
// defaults are used.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("acmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values. Every key
	// needs a default for AutomaticEnv to see it during Unmarshal.
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("mail.use_local_time", false)
	v.SetDefault("mail.hostname", "")
	v.SetDefault("mail.retain_plaintext", false)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", def.SMTP.Port)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.tls", false)
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", def.IMAP.Port)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.tls", def.IMAP.TLS)
	v.SetDefault("imap.mailbox", def.IMAP.Mailbox)
	v.SetDefault("keyring.service", def.Keyring.Service)
	v.SetDefault("keyring.file_dir", def.Keyring.FileDir)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

var configValidator = validator.New()

// Validate checks field constraints declared in struct tags.
func (c *AppConfig) Validate() error {
	return configValidator.Struct(c)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("mail", cfg.Mail)
	v.Set("smtp", cfg.SMTP)
	v.Set("imap", cfg.IMAP)
	v.Set("keyring", cfg.Keyring)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
