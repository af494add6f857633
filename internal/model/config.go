package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailboxConfig holds the connection and delivery settings for a single
// monitored mailbox.
type MailboxConfig struct {
	// ID is the unique identifier for this mailbox; all durable state
	// (checkpoint, fingerprints) is partitioned by it.
	ID string `mapstructure:"id" yaml:"id"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// Username authenticates the IMAP session. The password comes from
	// the AUTOMAIL_PASSWORD_<ID> environment variable or, if PasswordKey
	// is set, from the system keyring under that key.
	Username    string `mapstructure:"username" yaml:"username"`
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`

	// TLS selects implicit TLS; when false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folder is the mailbox folder to monitor.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// ChatID is the Telegram chat that receives notifications for
	// this mailbox.
	ChatID string `mapstructure:"chat_id" yaml:"chat_id"`

	// Enabled controls whether this mailbox is actively polled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to run a cycle.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// TelegramConfig holds settings for the Telegram notification sink.
type TelegramConfig struct {
	// BotToken is the bot API token. Leave empty and set BotTokenKey to
	// read it from the system keyring instead.
	BotToken    string `mapstructure:"bot_token" yaml:"bot_token"`
	BotTokenKey string `mapstructure:"bot_token_key" yaml:"bot_token_key"`

	// MessageLimit is the hard character limit applied to a formatted
	// notification. Telegram rejects messages above 4096.
	MessageLimit int `mapstructure:"message_limit" yaml:"message_limit"`

	// AttachmentDelaySec is the minimum spacing between attachment
	// sends for one message.
	AttachmentDelaySec int `mapstructure:"attachment_delay_sec" yaml:"attachment_delay_sec"`

	// MaxSendAttempts bounds retries when the API rate-limits a send.
	MaxSendAttempts int `mapstructure:"max_send_attempts" yaml:"max_send_attempts"`
}

// StorageConfig locates the SQLite database holding checkpoints,
// fingerprints, and the delivery log.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailboxes []MailboxConfig `mapstructure:"mailboxes" yaml:"mailboxes"`
	Telegram  TelegramConfig  `mapstructure:"telegram" yaml:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/automail/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "automail", "config.yaml")
}

// defaultStoragePath returns the default SQLite database location.
func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "automail.db")
	}
	return filepath.Join(home, ".config", "automail", "automail.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailboxes: []MailboxConfig{},
		Telegram: TelegramConfig{
			MessageLimit:       4096,
			AttachmentDelaySec: 2,
			MaxSendAttempts:    5,
		},
		Storage: StorageConfig{Path: defaultStoragePath()},
		Log:     LogConfig{Level: "info"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("telegram.message_limit", 4096)
	v.SetDefault("telegram.attachment_delay_sec", 2)
	v.SetDefault("telegram.max_send_attempts", 5)
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each mailbox entry.
	for i := range cfg.Mailboxes {
		if cfg.Mailboxes[i].PollIntervalSec == 0 {
			cfg.Mailboxes[i].PollIntervalSec = 120
		}
		if cfg.Mailboxes[i].Folder == "" {
			cfg.Mailboxes[i].Folder = "INBOX"
		}
		if cfg.Mailboxes[i].Port == "" {
			cfg.Mailboxes[i].Port = "993"
			// Default to implicit TLS only when the key is absent; an
			// explicit tls: false means STARTTLS on the default port.
			if !v.IsSet(fmt.Sprintf("mailboxes.%d.tls", i)) {
				cfg.Mailboxes[i].TLS = true
			}
		}
		if !cfg.Mailboxes[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("mailboxes.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Mailboxes[i].Enabled = true
			}
		}
	}

	return cfg, nil
}

// Validate reports configuration problems that would make a mailbox
// unmonitorable.
func (c *AppConfig) Validate() error {
	seen := make(map[string]bool, len(c.Mailboxes))
	for _, mb := range c.Mailboxes {
		if mb.ID == "" {
			return fmt.Errorf("mailbox entry missing id")
		}
		if seen[mb.ID] {
			return fmt.Errorf("duplicate mailbox id %q", mb.ID)
		}
		seen[mb.ID] = true
		if mb.Host == "" {
			return fmt.Errorf("mailbox %s: missing host", mb.ID)
		}
		if mb.Username == "" {
			return fmt.Errorf("mailbox %s: missing username", mb.ID)
		}
		if mb.ChatID == "" {
			return fmt.Errorf("mailbox %s: missing chat_id", mb.ID)
		}
	}
	return nil
}
