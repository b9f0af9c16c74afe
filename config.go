// config.go
package calendarassistant

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration, loaded from YAML.
// Secrets may also come from the environment; env values win so tokens
// stay out of config files.
type Config struct {
	// Listen is the HTTP listen address for the API and webhook.
	Listen string `yaml:"listen" json:"listen"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Timezone is the default IANA zone for new users (e.g. "Europe/Madrid").
	Timezone string `yaml:"timezone" json:"timezone"`

	// TelegramBotToken enables the bot client; empty disables Telegram delivery.
	TelegramBotToken string `yaml:"telegram_bot_token" json:"-"`

	// Proposer settings for the OpenAI-compatible endpoint.
	ProposerEndpoint string `yaml:"proposer_endpoint" json:"proposer_endpoint"`
	ProposerAPIKey   string `yaml:"proposer_api_key" json:"-"`
	ProposerModel    string `yaml:"proposer_model" json:"proposer_model"`

	// ReminderCron is the dispatcher schedule (cron syntax).
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// Debug widens error replies with detail; never enable in production.
	Debug bool `yaml:"debug" json:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		DBPath:           "calendar.db",
		Timezone:         "UTC",
		ProposerEndpoint: "https://api.openai.com/v1",
		ProposerModel:    "gpt-4o-mini",
		ReminderCron:     "* * * * *",
	}
}

// Normalize fills missing values with defaults so partially-filled
// configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.DBPath == "" {
		c.DBPath = "calendar.db"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.ProposerEndpoint == "" {
		c.ProposerEndpoint = "https://api.openai.com/v1"
	}
	if c.ProposerModel == "" {
		c.ProposerModel = "gpt-4o-mini"
	}
	if c.ReminderCron == "" {
		c.ReminderCron = "* * * * *"
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := os.Getenv("PROPOSER_API_KEY"); v != "" {
		c.ProposerAPIKey = v
	}
}

// LoadConfig loads configuration from the given YAML path. A missing
// file is first-run: a default config is written with 0600 perms and
// returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := SaveConfig(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// SaveConfig writes the configuration atomically: temp file in the same
// directory, chmod 0600, rename over the target.
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calendar-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
