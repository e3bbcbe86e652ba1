package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration: a JSON file layered with
// POLYBOT_* environment overrides. Unknown JSON fields are rejected so
// typos fail loudly instead of silently disabling an adapter.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	BotAPI   BotAPIConfig   `json:"botapi"`
	Discord  DiscordConfig  `json:"discord"`
	Download DownloadConfig `json:"download"`
	Awaiting AwaitingConfig `json:"awaiting"`
	Logging  LoggingConfig  `json:"logging"`
}

// TelegramConfig drives the MTProto adapter.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" env:"POLYBOT_TELEGRAM_ENABLED"`
	APIID       int    `json:"api_id" env:"POLYBOT_TELEGRAM_API_ID"`
	APIHash     string `json:"api_hash" env:"POLYBOT_TELEGRAM_API_HASH"`
	BotToken    string `json:"bot_token" env:"POLYBOT_TELEGRAM_BOT_TOKEN"`
	SessionFile string `json:"session_file" env:"POLYBOT_TELEGRAM_SESSION_FILE"`
}

// BotAPIConfig drives the Telegram Bot API adapter.
type BotAPIConfig struct {
	Enabled bool   `json:"enabled" env:"POLYBOT_BOTAPI_ENABLED"`
	Token   string `json:"token" env:"POLYBOT_BOTAPI_TOKEN"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" env:"POLYBOT_DISCORD_ENABLED"`
	Token   string `json:"token" env:"POLYBOT_DISCORD_TOKEN"`
}

type DownloadConfig struct {
	Dir string `json:"dir" env:"POLYBOT_DOWNLOAD_DIR"`
}

type AwaitingConfig struct {
	TTLSeconds int `json:"ttl_seconds" env:"POLYBOT_AWAITING_TTL_SECONDS"`
	MaxEntries int `json:"max_entries" env:"POLYBOT_AWAITING_MAX_ENTRIES"`
}

type LoggingConfig struct {
	Enabled       bool   `json:"enabled" env:"POLYBOT_LOGGING_ENABLED"`
	Dir           string `json:"dir" env:"POLYBOT_LOGGING_DIR"`
	Filename      string `json:"filename" env:"POLYBOT_LOGGING_FILENAME"`
	MaxSizeMB     int    `json:"max_size_mb" env:"POLYBOT_LOGGING_MAX_SIZE_MB"`
	RetentionDays int    `json:"retention_days" env:"POLYBOT_LOGGING_RETENTION_DAYS"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			SessionFile: "polybot.session",
		},
		Download: DownloadConfig{
			Dir: "downloads",
		},
		Awaiting: AwaitingConfig{
			TTLSeconds: 600,
			MaxEntries: 1024,
		},
		Logging: LoggingConfig{
			Enabled:       true,
			Dir:           "logs",
			Filename:      "polybot.log",
			MaxSizeMB:     20,
			RetentionDays: 3,
		},
	}
}

// LoadConfig reads path (missing file means defaults), then applies
// environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := unmarshalStrict(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalStrict(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing JSON content")
		}
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.Telegram.Enabled {
		if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
			return fmt.Errorf("telegram adapter enabled without api_id/api_hash")
		}
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram adapter enabled without bot_token")
		}
	}
	if c.BotAPI.Enabled && c.BotAPI.Token == "" {
		return fmt.Errorf("botapi adapter enabled without token")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord adapter enabled without token")
	}
	return nil
}

func (c *Config) LogFilePath() string {
	filename := c.Logging.Filename
	if filename == "" {
		filename = "polybot.log"
	}
	return filepath.Join(c.Logging.Dir, filename)
}
