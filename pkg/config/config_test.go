package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing config file must not be an error: %v", err)
	}
	if cfg.Awaiting.TTLSeconds != 600 || cfg.Awaiting.MaxEntries != 1024 {
		t.Fatalf("unexpected awaiting defaults: %+v", cfg.Awaiting)
	}
	if cfg.Download.Dir != "downloads" {
		t.Fatalf("unexpected download default: %q", cfg.Download.Dir)
	}
	if cfg.Telegram.SessionFile != "polybot.session" {
		t.Fatalf("unexpected session file default: %q", cfg.Telegram.SessionFile)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"telegramm": {"enabled": true}}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("unknown field must be rejected")
	}
}

func TestLoadConfigRejectsTrailingContent(t *testing.T) {
	path := writeConfig(t, `{} {"extra": 1}`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing-content error, got %v", err)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"download": {"dir": "from-file"}}`)
	t.Setenv("POLYBOT_DOWNLOAD_DIR", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Download.Dir != "from-env" {
		t.Fatalf("environment must win over file, got %q", cfg.Download.Dir)
	}
}

func TestValidateEnabledAdapterNeedsCredentials(t *testing.T) {
	path := writeConfig(t, `{"discord": {"enabled": true}}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("discord enabled without token must fail validation")
	}

	path = writeConfig(t, `{"telegram": {"enabled": true, "api_id": 1, "api_hash": "h"}}`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("telegram enabled without bot token must fail validation, got %v", err)
	}
}

func TestLogFilePath(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.LogFilePath(); got != filepath.Join("logs", "polybot.log") {
		t.Fatalf("unexpected log path: %q", got)
	}
	cfg.Logging.Filename = ""
	if got := cfg.LogFilePath(); got != filepath.Join("logs", "polybot.log") {
		t.Fatalf("empty filename must fall back to default, got %q", got)
	}
}
