package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEWS_CURATOR_CONFIG", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg := Load()
	if cfg.Publisher.PollIntervalSeconds != 10 || cfg.Publisher.MaxAttempts != 3 {
		t.Fatalf("unexpected publisher defaults: %+v", cfg.Publisher)
	}
	if cfg.Fingerprint.SimilarityThreshold != 0.9 {
		t.Fatalf("unexpected fingerprint defaults: %+v", cfg.Fingerprint)
	}
	if cfg.Scan.Location() == nil {
		t.Fatal("scan location must resolve")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
database:
  dsn: postgres://file-dsn
publisher:
  maxAttempts: 5
telegram:
  botToken: file-token
  workChatId: -100123
sites:
  - name: example
    scanner: listing
    sections:
      - name: tech
        url: https://news.example.com/tech
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("NEWS_CURATOR_CONFIG", path)
	t.Setenv("DATABASE_DSN", "postgres://env-dsn")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHANNEL_CHAT_ID", "-100456")

	cfg := Load()
	if cfg.Database.DSN != "postgres://env-dsn" {
		t.Fatalf("env must override file, got %s", cfg.Database.DSN)
	}
	if cfg.Publisher.MaxAttempts != 5 {
		t.Fatalf("file override lost: %+v", cfg.Publisher)
	}
	if cfg.Publisher.PollIntervalSeconds != 10 {
		t.Fatalf("unset file fields must keep defaults: %+v", cfg.Publisher)
	}
	if cfg.Telegram.BotToken != "file-token" || cfg.Telegram.WorkChatID != -100123 {
		t.Fatalf("telegram file config lost: %+v", cfg.Telegram)
	}
	if cfg.Telegram.ChannelChatID != -100456 {
		t.Fatalf("channel chat env override lost: %+v", cfg.Telegram)
	}
	if len(cfg.Sites) != 1 || cfg.Sites[0].Sections[0].URL != "https://news.example.com/tech" {
		t.Fatalf("sites not loaded: %+v", cfg.Sites)
	}
}
