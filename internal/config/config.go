package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "NEWS_CURATOR_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	workChatIDEnv    = "TELEGRAM_WORK_CHAT_ID"
	channelChatIDEnv = "TELEGRAM_CHANNEL_CHAT_ID"
	enrichmentKeyEnv = "ENRICHMENT_API_KEY"
	openAIKeyEnv     = "OPENAI_API_KEY"
	opsListenAddrEnv = "OPS_LISTEN_ADDR"
	logLevelEnv      = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Scan        ScanConfig        `yaml:"scan"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	EditSession EditSessionConfig `yaml:"editSession"`
	Ops         OpsConfig         `yaml:"ops"`
	Sites       []SiteConfig      `yaml:"sites"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// PublisherConfig tunes the publication scheduler loop. Durations are in
// seconds.
type PublisherConfig struct {
	PollIntervalSeconds int `yaml:"pollIntervalSeconds"`
	BatchSize           int `yaml:"batchSize"`
	MaxAttempts         int `yaml:"maxAttempts"`
	BackoffBaseSeconds  int `yaml:"backoffBaseSeconds"`
	BackoffCapSeconds   int `yaml:"backoffCapSeconds"`
	RecoverAfterSeconds int `yaml:"recoverAfterSeconds"`
}

// ScanConfig defines when ingestion scans run.
type ScanConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStart     bool           `yaml:"runOnStart"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scan timezone string to a time.Location.
func (s ScanConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// TelegramConfig wires the bot, the moderation work chat and the channel.
// Topics maps a draft state name to the forum topic mirroring it.
type TelegramConfig struct {
	BotToken      string           `yaml:"botToken"`
	WorkChatID    int64            `yaml:"workChatId"`
	ChannelChatID int64            `yaml:"channelChatId"`
	Topics        map[string]int64 `yaml:"topics"`
}

// EnrichmentConfig selects and configures the summarization backend.
type EnrichmentConfig struct {
	// Provider is "service", "openai" or "" (enrichment disabled).
	Provider   string       `yaml:"provider"`
	ServiceURL string       `yaml:"serviceUrl"`
	APIKey     string       `yaml:"apiKey"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig defines how to contact a chat-completions API.
type OpenAIConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// FingerprintConfig tunes duplicate detection.
type FingerprintConfig struct {
	Dimensions          int     `yaml:"dimensions"`
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	SoftDupWindowHours  int     `yaml:"softDupWindowHours"`
	SoftDupLimit        int     `yaml:"softDupLimit"`
}

// EditSessionConfig tunes operator edit sessions.
type EditSessionConfig struct {
	TTLMinutes int `yaml:"ttlMinutes"`
}

// OpsConfig configures the operational HTTP API.
type OpsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name     string            `yaml:"name"`
	Scanner  string            `yaml:"scanner"`
	Sections []SectionConfig   `yaml:"sections"`
	Options  map[string]string `yaml:"options"`
}

// SectionConfig holds the concrete listing endpoints to crawl.
type SectionConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v, ok := envInt64(workChatIDEnv); ok {
		c.Telegram.WorkChatID = v
	}
	if v, ok := envInt64(channelChatIDEnv); ok {
		c.Telegram.ChannelChatID = v
	}

	if v := os.Getenv(enrichmentKeyEnv); v != "" {
		c.Enrichment.APIKey = v
	}
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.Enrichment.OpenAI.APIKey = v
	}

	if v := os.Getenv(opsListenAddrEnv); v != "" {
		c.Ops.ListenAddr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scan.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scan.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Publisher.PollIntervalSeconds > 0 {
		base.Publisher.PollIntervalSeconds = override.Publisher.PollIntervalSeconds
	}
	if override.Publisher.BatchSize > 0 {
		base.Publisher.BatchSize = override.Publisher.BatchSize
	}
	if override.Publisher.MaxAttempts > 0 {
		base.Publisher.MaxAttempts = override.Publisher.MaxAttempts
	}
	if override.Publisher.BackoffBaseSeconds > 0 {
		base.Publisher.BackoffBaseSeconds = override.Publisher.BackoffBaseSeconds
	}
	if override.Publisher.BackoffCapSeconds > 0 {
		base.Publisher.BackoffCapSeconds = override.Publisher.BackoffCapSeconds
	}
	if override.Publisher.RecoverAfterSeconds > 0 {
		base.Publisher.RecoverAfterSeconds = override.Publisher.RecoverAfterSeconds
	}

	if override.Scan.CronExpression != "" {
		base.Scan.CronExpression = override.Scan.CronExpression
	}
	if override.Scan.Timezone != "" {
		base.Scan.Timezone = override.Scan.Timezone
	}
	if override.Scan.RunOnStart {
		base.Scan.RunOnStart = true
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.WorkChatID != 0 {
		base.Telegram.WorkChatID = override.Telegram.WorkChatID
	}
	if override.Telegram.ChannelChatID != 0 {
		base.Telegram.ChannelChatID = override.Telegram.ChannelChatID
	}
	if len(override.Telegram.Topics) > 0 {
		base.Telegram.Topics = override.Telegram.Topics
	}

	if override.Enrichment.Provider != "" {
		base.Enrichment.Provider = override.Enrichment.Provider
	}
	if override.Enrichment.ServiceURL != "" {
		base.Enrichment.ServiceURL = override.Enrichment.ServiceURL
	}
	if override.Enrichment.APIKey != "" {
		base.Enrichment.APIKey = override.Enrichment.APIKey
	}
	if override.Enrichment.OpenAI.Endpoint != "" {
		base.Enrichment.OpenAI.Endpoint = override.Enrichment.OpenAI.Endpoint
	}
	if override.Enrichment.OpenAI.Model != "" {
		base.Enrichment.OpenAI.Model = override.Enrichment.OpenAI.Model
	}
	if override.Enrichment.OpenAI.APIKey != "" {
		base.Enrichment.OpenAI.APIKey = override.Enrichment.OpenAI.APIKey
	}
	if override.Enrichment.OpenAI.SystemPrompt != "" {
		base.Enrichment.OpenAI.SystemPrompt = override.Enrichment.OpenAI.SystemPrompt
	}

	if override.Fingerprint.Dimensions > 0 {
		base.Fingerprint.Dimensions = override.Fingerprint.Dimensions
	}
	if override.Fingerprint.SimilarityThreshold > 0 {
		base.Fingerprint.SimilarityThreshold = override.Fingerprint.SimilarityThreshold
	}
	if override.Fingerprint.SoftDupWindowHours > 0 {
		base.Fingerprint.SoftDupWindowHours = override.Fingerprint.SoftDupWindowHours
	}
	if override.Fingerprint.SoftDupLimit > 0 {
		base.Fingerprint.SoftDupLimit = override.Fingerprint.SoftDupLimit
	}

	if override.EditSession.TTLMinutes > 0 {
		base.EditSession.TTLMinutes = override.EditSession.TTLMinutes
	}
	if override.Ops.ListenAddr != "" {
		base.Ops.ListenAddr = override.Ops.ListenAddr
	}

	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{DSN: ""},
		Publisher: PublisherConfig{
			PollIntervalSeconds: 10,
			BatchSize:           20,
			MaxAttempts:         3,
			BackoffBaseSeconds:  60,
			BackoffCapSeconds:   3600,
			RecoverAfterSeconds: 300,
		},
		Scan: ScanConfig{CronExpression: "0 * * * *", Timezone: defaultTimezone, location: tz},
		Enrichment: EnrichmentConfig{
			OpenAI: OpenAIConfig{
				Endpoint:     "https://api.openai.com/v1/chat/completions",
				Model:        "gpt-4o-mini",
				SystemPrompt: "",
			},
		},
		Fingerprint: FingerprintConfig{
			Dimensions:          64,
			SimilarityThreshold: 0.9,
			SoftDupWindowHours:  168,
			SoftDupLimit:        500,
		},
		EditSession: EditSessionConfig{TTLMinutes: 10},
		Ops:         OpsConfig{ListenAddr: ":8080"},
	}
}

func envInt64(key string) (int64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("config: %s is not an integer: %v", key, err)
		return 0, false
	}
	return v, true
}
