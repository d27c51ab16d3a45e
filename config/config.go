// Package config loads runtime settings for the quest engine from .env and the environment.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DailyLimits caps how many times an action counts toward today's record.
// Zero means uncapped.
type DailyLimits struct {
	UpvotesPerDay        int `mapstructure:"upvotes_per_day"`
	CommentsPerDay       int `mapstructure:"comments_per_day"`
	EmojiReactionsPerDay int `mapstructure:"emoji_reactions_per_day"`
}

// QuestConfig holds the daily goal and its reward.
type QuestConfig struct {
	UpvoteGoal   int         `mapstructure:"upvote_goal"`
	CommentGoal  int         `mapstructure:"comment_goal"`
	RewardPoints int64       `mapstructure:"reward_points"`
	Timezone     string      `mapstructure:"timezone"`
	ResetAt      string      `mapstructure:"reset_at"` // HH:MM in Timezone
	Limits       DailyLimits `mapstructure:"limits"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

type R2Config struct {
	AccountID       string `mapstructure:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	CDNBaseURL      string `mapstructure:"cdn_base_url"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type SyncConfig struct {
	ServiceURL   string        `mapstructure:"service_url"`
	EndpointPath string        `mapstructure:"endpoint_path"`
	Interval     time.Duration `mapstructure:"interval"`
}

type Config struct {
	Port           string        `mapstructure:"port"`
	DatabaseURL    string        `mapstructure:"database_url"`
	ServiceToken   string        `mapstructure:"service_token"`
	AllowedOrigins string        `mapstructure:"allowed_origins"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	ResetTimeout   time.Duration `mapstructure:"reset_timeout"`

	// Collaborator-owned tables the lifetime badge counts are read from.
	UpvotesTable  string `mapstructure:"upvotes_table"`
	CommentsTable string `mapstructure:"comments_table"`

	Quest  QuestConfig  `mapstructure:"quest"`
	Log    LogConfig    `mapstructure:"log"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	R2     R2Config     `mapstructure:"r2"`
	Outbox OutboxConfig `mapstructure:"outbox"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

// Load reads .env (if present), applies defaults and environment overrides.
// Nested keys map to env vars with underscores, e.g. quest.limits.upvotes_per_day
// is QUEST_LIMITS_UPVOTES_PER_DAY.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.ServiceToken == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN environment variable not set")
	}
	if _, err := cfg.Quest.Location(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.Quest.ResetClock(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only resolves keys viper already knows about, so every key gets a default.
	v.SetDefault("port", "5200")
	v.SetDefault("database_url", "")
	v.SetDefault("service_token", "")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("store_timeout", 3*time.Second)
	v.SetDefault("reset_timeout", 5*time.Minute)
	v.SetDefault("upvotes_table", "upvotes")
	v.SetDefault("comments_table", "comments")

	v.SetDefault("quest.upvote_goal", 2)
	v.SetDefault("quest.comment_goal", 3)
	v.SetDefault("quest.reward_points", 5)
	v.SetDefault("quest.timezone", "UTC")
	v.SetDefault("quest.reset_at", "00:00")
	v.SetDefault("quest.limits.upvotes_per_day", 5)
	v.SetDefault("quest.limits.comments_per_day", 0)
	v.SetDefault("quest.limits.emoji_reactions_per_day", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "engagement.notifications")

	v.SetDefault("r2.account_id", "")
	v.SetDefault("r2.access_key_id", "")
	v.SetDefault("r2.access_key_secret", "")
	v.SetDefault("r2.bucket", "")
	v.SetDefault("r2.cdn_base_url", "")

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 10)

	v.SetDefault("sync.service_url", "")
	v.SetDefault("sync.endpoint_path", "/api/v1/public/profiles")
	v.SetDefault("sync.interval", time.Minute)
}

// Location resolves the quest timezone every day marker is computed in.
func (q QuestConfig) Location() (*time.Location, error) {
	name := q.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid QUEST_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// ResetClock parses ResetAt ("HH:MM").
func (q QuestConfig) ResetClock() (hour, minute uint, err error) {
	at := q.ResetAt
	if at == "" {
		at = "00:00"
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid QUEST_RESET_AT %q: %w", at, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// KafkaBrokers splits the comma-separated broker list.
func (c *Config) KafkaBrokers() []string {
	return splitAndTrim(c.Kafka.Brokers)
}

// Origins normalises the comma-separated CORS origins for fiber.
func (c *Config) Origins() string {
	return strings.Join(splitAndTrim(c.AllowedOrigins), ",")
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
