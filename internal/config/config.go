package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken       string `yaml:"bot_token"       envconfig:"BOT_TOKEN"`
		ChatID         string `yaml:"chat_id"         envconfig:"CHAT_ID"`
		ThreadID       int64  `yaml:"thread_id"       envconfig:"THREAD_ID"`
		DisablePolling bool   `yaml:"disable_polling" envconfig:"DISABLE_POLLING"`
	} `yaml:"telegram" envconfig:"TELEGRAM"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	} `yaml:"database" envconfig:"DATABASE"`
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`
	Engine   struct {
		DefaultRate    int           `yaml:"default_rate"    envconfig:"DEFAULT_RATE"`
		MinRate        int           `yaml:"min_rate"        envconfig:"MIN_RATE"`
		MaxRate        int           `yaml:"max_rate"        envconfig:"MAX_RATE"`
		MaxSlots       int           `yaml:"max_slots"       envconfig:"MAX_SLOTS"`
		ReserveGate    int           `yaml:"reserve_gate"    envconfig:"RESERVE_GATE"`
		PastTolerance  time.Duration `yaml:"past_tolerance"  envconfig:"PAST_TOLERANCE"`
		RotationSignal string        `yaml:"rotation_signal" envconfig:"ROTATION_SIGNAL"`
		StaleAfter     time.Duration `yaml:"stale_after"     envconfig:"STALE_AFTER"`
	} `yaml:"engine" envconfig:"ENGINE"`
	Schedule struct {
		DailyCron      string        `yaml:"daily_cron"      envconfig:"DAILY_CRON"`
		SummaryDelay   time.Duration `yaml:"summary_delay"   envconfig:"SUMMARY_DELAY"`
		DefaultOffsets []int         `yaml:"default_offsets" envconfig:"DEFAULT_OFFSETS"`
		DayReminderAt  int           `yaml:"day_reminder_hour" envconfig:"DAY_REMINDER_HOUR"`
	} `yaml:"schedule" envconfig:"SCHEDULE"`
	Notifier struct {
		QueueSize         int     `yaml:"queue_size"          envconfig:"QUEUE_SIZE"`
		MessagesPerSecond float64 `yaml:"messages_per_second" envconfig:"MESSAGES_PER_SECOND"`
		Burst             int     `yaml:"burst"               envconfig:"BURST"`
		MaxRetries        int     `yaml:"max_retries"         envconfig:"MAX_RETRIES"`
	} `yaml:"notifier" envconfig:"NOTIFIER"`
	HTTP struct {
		Listen string `yaml:"listen" envconfig:"LISTEN"`
	} `yaml:"http" envconfig:"HTTP"`
	Logging struct {
		File       string `yaml:"file"         envconfig:"FILE"`
		MaxSizeMB  int    `yaml:"max_size_mb"  envconfig:"MAX_SIZE_MB"`
		MaxBackups int    `yaml:"max_backups"  envconfig:"MAX_BACKUPS"`
		MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
	} `yaml:"logging" envconfig:"LOG"`
	Proxy string `yaml:"proxy" envconfig:"HTTPS_PROXY"`

	location *time.Location
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides, e.g. TELEGRAM_BOT_TOKEN, ENGINE_MAX_SLOTS.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Europe/Kyiv"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/alpha_drop.db"
	}
	if c.Engine.DefaultRate == 0 {
		c.Engine.DefaultRate = 17
	}
	if c.Engine.MaxRate == 0 {
		c.Engine.MaxRate = 50
	}
	if c.Engine.MaxSlots == 0 {
		c.Engine.MaxSlots = 3
	}
	c.Engine.MaxSlots = clamp(c.Engine.MaxSlots, 1, 5)
	if c.Engine.ReserveGate == 0 {
		c.Engine.ReserveGate = 3
	}
	if c.Engine.PastTolerance == 0 {
		c.Engine.PastTolerance = time.Hour
	}
	if c.Engine.RotationSignal == "" {
		c.Engine.RotationSignal = "outcome"
	}
	if c.Engine.StaleAfter == 0 {
		c.Engine.StaleAfter = 72 * time.Hour
	}
	if c.Schedule.DailyCron == "" {
		c.Schedule.DailyCron = "0 5 0 * * *"
	}
	if c.Schedule.SummaryDelay == 0 {
		c.Schedule.SummaryDelay = 4 * time.Hour
	}
	if len(c.Schedule.DefaultOffsets) == 0 {
		c.Schedule.DefaultOffsets = []int{4, 3, 2, 1}
	}
	if c.Schedule.DayReminderAt == 0 {
		c.Schedule.DayReminderAt = 10
	}
	if c.Notifier.QueueSize == 0 {
		c.Notifier.QueueSize = 256
	}
	if c.Notifier.MessagesPerSecond == 0 {
		c.Notifier.MessagesPerSecond = 1
	}
	if c.Notifier.Burst == 0 {
		c.Notifier.Burst = 3
	}
	if c.Notifier.MaxRetries == 0 {
		c.Notifier.MaxRetries = 3
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 20
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate checks required fields and ranges, and resolves the timezone.
func (c *Config) Validate() error {
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.location = loc
	if c.Engine.MinRate < 0 || c.Engine.MinRate > c.Engine.MaxRate {
		return fmt.Errorf("engine.min_rate must be within [0, max_rate]")
	}
	if c.Engine.DefaultRate < c.Engine.MinRate || c.Engine.DefaultRate > c.Engine.MaxRate {
		return fmt.Errorf("engine.default_rate %d outside [%d, %d]", c.Engine.DefaultRate, c.Engine.MinRate, c.Engine.MaxRate)
	}
	if c.Engine.ReserveGate < 1 {
		return fmt.Errorf("engine.reserve_gate must be positive")
	}
	if c.Engine.PastTolerance < 0 {
		return fmt.Errorf("engine.past_tolerance must not be negative")
	}
	for _, h := range c.Schedule.DefaultOffsets {
		if h < 1 {
			return fmt.Errorf("schedule.default_offsets must be >= 1, got %d", h)
		}
	}
	if c.Schedule.DayReminderAt < 0 || c.Schedule.DayReminderAt > 23 {
		return fmt.Errorf("schedule.day_reminder_hour must be within [0, 23]")
	}
	if c.Notifier.MessagesPerSecond <= 0 {
		return fmt.Errorf("notifier.messages_per_second must be positive")
	}
	return nil
}

// Location returns the single timezone used for all date arithmetic.
// Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
