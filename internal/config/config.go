package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	QueueModeChannel = "channel"
	QueueModeRedis   = "redis"
)

// Config holds all configuration for HarmonyBadger.
// Values are loaded from environment variables; see printUsage() in cmd/harmonybadger for the full list.
type Config struct {
	LocalTimeZone          string `json:"local_timezone"`
	MaxTriggersPerSchedule int    `json:"max_triggers_per_schedule"`

	TaskConfigsDir   string `json:"task_configs_dir"`
	TaskConfigsWatch bool   `json:"task_configs_watch"`

	SchedulerCron              string `json:"scheduler_cron"`
	SchedulerRunOnStartup      bool   `json:"scheduler_run_on_startup"`
	SchedulerImmediateDelivery bool   `json:"scheduler_immediate_delivery"`

	// QueueMode: "channel" (in-memory) or "redis" (sorted-set delayed queue).
	QueueMode            string        `json:"queue_mode"`
	RedisAddr            string        `json:"redis_addr,omitempty"`
	RedisPassword        string        `json:"-"`
	RedisQueueKey        string        `json:"redis_queue_key"`
	QueuePollInterval    time.Duration `json:"-"`
	QueuePollIntervalStr string        `json:"queue_poll_interval"`
	EventBusBufferSize   int           `json:"eventbus_buffer_size"`

	// LeaderLeaseTTL bounds how long a crashed leader blocks the scheduler
	// on other instances. Only used in redis mode.
	LeaderLeaseTTL    time.Duration `json:"-"`
	LeaderLeaseTTLStr string        `json:"leader_lease_ttl"`

	ProcessorRatePerSec  int           `json:"processor_rate_per_sec"`
	ProcessorDedupTTL    time.Duration `json:"-"`
	ProcessorDedupTTLStr string        `json:"processor_dedup_ttl"`

	// WebhookURL receives the task kinds that are not executed in-process.
	// Empty disables forwarding.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"-"`

	// WebhookBreakerThreshold: 0 disables the circuit breaker.
	WebhookBreakerThreshold   int           `json:"webhook_breaker_threshold"`
	WebhookBreakerCooldown    time.Duration `json:"-"`
	WebhookBreakerCooldownStr string        `json:"webhook_breaker_cooldown"`

	HTTPAddr               string        `json:"http_addr"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		LocalTimeZone:              os.Getenv("LOCAL_TIMEZONE"),
		TaskConfigsDir:             os.Getenv("TASK_CONFIGS_DIR"),
		TaskConfigsWatch:           envBool("TASK_CONFIGS_WATCH"),
		SchedulerCron:              os.Getenv("SCHEDULER_CRON"),
		SchedulerRunOnStartup:      envBool("SCHEDULER_RUN_ON_STARTUP"),
		SchedulerImmediateDelivery: envBool("SCHEDULER_IMMEDIATE_DELIVERY"),
		QueueMode:                  strings.ToLower(os.Getenv("QUEUE_MODE")),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisQueueKey:              os.Getenv("REDIS_QUEUE_KEY"),
		QueuePollIntervalStr:       os.Getenv("QUEUE_POLL_INTERVAL"),
		LeaderLeaseTTLStr:          os.Getenv("LEADER_LEASE_TTL"),
		ProcessorDedupTTLStr:       os.Getenv("PROCESSOR_DEDUP_TTL"),
		WebhookURL:                 os.Getenv("WEBHOOK_URL"),
		WebhookSecret:              os.Getenv("WEBHOOK_SECRET"),
		WebhookBreakerCooldownStr:  os.Getenv("WEBHOOK_BREAKER_COOLDOWN"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             envBool("METRICS_ENABLED"),
		MetricsPath:                os.Getenv("METRICS_PATH"),
		LogLevel:                   os.Getenv("LOG_LEVEL"),
		LogFormat:                  os.Getenv("LOG_FORMAT"),
	}

	cfg.MaxTriggersPerSchedule = envPositiveInt("MAX_TRIGGERS_PER_SCHEDULE", 4)
	cfg.EventBusBufferSize = envPositiveInt("EVENTBUS_BUFFER_SIZE", 100)
	cfg.ProcessorRatePerSec = envPositiveInt("PROCESSOR_RATE_PER_SEC", 5)

	cfg.WebhookBreakerThreshold = 5
	if s := os.Getenv("WEBHOOK_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.WebhookBreakerThreshold = n
		} else {
			log.Warn().Str("component", "config").Str("key", "WEBHOOK_BREAKER_THRESHOLD").Str("value", s).
				Msg("invalid value (must be a non-negative integer), using default 5")
		}
	}

	if cfg.LocalTimeZone == "" {
		cfg.LocalTimeZone = "US/Pacific"
	}
	if cfg.TaskConfigsDir == "" {
		cfg.TaskConfigsDir = "TaskConfigs"
	}
	if cfg.SchedulerCron == "" {
		cfg.SchedulerCron = "50 * * * *"
	}
	if cfg.QueueMode == "" {
		cfg.QueueMode = QueueModeChannel
	}
	if cfg.RedisQueueKey == "" {
		cfg.RedisQueueKey = "harmonybadger:tasks"
	}
	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.QueuePollIntervalStr == "" {
		cfg.QueuePollIntervalStr = "1s"
	}
	if cfg.ProcessorDedupTTLStr == "" {
		cfg.ProcessorDedupTTLStr = "48h"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.WebhookBreakerCooldownStr == "" {
		cfg.WebhookBreakerCooldownStr = "2m"
	}
	if cfg.LeaderLeaseTTLStr == "" {
		cfg.LeaderLeaseTTLStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.QueuePollIntervalStr); err == nil {
		cfg.QueuePollInterval = d
	}
	if d, err := time.ParseDuration(cfg.ProcessorDedupTTLStr); err == nil {
		cfg.ProcessorDedupTTL = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.WebhookBreakerCooldownStr); err == nil {
		cfg.WebhookBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderLeaseTTLStr); err == nil {
		cfg.LeaderLeaseTTL = d
	}

	return cfg
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envPositiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Warn().Str("component", "config").Str("key", key).Str("value", s).Int("default", def).
			Msg("invalid value (must be a positive integer), using default")
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Config
		RedisPassword string `json:"redis_password,omitempty"`
		WebhookSecret string `json:"webhook_secret,omitempty"`
	}{
		Config:        c,
		RedisPassword: maskSecret(c.RedisPassword),
		WebhookSecret: maskSecret(c.WebhookSecret),
	}
	return json.MarshalIndent(masked, "", "  ")
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
