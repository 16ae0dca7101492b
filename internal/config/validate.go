package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solari23/HarmonyBadger/internal/logging"
	"github.com/solari23/HarmonyBadger/internal/timezone"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := timezone.New(cfg.LocalTimeZone); err != nil {
		add("LOCAL_TIMEZONE", "unknown time zone %q", cfg.LocalTimeZone)
	}

	if cfg.MaxTriggersPerSchedule <= 0 {
		add("MAX_TRIGGERS_PER_SCHEDULE", "must be positive")
	}

	if cfg.TaskConfigsDir == "" {
		add("TASK_CONFIGS_DIR", "required")
	}

	if _, err := cron.ParseStandard(cfg.SchedulerCron); err != nil {
		add("SCHEDULER_CRON", "invalid cron expression: %v", err)
	}

	// QUEUE_MODE must be "channel" or "redis"
	switch cfg.QueueMode {
	case QueueModeChannel:
	case QueueModeRedis:
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when QUEUE_MODE is 'redis'")
		}
	default:
		add("QUEUE_MODE", "must be 'channel' or 'redis', got %q", cfg.QueueMode)
	}

	if cfg.EventBusBufferSize <= 0 {
		add("EVENTBUS_BUFFER_SIZE", "must be positive")
	}
	if cfg.ProcessorRatePerSec <= 0 {
		add("PROCESSOR_RATE_PER_SEC", "must be positive")
	}

	validateDuration(&errs, "QUEUE_POLL_INTERVAL", cfg.QueuePollIntervalStr)
	validateDuration(&errs, "PROCESSOR_DEDUP_TTL", cfg.ProcessorDedupTTLStr)
	validateDuration(&errs, "HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)
	validateDuration(&errs, "WEBHOOK_BREAKER_COOLDOWN", cfg.WebhookBreakerCooldownStr)
	validateDuration(&errs, "LEADER_LEASE_TTL", cfg.LeaderLeaseTTLStr)

	if cfg.WebhookURL != "" {
		if u, err := url.Parse(cfg.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("WEBHOOK_URL", "must be an absolute http or https URL")
		}
	}

	if cfg.MetricsEnabled && (cfg.MetricsPath == "" || cfg.MetricsPath[0] != '/') {
		add("METRICS_PATH", "must start with '/'")
	}

	if !logging.ValidFormat(cfg.LogFormat) {
		add("LOG_FORMAT", "must be 'console' or 'json', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(errs *ValidationErrors, field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)})
	} else if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
