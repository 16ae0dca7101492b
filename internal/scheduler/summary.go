package scheduler

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RunSummary describes one scheduler run.
type RunSummary struct {
	InvocationID       string        `json:"invocationId"`
	ExecutionTimeUTC   time.Time     `json:"executionTimeUtc"`
	ExecutionTimeLocal time.Time     `json:"executionTimeLocal"`
	WindowStartLocal   time.Time     `json:"windowStartLocal"`
	WindowEndLocal     time.Time     `json:"windowEndLocal"`
	LoadedConfigs      int           `json:"loadedConfigs"`
	EnabledConfigs     int           `json:"enabledConfigs"`
	Triggers           []string      `json:"triggers"`
	FailedRecords      []string      `json:"failedRecords,omitempty"`
	FailedEnqueueCount int           `json:"failedEnqueueCount"`
	Duration           time.Duration `json:"durationNs"`
}

// Log writes the summary as a single line.
func (s RunSummary) Log(logger zerolog.Logger) {
	ev := logger.Info()
	if len(s.FailedRecords) > 0 || s.FailedEnqueueCount > 0 {
		ev = logger.Warn()
	}
	ev.Str("invocation_id", s.InvocationID).
		Time("execution_time_utc", s.ExecutionTimeUTC).
		Str("execution_time_local", s.ExecutionTimeLocal.Format(time.RFC3339)).
		Int("loaded_configs", s.LoadedConfigs).
		Int("enabled_configs", s.EnabledConfigs).
		Str("window_start_local", s.WindowStartLocal.Format(time.RFC3339)).
		Str("window_end_local", s.WindowEndLocal.Format(time.RFC3339)).
		Int("triggered", len(s.Triggers)).
		Str("triggers", strings.Join(s.Triggers, "|")).
		Strs("failed_records", s.FailedRecords).
		Int("failed_enqueue", s.FailedEnqueueCount).
		Dur("duration", s.Duration).
		Msg("scheduler run complete")
}
