package api

import (
	"time"

	"github.com/solari23/HarmonyBadger/internal/domain"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type TriggersResponse struct {
	StartUTC     string                `json:"startUtc"`
	EndUTC       string                `json:"endUtc"`
	Events       []domain.TriggerEvent `json:"events"`
	RecordErrors []RecordErrorResponse `json:"recordErrors,omitempty"`
}

type RecordErrorResponse struct {
	ConfigName string `json:"configName"`
	Checksum   string `json:"checksum"`
	Error      string `json:"error"`
}

type ReloadResponse struct {
	Loaded   int                 `json:"loaded"`
	Failed   int                 `json:"failed"`
	LoadedAt string              `json:"loadedAt"`
	Failures []FileErrorResponse `json:"failures"`
}

type FileErrorResponse struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
