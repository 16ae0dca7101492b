package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/scheduler"
	"github.com/solari23/HarmonyBadger/internal/taskconfig"
)

// SchedulerRunner runs the periodic scheduler on demand.
type SchedulerRunner interface {
	RunOnce(ctx context.Context) (scheduler.RunSummary, error)
}

type TriggerEvaluator interface {
	GetTriggeredTasks(tasks []domain.ScheduledTask, startUTC, endUTC time.Time, invocationID string) ([]domain.TriggerEvent, error)
}

// ConfigStore is the task config snapshot the API reads and reloads.
type ConfigStore interface {
	ScheduledTasks() []domain.ScheduledTask
	Reload() (*taskconfig.Snapshot, error)
}

type Handler struct {
	runner      SchedulerRunner
	evaluator   TriggerEvaluator
	store       ConfigStore
	metrics     http.Handler // optional, nil = not served
	metricsPath string
	logger      zerolog.Logger
}

func NewHandler(runner SchedulerRunner, evaluator TriggerEvaluator, store ConfigStore) *Handler {
	return &Handler{
		runner:    runner,
		evaluator: evaluator,
		store:     store,
		logger:    zerolog.Nop(),
	}
}

// WithMetricsHandler serves h at path.
func (h *Handler) WithMetricsHandler(path string, handler http.Handler) *Handler {
	h.metricsPath = path
	h.metrics = handler
	return h
}

func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger.With().Str("component", "api").Logger()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})

	case path == "/forceScheduler" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		h.forceScheduler(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.previewTriggers(w, r)

	case path == "/configs/reload" && r.Method == http.MethodPost:
		h.reloadConfigs(w, r)

	case h.metrics != nil && path == h.metricsPath && r.Method == http.MethodGet:
		h.metrics.ServeHTTP(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) forceScheduler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("forced scheduler run failed")
		writeError(w, http.StatusInternalServerError, "scheduler run failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// previewTriggers evaluates a window without publishing anything.
func (h *Handler) previewTriggers(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.evaluator.GetTriggeredTasks(h.store.ScheduledTasks(), start, end, "preview")
	resp := TriggersResponse{
		StartUTC: formatTime(start),
		EndUTC:   formatTime(end),
		Events:   events,
	}
	if resp.Events == nil {
		resp.Events = []domain.TriggerEvent{}
	}

	var recErrs scheduler.RecordErrors
	if errors.As(err, &recErrs) {
		for _, re := range recErrs {
			resp.RecordErrors = append(resp.RecordErrors, RecordErrorResponse{
				ConfigName: re.ConfigName,
				Checksum:   re.Checksum,
				Error:      re.Err.Error(),
			})
		}
	} else if err != nil {
		h.logger.Error().Err(err).Msg("trigger preview failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reloadConfigs(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Reload()
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed")
		writeError(w, http.StatusInternalServerError, "config reload failed")
		return
	}

	resp := ReloadResponse{
		Loaded:   len(snap.Tasks),
		Failed:   len(snap.Failures),
		LoadedAt: formatTime(snap.LoadedAt),
		Failures: []FileErrorResponse{},
	}
	for _, f := range snap.Failures {
		resp.Failures = append(resp.Failures, FileErrorResponse{File: f.File, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "api").Msg("json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
