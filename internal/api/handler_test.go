package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/scheduler"
	"github.com/solari23/HarmonyBadger/internal/taskconfig"
)

type mockRunner struct {
	mu      sync.Mutex
	calls   int
	summary scheduler.RunSummary
	err     error
}

func (m *mockRunner) RunOnce(ctx context.Context) (scheduler.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.summary, m.err
}

type evalCall struct {
	tasks      int
	start, end time.Time
}

type mockEvaluator struct {
	mu     sync.Mutex
	calls  []evalCall
	events []domain.TriggerEvent
	err    error
}

func (m *mockEvaluator) GetTriggeredTasks(tasks []domain.ScheduledTask, startUTC, endUTC time.Time, invocationID string) ([]domain.TriggerEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, evalCall{tasks: len(tasks), start: startUTC, end: endUTC})
	return m.events, m.err
}

type mockStore struct {
	mu      sync.Mutex
	tasks   []domain.ScheduledTask
	snap    *taskconfig.Snapshot
	err     error
	reloads int
}

func (m *mockStore) ScheduledTasks() []domain.ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks
}

func (m *mockStore) Reload() (*taskconfig.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return m.snap, m.err
}

func newTestHandler() (*Handler, *mockRunner, *mockEvaluator, *mockStore) {
	runner := &mockRunner{}
	eval := &mockEvaluator{}
	store := &mockStore{tasks: []domain.ScheduledTask{{ConfigName: "a.schedule.json", IsEnabled: true}}}
	return NewHandler(runner, eval, store), runner, eval, store
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestHandler()

	rec := serve(h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestNotFound(t *testing.T) {
	h, _, _, _ := newTestHandler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/forceScheduler"},
		{http.MethodGet, "/configs/reload"},
		{http.MethodGet, "/metrics"},
	}
	for _, tt := range tests {
		rec := serve(h, tt.method, tt.path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tt.method, tt.path, rec.Code)
		}
	}
}

func TestForceScheduler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			h, runner, _, _ := newTestHandler()
			runner.summary = scheduler.RunSummary{
				InvocationID:  "inv-1",
				LoadedConfigs: 3,
				Triggers:      []string{"Id:ABCDE,Conf:a,ConfSHA:12345,Sched:inv-1"},
			}

			rec := serve(h, method, "/forceScheduler")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}

			var got scheduler.RunSummary
			decode(t, rec, &got)
			if got.InvocationID != "inv-1" || got.LoadedConfigs != 3 || len(got.Triggers) != 1 {
				t.Errorf("summary = %+v", got)
			}
			if runner.calls != 1 {
				t.Errorf("RunOnce calls = %d, want 1", runner.calls)
			}
		})
	}
}

func TestForceScheduler_Error(t *testing.T) {
	h, runner, _, _ := newTestHandler()
	runner.err = errors.New("boom")

	rec := serve(h, http.MethodPost, "/forceScheduler")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp ErrorResponse
	decode(t, rec, &resp)
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

func TestPreviewTriggers(t *testing.T) {
	h, _, eval, _ := newTestHandler()
	fire := time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)
	eval.events = []domain.TriggerEvent{{
		TriggerID:          "ABC",
		TriggerTimeUTC:     fire,
		ScheduleConfigName: "a.schedule.json",
		Task:               domain.NewTestTask("hi"),
	}}

	rec := serve(h, http.MethodGet, "/triggers?start=2024-03-01T17:00:00Z&end=2024-03-01T18:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var resp TriggersResponse
	decode(t, rec, &resp)
	if len(resp.Events) != 1 || resp.Events[0].TriggerID != "ABC" {
		t.Errorf("events = %+v", resp.Events)
	}
	if resp.StartUTC != "2024-03-01T17:00:00Z" || resp.EndUTC != "2024-03-01T18:00:00Z" {
		t.Errorf("window = %s..%s", resp.StartUTC, resp.EndUTC)
	}
	if len(resp.RecordErrors) != 0 {
		t.Errorf("record errors = %v, want none", resp.RecordErrors)
	}

	if len(eval.calls) != 1 {
		t.Fatalf("evaluator calls = %d, want 1", len(eval.calls))
	}
	call := eval.calls[0]
	if call.tasks != 1 || !call.start.Equal(fire) || !call.end.Equal(fire.Add(time.Hour)) {
		t.Errorf("evaluator call = %+v", call)
	}
}

func TestPreviewTriggers_OffsetInputIsUTC(t *testing.T) {
	h, _, eval, _ := newTestHandler()

	rec := serve(h, http.MethodGet, "/triggers?start=2024-03-01T09:00:00-08:00&end=2024-03-01T10:00:00-08:00")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp TriggersResponse
	decode(t, rec, &resp)
	if resp.StartUTC != "2024-03-01T17:00:00Z" {
		t.Errorf("startUtc = %s, want 2024-03-01T17:00:00Z", resp.StartUTC)
	}
	if resp.Events == nil {
		t.Error("events should be an empty list, not null")
	}
	if loc := eval.calls[0].start.Location(); loc != time.UTC {
		t.Errorf("evaluator start location = %v, want UTC", loc)
	}
}

func TestPreviewTriggers_PartialFailure(t *testing.T) {
	h, _, eval, _ := newTestHandler()
	eval.events = []domain.TriggerEvent{{TriggerID: "OK", Task: domain.NewTestTask("hi")}}
	eval.err = scheduler.RecordErrors{{ConfigName: "bad.schedule.json", Checksum: "abc", Err: domain.ErrInvalidSchedule}}

	rec := serve(h, http.MethodGet, "/triggers?start=2024-03-01T17:00:00Z&end=2024-03-01T18:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp TriggersResponse
	decode(t, rec, &resp)
	if len(resp.Events) != 1 {
		t.Errorf("events = %d, want 1", len(resp.Events))
	}
	if len(resp.RecordErrors) != 1 || resp.RecordErrors[0].ConfigName != "bad.schedule.json" {
		t.Errorf("record errors = %+v", resp.RecordErrors)
	}
}

func TestPreviewTriggers_EvaluationError(t *testing.T) {
	h, _, eval, _ := newTestHandler()
	eval.err = errors.New("boom")

	rec := serve(h, http.MethodGet, "/triggers?start=2024-03-01T17:00:00Z&end=2024-03-01T18:00:00Z")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestPreviewTriggers_BadWindow(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing start", "?end=2024-03-01T18:00:00Z"},
		{"missing end", "?start=2024-03-01T17:00:00Z"},
		{"bad start", "?start=yesterday&end=2024-03-01T18:00:00Z"},
		{"end before start", "?start=2024-03-01T18:00:00Z&end=2024-03-01T17:00:00Z"},
		{"empty window", "?start=2024-03-01T18:00:00Z&end=2024-03-01T18:00:00Z"},
		{"too long", "?start=2024-03-01T00:00:00Z&end=2024-03-09T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, eval, _ := newTestHandler()

			rec := serve(h, http.MethodGet, "/triggers"+tt.query)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(eval.calls) != 0 {
				t.Error("evaluator should not be called")
			}
		})
	}
}

func TestReloadConfigs(t *testing.T) {
	h, _, _, store := newTestHandler()
	store.snap = &taskconfig.Snapshot{
		Tasks:    []domain.ScheduledTask{{ConfigName: "a.schedule.json"}, {ConfigName: "b.schedule.yaml"}},
		LoadedAt: time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC),
		Failures: taskconfig.LoadErrors{{File: "c.schedule.json", Err: errors.New("bad json")}},
	}

	rec := serve(h, http.MethodPost, "/configs/reload")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ReloadResponse
	decode(t, rec, &resp)
	if resp.Loaded != 2 || resp.Failed != 1 {
		t.Errorf("loaded/failed = %d/%d, want 2/1", resp.Loaded, resp.Failed)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].File != "c.schedule.json" {
		t.Errorf("failures = %+v", resp.Failures)
	}
	if resp.LoadedAt != "2024-03-01T17:00:00Z" {
		t.Errorf("loadedAt = %s", resp.LoadedAt)
	}
	if store.reloads != 1 {
		t.Errorf("reloads = %d, want 1", store.reloads)
	}
}

func TestReloadConfigs_Error(t *testing.T) {
	h, _, _, store := newTestHandler()
	store.snap = &taskconfig.Snapshot{}
	store.err = errors.New("dir missing")

	rec := serve(h, http.MethodPost, "/configs/reload")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	h, _, _, _ := newTestHandler()
	h.WithMetricsHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	if rec := serve(h, http.MethodGet, "/metrics"); rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
