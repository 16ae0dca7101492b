package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/testutil"
	"github.com/solari23/HarmonyBadger/internal/timezone"
)

type staticSource struct {
	tasks []domain.ScheduledTask
}

func (s staticSource) ScheduledTasks() []domain.ScheduledTask {
	return s.tasks
}

type published struct {
	event domain.TriggerEvent
	delay time.Duration
}

// mockPublisher records published events and can be told to fail.
type mockPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *mockPublisher) Publish(ctx context.Context, event domain.TriggerEvent, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{event: event, delay: delay})
	return nil
}

func (p *mockPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func newTestRunner(t *testing.T, config RunnerConfig, tasks []domain.ScheduledTask, pub Publisher, clock *testutil.FakeClock) *Runner {
	t.Helper()
	conv, err := timezone.New("US/Pacific")
	if err != nil {
		t.Fatalf("timezone.New: %v", err)
	}
	config.Zone = conv
	eval := newTestEvaluator(t, 0).WithClock(clock.Now)
	return NewRunner(config, staticSource{tasks: tasks}, eval, pub).WithClock(clock.Now)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		now   time.Time
		start time.Time
	}{
		{utc(2024, 3, 1, 16, 50), utc(2024, 3, 1, 17, 0)},
		{utc(2024, 3, 1, 16, 0), utc(2024, 3, 1, 17, 0)},
		{utc(2024, 12, 31, 23, 59), utc(2025, 1, 1, 0, 0)},
	}
	for _, tt := range tests {
		start, end := Window(tt.now)
		if !start.Equal(tt.start) || !end.Equal(tt.start.Add(time.Hour)) {
			t.Errorf("Window(%v) = [%v, %v), want [%v, %v)", tt.now, start, end, tt.start, tt.start.Add(time.Hour))
		}
	}
}

func TestRunner_RunOnce_PublishesWithDelay(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	pub := &mockPublisher{}
	tasks := []domain.ScheduledTask{
		task("daily", domain.DailySchedule(domain.At(9, 0))),
		task("half", domain.DailySchedule(domain.At(9, 30))),
	}
	r := newTestRunner(t, RunnerConfig{}, tasks, pub, clock)

	summary, err := r.RunOnce(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	got := pub.published()
	if len(got) != 2 {
		t.Fatalf("published %d events, want 2", len(got))
	}
	if got[0].delay != 10*time.Minute {
		t.Errorf("delay[0] = %v, want 10m", got[0].delay)
	}
	if got[1].delay != 40*time.Minute {
		t.Errorf("delay[1] = %v, want 40m", got[1].delay)
	}

	if summary.LoadedConfigs != 2 || summary.EnabledConfigs != 2 {
		t.Errorf("configs = %d/%d, want 2/2", summary.LoadedConfigs, summary.EnabledConfigs)
	}
	if len(summary.Triggers) != 2 || summary.FailedEnqueueCount != 0 {
		t.Errorf("summary = %+v, want 2 triggers and no failures", summary)
	}
	if summary.WindowStartLocal.Hour() != 9 || summary.WindowEndLocal.Hour() != 10 {
		t.Errorf("local window = %v - %v, want 09:00 - 10:00", summary.WindowStartLocal, summary.WindowEndLocal)
	}
	if summary.InvocationID == "" || got[0].event.EvaluatingInvocationID != summary.InvocationID {
		t.Errorf("invocation id not propagated: summary %q, event %q", summary.InvocationID, got[0].event.EvaluatingInvocationID)
	}
}

func TestRunner_RunOnce_ImmediateDelivery(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	pub := &mockPublisher{}
	tasks := []domain.ScheduledTask{task("daily", domain.DailySchedule(domain.At(9, 0)))}
	r := newTestRunner(t, RunnerConfig{ImmediateDelivery: true}, tasks, pub, clock)

	if _, err := r.RunOnce(testutil.TestContext(t)); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	got := pub.published()
	if len(got) != 1 || got[0].delay != 0 {
		t.Errorf("published = %+v, want one event with no delay", got)
	}
}

func TestRunner_RunOnce_PublishFailureIsCounted(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	pub := &mockPublisher{err: errors.New("queue unavailable")}
	tasks := []domain.ScheduledTask{task("daily", domain.DailySchedule(domain.At(9, 0)))}
	r := newTestRunner(t, RunnerConfig{}, tasks, pub, clock)

	summary, err := r.RunOnce(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.FailedEnqueueCount != 1 || len(summary.Triggers) != 0 {
		t.Errorf("summary = %+v, want 1 failed enqueue and no triggers", summary)
	}
}

func TestRunner_RunOnce_ReportsFailedRecords(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	pub := &mockPublisher{}
	disabled := task("off", domain.DailySchedule(domain.At(9, 0)))
	disabled.IsEnabled = false
	tasks := []domain.ScheduledTask{
		task("broken", domain.CronSchedule("61 * * * *")),
		task("daily", domain.DailySchedule(domain.At(9, 0))),
		disabled,
	}
	r := newTestRunner(t, RunnerConfig{}, tasks, pub, clock)

	summary, err := r.RunOnce(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(summary.FailedRecords) != 1 || summary.FailedRecords[0] != "broken" {
		t.Errorf("FailedRecords = %v, want [broken]", summary.FailedRecords)
	}
	if summary.EnabledConfigs != 2 || summary.LoadedConfigs != 3 {
		t.Errorf("configs = %d/%d, want 2 enabled of 3", summary.EnabledConfigs, summary.LoadedConfigs)
	}
	if len(pub.published()) != 1 {
		t.Errorf("published %d events, want 1", len(pub.published()))
	}
}

func TestRunner_RunOnce_CancelledContext(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	r := newTestRunner(t, RunnerConfig{}, nil, &mockPublisher{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce error = %v, want context.Canceled", err)
	}
}

func TestRunner_Run_RunOnStartup(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	pub := &mockPublisher{}
	tasks := []domain.ScheduledTask{task("daily", domain.DailySchedule(domain.At(9, 0)))}
	r := newTestRunner(t, RunnerConfig{RunOnStartup: true}, tasks, pub, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(pub.published()) == 0 {
		select {
		case <-deadline:
			t.Fatal("startup run did not publish")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunner_Run_InvalidSchedule(t *testing.T) {
	clock := testutil.NewFakeClock(utc(2024, 3, 1, 16, 50))
	r := newTestRunner(t, RunnerConfig{Schedule: "every hour"}, nil, &mockPublisher{}, clock)

	if err := r.Run(testutil.TestContext(t)); err == nil {
		t.Error("Run with an invalid schedule should return error")
	}
}
