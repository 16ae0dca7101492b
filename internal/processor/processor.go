package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/solari23/HarmonyBadger/internal/domain"
)

const (
	DefaultRatePerSec = 5
	DefaultDedupTTL   = 48 * time.Hour
)

// DrainTimeout is the maximum time to wait for buffered events during shutdown.
const DrainTimeout = 30 * time.Second

var (
	// ErrDuplicateTrigger is returned when a trigger id was already processed
	// within the dedup TTL.
	ErrDuplicateTrigger = errors.New("trigger already processed")

	// ErrNoHandler is returned when no handler is registered for a task kind.
	ErrNoHandler = errors.New("no handler for task kind")
)

// Handler executes one task kind.
type Handler interface {
	Handle(ctx context.Context, event domain.TriggerEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event domain.TriggerEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event domain.TriggerEvent) error {
	return f(ctx, event)
}

// MetricsSink defines the interface for recording processor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TaskProcessed(kind string, outcome string, duration time.Duration)
	TriggerLatencyObserve(latencySeconds float64)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

type Config struct {
	RatePerSec int
	DedupTTL   time.Duration
}

// Processor executes TriggerEvents at most once per trigger id.
type Processor struct {
	handlers map[domain.TaskKind]Handler
	limiter  *rate.Limiter
	dedupTTL time.Duration
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
	logger   zerolog.Logger

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func New(config Config) *Processor {
	rps := config.RatePerSec
	if rps <= 0 {
		rps = DefaultRatePerSec
	}
	ttl := config.DedupTTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Processor{
		handlers: make(map[domain.TaskKind]Handler),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		dedupTTL: ttl,
		clock:    time.Now,
		logger:   zerolog.Nop(),
		seen:     make(map[string]time.Time),
	}
}

// Register sets the handler for kind, replacing any previous one.
func (p *Processor) Register(kind domain.TaskKind, h Handler) *Processor {
	p.handlers[kind] = h
	return p
}

// WithClock sets the processor's clock.
func (p *Processor) WithClock(clock func() time.Time) *Processor {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// WithMetrics attaches a metrics sink to the processor.
func (p *Processor) WithMetrics(sink MetricsSink) *Processor {
	p.metrics = sink
	return p
}

func (p *Processor) WithLogger(logger zerolog.Logger) *Processor {
	p.logger = logger.With().Str("component", "processor").Logger()
	return p
}

// Handles reports whether a handler is registered for kind.
func (p *Processor) Handles(kind domain.TaskKind) bool {
	_, ok := p.handlers[kind]
	return ok
}

// Run processes events from the channel until context is cancelled or the
// channel is closed. After cancellation, it drains remaining buffered events
// with a timeout.
func (p *Processor) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		if ctx.Err() != nil {
			p.drain(ch)
			return
		}
		select {
		case <-ctx.Done():
			p.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			p.processLogged(ctx, event)
		}
	}
}

func (p *Processor) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			p.logger.Warn().Int("processed", count).Msg("drain timeout")
			return
		case event, ok := <-ch:
			if !ok {
				p.logger.Info().Int("processed", count).Msg("drain complete")
				return
			}
			p.processLogged(drainCtx, event)
			count++
		default:
			if count > 0 {
				p.logger.Info().Int("processed", count).Msg("drain complete")
			}
			return
		}
	}
}

func (p *Processor) processLogged(ctx context.Context, event domain.TriggerEvent) {
	err := p.Process(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateTrigger):
		p.logger.Debug().Str("trigger", event.LogString()).Msg("skipping duplicate trigger")
	default:
		p.logger.Error().Err(err).Str("trigger", event.LogString()).Msg("task failed")
	}
}

// Process executes the task carried by event. A trigger id is executed at
// most once within the dedup TTL, including when its handler fails.
func (p *Processor) Process(ctx context.Context, event domain.TriggerEvent) error {
	if p.metrics != nil {
		p.metrics.EventsInFlightIncr()
		defer p.metrics.EventsInFlightDecr()
	}

	kind := event.Task.Kind
	handler, ok := p.handlers[kind]
	if !ok {
		p.record(kind, "no_handler", 0)
		return fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	if !p.markSeen(event.TriggerID) {
		p.record(kind, "duplicate", 0)
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, event.TriggerID)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		p.forget(event.TriggerID)
		return fmt.Errorf("rate limit: %w", err)
	}

	start := p.clock()
	if p.metrics != nil && !event.TriggerTimeUTC.IsZero() {
		p.metrics.TriggerLatencyObserve(start.Sub(event.TriggerTimeUTC).Seconds())
	}

	err := handler.Handle(ctx, event)
	duration := p.clock().Sub(start)
	if err != nil {
		p.record(kind, "failed", duration)
		return fmt.Errorf("%s task: %w", kind, err)
	}

	p.record(kind, "success", duration)
	p.logger.Info().Str("trigger", event.LogString()).Str("task_kind", string(kind)).Msg("task executed")
	return nil
}

func (p *Processor) record(kind domain.TaskKind, outcome string, duration time.Duration) {
	if p.metrics != nil {
		p.metrics.TaskProcessed(string(kind), outcome, duration)
	}
}

// markSeen records id and reports whether it was new.
func (p *Processor) markSeen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if now.Sub(p.lastSweep) >= time.Minute {
		for k, at := range p.seen {
			if now.Sub(at) >= p.dedupTTL {
				delete(p.seen, k)
			}
		}
		p.lastSweep = now
	}

	if at, ok := p.seen[id]; ok && now.Sub(at) < p.dedupTTL {
		return false
	}
	p.seen[id] = now
	return true
}

func (p *Processor) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, id)
}

// NewTestHandler returns the handler for Test tasks. It logs the debug message.
func NewTestHandler(logger zerolog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, event domain.TriggerEvent) error {
		if event.Task.Test == nil {
			return errors.New("missing test payload")
		}
		logger.Info().
			Str("component", "processor").
			Str("trigger", event.LogString()).
			Msgf("Test task executed: %s", event.Task.Test.DebugMessage)
		return nil
	})
}
