// Package channel is an in-process event bus between the scheduler and the
// task processor.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

var (
	// ErrBufferFull is returned when the buffer stays full for the emit timeout.
	ErrBufferFull = errors.New("event bus buffer full")

	// ErrClosed is returned by Emit and Publish after Close.
	ErrClosed = errors.New("event bus closed")
)

// MetricsSink is the subset of metrics.Sink used by the bus.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	PendingDelayedUpdate(count int)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout sets how long Emit waits for buffer space.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		if d > 0 {
			b.emitTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink for the bus.
func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = m
	}
}

// WithLogger sets the logger for the bus.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *EventBus) {
		b.logger = logger.With().Str("component", "eventbus").Logger()
	}
}

// EventBus is a buffered channel of trigger events. Publish holds delayed
// events in timers until they are due.
type EventBus struct {
	ch          chan domain.TriggerEvent
	emitTimeout time.Duration
	metrics     MetricsSink
	logger      zerolog.Logger

	mu      sync.RWMutex // write-held by Close and by timer bookkeeping
	closed  bool
	nextID  uint64
	pending map[uint64]delayed
}

type delayed struct {
	timer *time.Timer
	event domain.TriggerEvent
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.TriggerEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
		logger:      zerolog.Nop(),
		pending:     make(map[uint64]delayed),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit puts event on the bus now.
func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Publish emits event once delay has elapsed. A non-positive delay emits
// immediately. Delayed events are lost if the bus is closed before they
// are due.
func (b *EventBus) Publish(ctx context.Context, event domain.TriggerEvent, delay time.Duration) error {
	if delay <= 0 {
		return b.Emit(ctx, event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.nextID++
	id := b.nextID
	b.pending[id] = delayed{
		timer: time.AfterFunc(delay, func() { b.deliver(id) }),
		event: event,
	}
	b.updatePending()
	return nil
}

func (b *EventBus) deliver(id uint64) {
	b.mu.Lock()
	d, ok := b.pending[id]
	delete(b.pending, id)
	b.updatePending()
	b.mu.Unlock()
	if !ok {
		return
	}

	if err := b.Emit(context.Background(), d.event); err != nil {
		b.logger.Error().Err(err).Str("trigger", d.event.LogString()).Msg("failed to deliver delayed trigger, it will be dropped")
	}
}

// updatePending must be called with mu held.
func (b *EventBus) updatePending() {
	if b.metrics != nil {
		b.metrics.PendingDelayedUpdate(len(b.pending))
	}
}

// Pending returns the number of delayed events not yet due.
func (b *EventBus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Channel returns the receive side of the bus. It is closed by Close.
func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}

// Close drops pending delayed events and closes the channel. It waits for
// in-flight Emit calls to finish.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, d := range b.pending {
		d.timer.Stop()
		b.logger.Warn().Str("trigger", d.event.LogString()).Msg("dropping delayed trigger on close")
	}
	b.pending = map[uint64]delayed{}
	b.updatePending()
	close(b.ch)
}
