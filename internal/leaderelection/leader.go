// Package leaderelection picks the one instance that runs the scheduler when
// several share a redis queue.
//
// Leadership is a lease: a key holding the leader's owner id with a TTL. The
// leader renews the lease on every heartbeat; if a renewal fails or finds the
// key owned by someone else, the instance stops its leader duties and goes
// back to competing for the lease. A leader that crashes loses the lease when
// the TTL runs out.
package leaderelection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reasons reported to MetricsSink.LeaderLost.
const (
	ReasonShutdown    = "shutdown"
	ReasonLeaseLost   = "lease_lost"
	ReasonRenewFailed = "renew_failed"
)

const (
	DefaultTTL = 30 * time.Second

	releaseTimeout = 5 * time.Second
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Lease is a lock held by one owner for a bounded time.
type Lease interface {
	// TryAcquire takes the lease for owner if nobody holds it.
	TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Renew extends the lease if owner still holds it.
	Renew(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Release gives the lease up if owner still holds it.
	Release(ctx context.Context, owner string) error
}

// Config holds elector timings. Zero values are derived from TTL.
type Config struct {
	// TTL is how long a lease lives without renewal.
	TTL time.Duration

	// RenewInterval is how often the leader renews. Default: TTL/3.
	RenewInterval time.Duration

	// RetryInterval is how often a follower tries to acquire. Default: TTL/3.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = c.TTL / 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = c.TTL / 3
	}
	return c
}

// Elector competes for a Lease and runs leader duties while holding it.
type Elector struct {
	lease     Lease
	owner     string
	config    Config
	onElected func(ctx context.Context)
	onDemoted func()
	metrics   MetricsSink // optional, nil = disabled
	logger    zerolog.Logger
}

// New creates a new Elector with a random owner id.
//
// onElected runs the leader duties in a new goroutine when this instance
// acquires the lease. The provided context is cancelled when leadership is
// lost, and onElected must return soon after.
//
// onDemoted, if non-nil, is called once onElected has returned.
func New(lease Lease, config Config, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		lease:     lease,
		owner:     uuid.NewString(),
		config:    config.withDefaults(),
		onElected: onElected,
		onDemoted: onDemoted,
		logger:    zerolog.Nop(),
	}
}

// WithOwner replaces the generated owner id.
func (e *Elector) WithOwner(owner string) *Elector {
	if owner != "" {
		e.owner = owner
	}
	return e
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(logger zerolog.Logger) *Elector {
	e.logger = logger.With().Str("component", "leader").Str("owner", e.owner).Logger()
	return e
}

// Owner returns the id this elector writes into the lease.
func (e *Elector) Owner() string {
	return e.owner
}

// Run starts the election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info().
		Dur("ttl", e.config.TTL).
		Dur("renew", e.config.RenewInterval).
		Dur("retry", e.config.RetryInterval).
		Msg("starting election loop")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("election loop stopped")
			return
		case <-timer.C:
		}

		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warn().Str("reason", reason).Dur("retry", e.config.RetryInterval).Msg("lost leadership")
		}
		timer.Reset(e.config.RetryInterval)
	}
}

// runOnce attempts to acquire the lease and hold it.
// Returns the reason leadership was lost ("" if the lease was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	acquired, err := e.lease.TryAcquire(ctx, e.owner, e.config.TTL)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Msg("lease acquire failed")
		}
		return ""
	}
	if !acquired {
		e.logger.Debug().Msg("lease held by another instance")
		return ""
	}

	e.logger.Info().Msg("acquired lease")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	duties := make(chan struct{})
	go func() {
		defer close(duties)
		e.onElected(leaderCtx)
	}()

	reason := e.hold(ctx)

	cancelLeader()
	<-duties
	if e.onDemoted != nil {
		e.onDemoted()
	}

	if reason == ReasonShutdown {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := e.lease.Release(releaseCtx, e.owner); err != nil {
			e.logger.Warn().Err(err).Msg("lease release failed")
		}
		cancel()
	}

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.logger.Info().Str("reason", reason).Msg("released leadership")
	return reason
}

// hold renews the lease until ctx is cancelled or a renewal does not succeed.
func (e *Elector) hold(ctx context.Context) string {
	ticker := time.NewTicker(e.config.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			ok, err := e.lease.Renew(ctx, e.owner, e.config.TTL)
			if ctx.Err() != nil {
				return ReasonShutdown
			}
			if err != nil {
				e.logger.Error().Err(err).Msg("lease renew failed")
				return ReasonRenewFailed
			}
			if !ok {
				return ReasonLeaseLost
			}
		}
	}
}
