// Package redisqueue is a delayed trigger queue backed by a Redis sorted set.
//
// Each trigger is stored once: the payload in a hash field keyed by trigger
// id and the id in a sorted set scored by the unix millisecond at which it
// becomes visible. Re-publishing a trigger id while it is still queued is a
// no-op; once consumed, the same id can be queued again.
//
// Consumers claim a trigger with a script that removes the id and its
// payload in one step, so no payload outlives its schedule entry.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/domain"
)

const (
	DefaultKeyPrefix    = "harmonybadger:tasks"
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100

	requeueTimeout = 5 * time.Second
)

// claimScript removes a due id from the schedule and returns its payload,
// deleting it. It returns nil when the id was already claimed.
var claimScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return false
end
local payload = redis.call("HGET", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
return payload
`)

type Config struct {
	KeyPrefix    string
	PollInterval time.Duration
	BatchSize    int64
}

type Queue struct {
	client redis.UniversalClient
	config Config
	clock  func() time.Time
	logger zerolog.Logger
}

func New(client redis.UniversalClient, config Config) *Queue {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Queue{
		client: client,
		config: config,
		clock:  time.Now,
		logger: zerolog.Nop(),
	}
}

// WithClock sets the queue's clock.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	if clock != nil {
		q.clock = clock
	}
	return q
}

// WithLogger sets the logger for the queue.
func (q *Queue) WithLogger(logger zerolog.Logger) *Queue {
	q.logger = logger.With().Str("component", "redisqueue").Logger()
	return q
}

func (q *Queue) scheduleKey() string {
	return q.config.KeyPrefix + ":schedule"
}

func (q *Queue) payloadKey() string {
	return q.config.KeyPrefix + ":payloads"
}

// Publish enqueues event to become visible after delay.
func (q *Queue) Publish(ctx context.Context, event domain.TriggerEvent, delay time.Duration) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	visibleAt := q.clock().Add(delay)

	pipe := q.client.TxPipeline()
	stored := pipe.HSetNX(ctx, q.payloadKey(), event.TriggerID, payload)
	pipe.ZAddNX(ctx, q.scheduleKey(), redis.Z{Score: score(visibleAt), Member: event.TriggerID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}

	if !stored.Val() {
		q.logger.Debug().Str("trigger", event.LogString()).Msg("trigger already queued")
	}
	return nil
}

// Len returns the number of queued triggers, due or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.scheduleKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return n, nil
}

// Consume polls for due triggers and sends them to out until ctx is
// cancelled. Each trigger is delivered to exactly one consumer.
func (q *Queue) Consume(ctx context.Context, out chan<- domain.TriggerEvent) error {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	q.logger.Info().Str("key", q.scheduleKey()).Dur("poll_interval", q.config.PollInterval).Msg("consumer started")
	for {
		if err := q.poll(ctx, out); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("consumer stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) poll(ctx context.Context, out chan<- domain.TriggerEvent) error {
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.scheduleKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.clock().UnixMilli(), 10),
		Count: q.config.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("redis zrangebyscore: %w", err)
	}

	for _, z := range due {
		id, _ := z.Member.(string)
		payload, ok, err := q.claim(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		event, err := decodeEvent(payload)
		if err != nil {
			q.logger.Error().Err(err).Str("trigger_id", id).Msg("undecodable trigger payload, dropping")
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			q.requeue(id, payload, z.Score)
			return ctx.Err()
		}
	}
	return nil
}

// claim takes id off the queue. ok is false when another consumer claimed
// it first or it had no payload.
func (q *Queue) claim(ctx context.Context, id string) (payload string, ok bool, err error) {
	payload, err = claimScript.Run(ctx, q.client, []string{q.scheduleKey(), q.payloadKey()}, id).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis claim %s: %w", id, err)
	}
	return payload, true, nil
}

// requeue puts a claimed trigger back with its original score. It runs on
// shutdown, so it does not use the cancelled consumer context.
func (q *Queue) requeue(id, payload string, at float64) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, q.payloadKey(), id, payload)
	pipe.ZAddNX(ctx, q.scheduleKey(), redis.Z{Score: at, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error().Err(err).Str("trigger_id", id).Msg("failed to requeue claimed trigger, it will be dropped")
		return
	}
	q.logger.Info().Str("trigger_id", id).Msg("requeued claimed trigger on shutdown")
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func encodeEvent(event domain.TriggerEvent) (string, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode trigger: %w", err)
	}
	return string(b), nil
}

func decodeEvent(payload string) (domain.TriggerEvent, error) {
	var event domain.TriggerEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return domain.TriggerEvent{}, fmt.Errorf("decode trigger: %w", err)
	}
	return event, nil
}
