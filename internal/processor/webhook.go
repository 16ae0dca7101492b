package processor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/circuitbreaker"
	"github.com/solari23/HarmonyBadger/internal/domain"
)

const (
	HeaderTriggerID = "X-HarmonyBadger-Trigger-ID"
	HeaderAttemptID = "X-HarmonyBadger-Attempt-ID"
	HeaderSignature = "X-HarmonyBadger-Signature"
)

const defaultWebhookTimeout = 30 * time.Second

var defaultBackoff = []time.Duration{
	0,
	2 * time.Second,
	10 * time.Second,
}

// WebhookResult is the outcome of a single delivery attempt.
type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

// WebhookHandler forwards trigger events to an external executor as a
// signed JSON POST. It serves the task kinds this process does not run
// itself.
type WebhookHandler struct {
	url     string
	secret  string
	client  *http.Client
	backoff []time.Duration
	breaker *circuitbreaker.Breaker // optional, nil = disabled
	logger  zerolog.Logger
}

func NewWebhookHandler(url, secret string) *WebhookHandler {
	return &WebhookHandler{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		backoff: defaultBackoff,
		logger:  zerolog.Nop(),
	}
}

// WithBreaker stops forwarding a task kind while its breaker is open.
func (h *WebhookHandler) WithBreaker(b *circuitbreaker.Breaker) *WebhookHandler {
	h.breaker = b
	return h
}

func (h *WebhookHandler) WithLogger(logger zerolog.Logger) *WebhookHandler {
	h.logger = logger.With().Str("component", "webhook").Logger()
	return h
}

// Handle posts event, retrying retryable failures with backoff.
func (h *WebhookHandler) Handle(ctx context.Context, event domain.TriggerEvent) error {
	key := string(event.Task.Kind)
	if h.breaker != nil {
		if err := h.breaker.Allow(key); err != nil {
			return fmt.Errorf("webhook %s: %w", key, err)
		}
	}

	err := h.deliver(ctx, event)
	if h.breaker != nil && ctx.Err() == nil {
		if err != nil {
			h.breaker.RecordFailure(key)
			if h.breaker.State(key) == circuitbreaker.StateOpen {
				h.logger.Warn().Str("task_kind", key).Msg("circuit opened")
			}
		} else {
			h.breaker.RecordSuccess(key)
		}
	}
	return err
}

func (h *WebhookHandler) deliver(ctx context.Context, event domain.TriggerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var last WebhookResult
	for attempt := 1; attempt <= len(h.backoff); attempt++ {
		if wait := h.backoff[attempt-1]; wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		last = h.send(ctx, event.TriggerID, body)
		if last.IsSuccess() {
			h.logger.Debug().Str("trigger", event.LogString()).Int("attempt", attempt).Msg("delivered")
			return nil
		}
		if !last.IsRetryable() {
			break
		}
		h.logger.Warn().
			Str("trigger", event.LogString()).
			Int("attempt", attempt).
			Int("status", last.StatusCode).
			AnErr("send_error", last.Error).
			Msg("delivery attempt failed")
	}

	if last.Error != nil {
		return fmt.Errorf("webhook: %w", last.Error)
	}
	return fmt.Errorf("webhook: status %d", last.StatusCode)
}

func (h *WebhookHandler) send(ctx context.Context, triggerID string, body []byte) WebhookResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTriggerID, triggerID)
	req.Header.Set(HeaderAttemptID, uuid.NewString())
	req.Header.Set(HeaderSignature, computeSignature(h.secret, body))

	resp, err := h.client.Do(req)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by WebhookHandler.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
