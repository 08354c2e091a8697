package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/retry"
)

// ErrCircuitOpen is returned when the sink has been failing and is cooling down
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Webhook posts summaries as JSON with retry and a per-URL circuit breaker
type Webhook struct {
	httpClient *http.Client
	breakers   *Breakers
}

// NewWebhook creates a webhook notifier
func NewWebhook(timeout time.Duration) *Webhook {
	return &Webhook{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: NewBreakers(5, 2, 60*time.Second),
	}
}

// Notify delivers summary to settings.URL
func (w *Webhook) Notify(ctx context.Context, settings model.NotificationSettings, summary Summary) error {
	if settings.URL == "" {
		return fmt.Errorf("%w: webhook url is required", model.ErrValidation)
	}

	if !w.breakers.CanAttempt(settings.URL) {
		slog.Warn("Circuit breaker is open, skipping notification",
			"job_id", summary.JobID,
			"webhook_url", settings.URL,
		)
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	strategy := retry.NewStrategy(settings.RetryConfig)
	for attempt := 1; attempt <= strategy.MaxAttempts(); attempt++ {
		statusCode, err := w.deliver(ctx, settings, payload)
		if err == nil {
			slog.Info("Notification delivered",
				"job_id", summary.JobID,
				"webhook_url", settings.URL,
				"attempt", attempt,
				"status_code", statusCode,
			)
			w.breakers.RecordSuccess(settings.URL)
			return nil
		}

		if !strategy.ShouldRetry(attempt, statusCode, err) {
			slog.Error("Notification failed",
				"job_id", summary.JobID,
				"webhook_url", settings.URL,
				"attempt", attempt,
				"status_code", statusCode,
				"error", err,
			)
			w.breakers.RecordFailure(settings.URL)
			return fmt.Errorf("notification failed after %d attempts: %w", attempt, err)
		}

		slog.Warn("Notification failed, retrying",
			"job_id", summary.JobID,
			"webhook_url", settings.URL,
			"attempt", attempt,
			"next_retry_ms", strategy.CalculateDelay(attempt).Milliseconds(),
			"error", err,
		)
		if err := strategy.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	w.breakers.RecordFailure(settings.URL)
	return fmt.Errorf("notification failed after %d attempts", strategy.MaxAttempts())
}

func (w *Webhook) deliver(ctx context.Context, settings model.NotificationSettings, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range settings.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// CircuitState returns the breaker state for a sink URL
func (w *Webhook) CircuitState(url string) CircuitState {
	return w.breakers.State(url)
}
