// Package notify posts backtest and refresh events to a webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"strategy-backtester/internal/trading"
)

// Event types
const (
	EventBatchComplete = "batch_complete"
	EventRefreshFailed = "refresh_failed"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is the JSON body posted to the webhook.
type Notification struct {
	Type      string                 `json:"type"`
	Level     Level                  `json:"level"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *resty.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "StrategyBacktester/1.0")
	return &WebhookNotifier{
		url:    url,
		client: client,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Send implements Notifier.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	w.logger.Debug().Str("type", n.Type).Int("status", resp.StatusCode()).Msg("Notification sent")
	return nil
}

// BatchComplete summarizes a batch of backtests, best strategy first.
func BatchComplete(comparison []trading.StrategyComparison, failed int) Notification {
	n := Notification{
		Type:  EventBatchComplete,
		Level: LevelInfo,
		Title: "Backtest batch complete",
		Data: map[string]interface{}{
			"completed":  len(comparison),
			"failed":     failed,
			"comparison": comparison,
		},
	}
	if failed > 0 {
		n.Level = LevelWarning
	}
	switch {
	case len(comparison) == 0:
		n.Message = fmt.Sprintf("No strategy completed, %d failed", failed)
	default:
		best := comparison[0]
		n.Message = fmt.Sprintf("%d completed, %d failed. Best: %s (net %.2f, %.2f%%)",
			len(comparison), failed, best.Strategy, best.NetPnL, best.NetReturn)
	}
	return n
}

// RefreshFailed reports a scheduled instrument refresh that did not complete.
func RefreshFailed(brokerID string, err error) Notification {
	return Notification{
		Type:    EventRefreshFailed,
		Level:   LevelError,
		Title:   "Instrument refresh failed",
		Message: fmt.Sprintf("%s: %v", brokerID, err),
		Data:    map[string]interface{}{"broker": brokerID},
	}
}
