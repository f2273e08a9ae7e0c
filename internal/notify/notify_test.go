package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-backtester/internal/trading"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	err := n.Send(context.Background(), RefreshFailed("zerodha", errors.New("timeout")))
	require.NoError(t, err)

	assert.Equal(t, EventRefreshFailed, got.Type)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "zerodha: timeout", got.Message)
	assert.False(t, got.Timestamp.IsZero())
}

func TestWebhookNotifierReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	err := n.Send(context.Background(), Notification{Type: EventBatchComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestBatchComplete(t *testing.T) {
	n := BatchComplete([]trading.StrategyComparison{
		{Strategy: "straddle", NetPnL: 1520.5, NetReturn: 1.52},
		{Strategy: "rsi", NetPnL: -200},
	}, 1)

	assert.Equal(t, EventBatchComplete, n.Type)
	assert.Equal(t, LevelWarning, n.Level)
	assert.Equal(t, "2 completed, 1 failed. Best: straddle (net 1520.50, 1.52%)", n.Message)
	assert.Equal(t, 2, n.Data["completed"])

	empty := BatchComplete(nil, 3)
	assert.Equal(t, "No strategy completed, 3 failed", empty.Message)
}
