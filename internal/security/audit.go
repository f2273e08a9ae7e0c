// Package security provides the audit trail and credential masking.
package security

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/models"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Session events
	AuditLogin      AuditEventType = "LOGIN"
	AuditLogout     AuditEventType = "LOGOUT"
	AuditAuthFailed AuditEventType = "AUTH_FAILED"

	// Routed order intents
	AuditOrderRouted   AuditEventType = "ORDER_ROUTED"
	AuditOrderRejected AuditEventType = "ORDER_REJECTED"

	// Stored results
	AuditRunSaved   AuditEventType = "RUN_SAVED"
	AuditRunDeleted AuditEventType = "RUN_DELETED"

	AuditInstrumentsRefreshed AuditEventType = "INSTRUMENTS_REFRESHED"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	SessionID    string                 `json:"session_id"`
	StrategyID   string                 `json:"strategy_id,omitempty"`
	RunID        string                 `json:"run_id,omitempty"`
	InstrumentID string                 `json:"instrument_id,omitempty"`
	OrderID      string                 `json:"order_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMsg     string                 `json:"error,omitempty"`
}

// AuditLogger appends one JSON line per event. A nil *AuditLogger discards
// everything, so callers do not need to check whether auditing is enabled.
type AuditLogger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// AuditConfig holds audit file rotation settings.
type AuditConfig struct {
	Path       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig keeps a year of audit history next to path.
func DefaultAuditConfig(path string) AuditConfig {
	return AuditConfig{
		Path:       path,
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger opens a rotating audit file.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return newAuditLogger(writer), nil
}

func newAuditLogger(w io.WriteCloser) *AuditLogger {
	return &AuditLogger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// SessionID identifies every event written by this process.
func (al *AuditLogger) SessionID() string {
	if al == nil {
		return ""
	}
	return al.sessionID
}

// Log writes an audit event.
func (al *AuditLogger) Log(event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now().UTC()
	event.SessionID = al.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogLogin records a Kite login attempt.
func (al *AuditLogger) LogLogin(apiKey string, err error) error {
	event := AuditEvent{
		EventType: AuditLogin,
		Details:   map[string]interface{}{"api_key": MaskCredential(apiKey)},
		Success:   err == nil,
	}
	if err != nil {
		event.EventType = AuditAuthFailed
		event.ErrorMsg = MaskSensitive(err.Error())
	}
	return al.Log(event)
}

// LogLogout records a removed session.
func (al *AuditLogger) LogLogout() error {
	return al.Log(AuditEvent{EventType: AuditLogout, Success: true})
}

// LogRouted records every routed intent of a run.
func (al *AuditLogger) LogRouted(brokerID string, routed []broker.RoutedIntent) error {
	for _, r := range routed {
		event := AuditEvent{
			EventType:    AuditOrderRouted,
			StrategyID:   r.Intent.StrategyID,
			InstrumentID: r.Intent.InstrumentID,
			Details: map[string]interface{}{
				"broker":   brokerID,
				"leg":      r.Intent.LegID,
				"kind":     r.Intent.Kind,
				"side":     r.Intent.Side,
				"quantity": r.Intent.Quantity,
				"price":    r.Intent.Price,
			},
			Success: r.Err == nil,
		}
		if r.Intent.Reason != "" {
			event.Details["reason"] = r.Intent.Reason
		}
		if r.Result != nil {
			event.OrderID = r.Result.OrderID
		}
		if r.Err != nil {
			event.EventType = AuditOrderRejected
			event.ErrorMsg = r.Err.Error()
		}
		if err := al.Log(event); err != nil {
			return err
		}
	}
	return nil
}

// LogRunSaved records a stored backtest run.
func (al *AuditLogger) LogRunSaved(run *models.BacktestRun) error {
	return al.Log(AuditEvent{
		EventType:  AuditRunSaved,
		StrategyID: run.StrategyID,
		RunID:      run.ID,
		Details:    map[string]interface{}{"trades": len(run.Trades)},
		Success:    true,
	})
}

// LogRunDeleted records a removed backtest run.
func (al *AuditLogger) LogRunDeleted(runID string) error {
	return al.Log(AuditEvent{EventType: AuditRunDeleted, RunID: runID, Success: true})
}

// LogRefresh records an instrument table refresh for one broker.
func (al *AuditLogger) LogRefresh(brokerID string, count int, err error) error {
	event := AuditEvent{
		EventType: AuditInstrumentsRefreshed,
		Details:   map[string]interface{}{"broker": brokerID, "instruments": count},
		Success:   err == nil,
	}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return al.Log(event)
}

// Close flushes and closes the audit file.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.writer.Close()
}
