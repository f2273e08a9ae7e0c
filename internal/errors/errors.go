// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors
var (
	ErrNotFound           = errors.New("instrument not found")
	ErrNotTradable        = errors.New("instrument not tradable")
	ErrDataUnavailable    = errors.New("historical data unavailable")
	ErrStrategyInvalid    = errors.New("strategy invalid")
	ErrStrategyUnverified = errors.New("strategy has not been validated")
	ErrSimulation         = errors.New("simulation invariant violated")
	ErrRateLimited        = errors.New("rate limited")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDataNotFound       = errors.New("data not found")
	ErrDatabaseError      = errors.New("database error")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a structural or cross-reference validation failure.
// LegID is empty for strategy-level problems.
type ValidationError struct {
	LegID   string
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation error: ")
	if e.LegID != "" {
		fmt.Fprintf(&b, "leg %s: ", e.LegID)
	}
	b.WriteString(e.Field)
	if e.Value != nil {
		fmt.Fprintf(&b, " (%v)", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewLegValidationError creates a ValidationError attributed to a leg.
func NewLegValidationError(legID, field, message string) *ValidationError {
	return &ValidationError{
		LegID:   legID,
		Field:   field,
		Message: message,
	}
}

// StrategyInvalidError aggregates every validation failure of a strategy.
type StrategyInvalidError struct {
	StrategyID string
	Issues     []*ValidationError
}

func (e *StrategyInvalidError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, strings.TrimPrefix(i.Error(), "validation error: "))
	}
	return fmt.Sprintf("strategy %s invalid (%d issues): %s", e.StrategyID, len(e.Issues), strings.Join(msgs, "; "))
}

func (e *StrategyInvalidError) Unwrap() error {
	return ErrStrategyInvalid
}

// NewStrategyInvalidError creates a new StrategyInvalidError.
func NewStrategyInvalidError(strategyID string, issues []*ValidationError) *StrategyInvalidError {
	return &StrategyInvalidError{
		StrategyID: strategyID,
		Issues:     issues,
	}
}

// ResolutionKind distinguishes the two ways resolution fails.
type ResolutionKind string

const (
	ResolutionNotFound    ResolutionKind = "NOT_FOUND"
	ResolutionNotTradable ResolutionKind = "NOT_TRADABLE"
)

// InstrumentResolutionError is returned when an instrument cannot be mapped to a broker token.
type InstrumentResolutionError struct {
	Kind         ResolutionKind
	InstrumentID string
	BrokerID     string
	Reason       string
}

func (e *InstrumentResolutionError) Error() string {
	return fmt.Sprintf("resolve %s on %s: %s: %s", e.InstrumentID, e.BrokerID, strings.ToLower(string(e.Kind)), e.Reason)
}

func (e *InstrumentResolutionError) Unwrap() error {
	if e.Kind == ResolutionNotTradable {
		return ErrNotTradable
	}
	return ErrNotFound
}

// NewNotFoundError creates a NOT_FOUND resolution error.
func NewNotFoundError(instrumentID, brokerID, reason string) *InstrumentResolutionError {
	return &InstrumentResolutionError{
		Kind:         ResolutionNotFound,
		InstrumentID: instrumentID,
		BrokerID:     brokerID,
		Reason:       reason,
	}
}

// NewNotTradableError creates a NOT_TRADABLE resolution error.
func NewNotTradableError(instrumentID, brokerID, reason string) *InstrumentResolutionError {
	return &InstrumentResolutionError{
		Kind:         ResolutionNotTradable,
		InstrumentID: instrumentID,
		BrokerID:     brokerID,
		Reason:       reason,
	}
}

// DataUnavailableError identifies the window the provider could not serve.
type DataUnavailableError struct {
	InstrumentID string
	From         time.Time
	To           time.Time
	Interval     string
	Attempts     int
	Err          error
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("data unavailable for %s [%s .. %s] @%s",
		e.InstrumentID, e.From.Format(time.RFC3339), e.To.Format(time.RFC3339), e.Interval)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrDataUnavailable as well as the wrapped cause.
func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// NewDataUnavailableError creates a new DataUnavailableError.
func NewDataUnavailableError(instrumentID string, from, to time.Time, interval string, err error) *DataUnavailableError {
	return &DataUnavailableError{
		InstrumentID: instrumentID,
		From:         from,
		To:           to,
		Interval:     interval,
		Err:          err,
	}
}

// SimulationError is an internal invariant violation during replay. Fatal to the run.
type SimulationError struct {
	Op        string
	LegID     string
	Timestamp time.Time
	Message   string
}

func (e *SimulationError) Error() string {
	if e.LegID != "" {
		return fmt.Sprintf("simulation error [%s] leg %s at %s: %s", e.Op, e.LegID, e.Timestamp.Format(time.RFC3339), e.Message)
	}
	return fmt.Sprintf("simulation error [%s]: %s", e.Op, e.Message)
}

func (e *SimulationError) Unwrap() error {
	return ErrSimulation
}

// NewSimulationError creates a new SimulationError.
func NewSimulationError(op, legID string, ts time.Time, message string) *SimulationError {
	return &SimulationError{
		Op:        op,
		LegID:     legID,
		Timestamp: ts,
		Message:   message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
