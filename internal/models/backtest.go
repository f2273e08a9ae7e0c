package models

import (
	"errors"
	"time"

	apperrors "strategy-backtester/internal/errors"
)

// ErrRunSealed is returned when a sealed run is modified.
var ErrRunSealed = errors.New("backtest run is sealed")

// EquityPoint is one point of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Metrics are the aggregate statistics of a run.
type Metrics struct {
	TotalTrades       int                `json:"total_trades"`
	WinningTrades     int                `json:"winning_trades"`
	LosingTrades      int                `json:"losing_trades"`
	TotalPnL          float64            `json:"total_pnl"`
	TotalReturn       float64            `json:"total_return_pct"`
	TotalCosts        float64            `json:"total_costs"`
	NetPnL            float64            `json:"net_pnl"`
	NetReturn         float64            `json:"net_return_pct"`
	WinRate           float64            `json:"win_rate"`
	AvgWin            float64            `json:"avg_win"`
	AvgLoss           float64            `json:"avg_loss"`
	ProfitFactor      float64            `json:"profit_factor"`
	MaxWinStreak      int                `json:"max_win_streak"`
	MaxLossStreak     int                `json:"max_loss_streak"`
	MaxDrawdown       float64            `json:"max_drawdown_pct"`
	SharpeRatio       *float64           `json:"sharpe_ratio"`
	FinalEquity       float64            `json:"final_equity"`
	ExitReasonCounts  map[ExitReason]int `json:"exit_reasons,omitempty"`
	AvgHoldingMinutes float64            `json:"avg_holding_minutes"`
}

// BacktestRun is the result of one simulation. Built incrementally by the
// simulator and immutable once sealed.
type BacktestRun struct {
	ID             string        `json:"id"`
	StrategyID     string        `json:"strategy_id"`
	StrategyName   string        `json:"strategy_name"`
	BrokerID       string        `json:"broker_id,omitempty"`
	Period         Period        `json:"period"`
	Interval       string        `json:"interval"`
	InitialCapital float64       `json:"initial_capital"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Metrics        Metrics       `json:"metrics"`
	BarsProcessed  int           `json:"bars_processed"`
	CreatedAt      time.Time     `json:"created_at"`
	sealed         bool
}

// Sealed reports whether the run is complete and immutable.
func (r *BacktestRun) Sealed() bool { return r.sealed }

// AppendTrade records a closed trade.
func (r *BacktestRun) AppendTrade(t Trade) error {
	if r.sealed {
		return ErrRunSealed
	}
	r.Trades = append(r.Trades, t)
	return nil
}

// AppendEquity records the equity of one processed bar.
func (r *BacktestRun) AppendEquity(p EquityPoint) error {
	if r.sealed {
		return ErrRunSealed
	}
	r.EquityCurve = append(r.EquityCurve, p)
	r.BarsProcessed++
	return nil
}

// Seal attaches the final metrics and freezes the run.
func (r *BacktestRun) Seal(m Metrics) error {
	if r.sealed {
		return ErrRunSealed
	}
	r.Metrics = m
	r.sealed = true
	return nil
}

// Restore marks a run loaded from durable storage as sealed.
// Only sealed runs are ever persisted.
func (r *BacktestRun) Restore() { r.sealed = true }

// FinalEquity is the last equity value, or the initial capital for an empty curve.
func (r *BacktestRun) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return r.InitialCapital
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Equity
}

// ValidationResult is the aggregated outcome of strategy validation.
type ValidationResult struct {
	Valid  bool       `json:"valid"`
	Errors []LegIssue `json:"errors,omitempty"`
}

// LegIssue is one validation failure; LegID is empty for strategy-level issues.
type LegIssue struct {
	LegID   string `json:"leg_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() ValidationResult {
	return ValidationResult{Valid: true}
}

// Add records an issue and marks the result invalid.
func (v *ValidationResult) Add(legID, field, message string) {
	v.Errors = append(v.Errors, LegIssue{LegID: legID, Field: field, Message: message})
	v.Valid = false
}

// Merge appends other's issues.
func (v *ValidationResult) Merge(other ValidationResult) {
	for _, e := range other.Errors {
		v.Add(e.LegID, e.Field, e.Message)
	}
}

// Err converts an invalid result into a *errors.StrategyInvalidError, or nil.
func (v ValidationResult) Err(strategyID string) error {
	if v.Valid {
		return nil
	}
	issues := make([]*apperrors.ValidationError, 0, len(v.Errors))
	for _, e := range v.Errors {
		issues = append(issues, apperrors.NewLegValidationError(e.LegID, e.Field, e.Message))
	}
	return apperrors.NewStrategyInvalidError(strategyID, issues)
}
