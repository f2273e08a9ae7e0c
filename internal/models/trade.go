package models

import "time"

// ExitReason is why a leg was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "SL"
	ExitTakeProfit ExitReason = "TP"
	ExitTrail      ExitReason = "TRAIL"
	ExitTime       ExitReason = "TIME"
	ExitPortfolio  ExitReason = "PORTFOLIO"
	ExitCycleLimit ExitReason = "CYCLE_LIMIT"
)

// ExitReasons lists every reason in reporting order.
var ExitReasons = []ExitReason{ExitStopLoss, ExitTakeProfit, ExitTrail, ExitTime, ExitPortfolio, ExitCycleLimit}

// Trade is a completed round trip of one leg instance. Immutable once recorded.
type Trade struct {
	Symbol          string     `json:"symbol"`
	LegID           string     `json:"leg_id"`
	InstrumentID    string     `json:"instrument_id"`
	Side            OrderSide  `json:"side"`
	EntryPrice      float64    `json:"entry_price"`
	ExitPrice       float64    `json:"exit_price"`
	Quantity        int        `json:"quantity"`
	PnL             float64    `json:"pnl"`
	TransactionCost float64    `json:"transaction_cost"`
	ExitReason      ExitReason `json:"exit_reason"`
	EntryTimestamp  time.Time  `json:"entry_timestamp"`
	ExitTimestamp   time.Time  `json:"exit_timestamp"`
}

// NetPnL is the trade P&L after transaction costs.
func (t Trade) NetPnL() float64 {
	return t.PnL - t.TransactionCost
}

// HoldDuration is how long the leg was open.
func (t Trade) HoldDuration() time.Duration {
	return t.ExitTimestamp.Sub(t.EntryTimestamp)
}

// IntentKind distinguishes entry and exit intents.
type IntentKind string

const (
	IntentEntry IntentKind = "ENTRY"
	IntentExit  IntentKind = "EXIT"
)

// OrderIntent is an order the risk engine wants placed. The engine never
// sends it anywhere; a broker collaborator may route it verbatim.
type OrderIntent struct {
	StrategyID   string     `json:"strategy_id"`
	LegID        string     `json:"leg_id"`
	InstrumentID string     `json:"instrument_id"`
	Kind         IntentKind `json:"kind"`
	Side         OrderSide  `json:"side"`
	Quantity     int        `json:"quantity"`
	Price        float64    `json:"price"`
	Reason       ExitReason `json:"reason,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
