package models

import (
	"fmt"
	"strings"
)

// StrategyKind names the strategy variant.
type StrategyKind string

const (
	KindTimeBased      StrategyKind = "time_based"
	KindIndicatorBased StrategyKind = "indicator_based"
)

// Session is the intraday window shared by both strategy variants.
type Session struct {
	StartTime     TimeOfDay   `json:"start_time"`
	SquareOffTime TimeOfDay   `json:"square_off_time"`
	TradingDays   TradingDays `json:"trading_days"`
}

// StrategySpec is the closed set of strategy variants.
// Only *TimeBased and *IndicatorBased implement it; callers switch on the
// concrete type.
type StrategySpec interface {
	Kind() StrategyKind
	Window() Session
	sealedStrategy()
}

// TimeBased enters every leg when the clock first reaches StartTime.
type TimeBased struct {
	Session
	Legs []OrderLeg `json:"legs"`
}

func (*TimeBased) Kind() StrategyKind { return KindTimeBased }
func (t *TimeBased) Window() Session  { return t.Session }
func (*TimeBased) sealedStrategy()    {}

// IndicatorBased enters each instrument when all entry conditions hold on its own series.
type IndicatorBased struct {
	Session
	Instruments     []IndicatorInstrument `json:"instruments"`
	EntryConditions []EntryCondition      `json:"entry_conditions"`
	ChartType       ChartType             `json:"chart_type"`
	Interval        string                `json:"interval"`
}

func (*IndicatorBased) Kind() StrategyKind { return KindIndicatorBased }
func (i *IndicatorBased) Window() Session  { return i.Session }
func (*IndicatorBased) sealedStrategy()    {}

// ChartType selects the candle transform applied before indicators.
type ChartType string

const (
	ChartCandle     ChartType = "candle"
	ChartHeikinAshi ChartType = "heikin_ashi"
)

// IndicatorInstrument is one traded instrument of an indicator strategy.
type IndicatorInstrument struct {
	InstrumentID string    `json:"instrument_id"`
	Quantity     int       `json:"quantity"`
	Action       OrderSide `json:"action"`
	StopLoss     StopSpec  `json:"stop_loss"`
	TakeProfit   StopSpec  `json:"take_profit"`
}

// Comparator is an entry-condition comparison operator.
type Comparator string

const (
	CompGreater      Comparator = ">"
	CompLess         Comparator = "<"
	CompGreaterEqual Comparator = ">="
	CompLessEqual    Comparator = "<="
	CompEqual        Comparator = "=="
	CompCrossAbove   Comparator = "CROSSES_ABOVE"
	CompCrossBelow   Comparator = "CROSSES_BELOW"
)

// EntryCondition compares Indicator1(Period) against Indicator2(Period2) or a constant Value.
// An empty Indicator2 (or "VALUE") compares against Value.
type EntryCondition struct {
	Indicator1 string     `json:"indicator1"`
	Comparator Comparator `json:"comparator"`
	Indicator2 string     `json:"indicator2,omitempty"`
	Period     int        `json:"period"`
	Period2    int        `json:"period2,omitempty"`
	Value      float64    `json:"value,omitempty"`
}

// UsesValue reports whether the right-hand side is the constant Value.
func (c EntryCondition) UsesValue() bool {
	return c.Indicator2 == "" || strings.EqualFold(c.Indicator2, "VALUE")
}

// RightPeriod returns the period of Indicator2, defaulting to Period.
func (c EntryCondition) RightPeriod() int {
	if c.Period2 > 0 {
		return c.Period2
	}
	return c.Period
}

// IndicatorRef names one indicator line.
type IndicatorRef struct {
	Name   string
	Period int
}

// Operands lists the indicator lines the condition reads.
func (c EntryCondition) Operands() []IndicatorRef {
	refs := []IndicatorRef{{Name: c.Indicator1, Period: c.Period}}
	if !c.UsesValue() {
		refs = append(refs, IndicatorRef{Name: c.Indicator2, Period: c.RightPeriod()})
	}
	return refs
}

func (c EntryCondition) String() string {
	left := fmt.Sprintf("%s(%d)", c.Indicator1, c.Period)
	if c.UsesValue() {
		return fmt.Sprintf("%s %s %g", left, c.Comparator, c.Value)
	}
	return fmt.Sprintf("%s %s %s(%d)", left, c.Comparator, c.Indicator2, c.RightPeriod())
}

// StopType is how a stop-loss or take-profit distance is expressed.
type StopType string

const (
	StopPoints     StopType = "Points"
	StopPercentage StopType = "Percentage"
	StopAmount     StopType = "Amount"
)

// ParseStopType accepts any casing of points/percentage/amount.
func ParseStopType(s string) (StopType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "points", "point", "pts":
		return StopPoints, nil
	case "percentage", "percent", "pct", "%":
		return StopPercentage, nil
	case "amount", "amt", "rupees":
		return StopAmount, nil
	case "":
		return StopPoints, nil
	}
	return "", fmt.Errorf("unknown stop type %q", s)
}

// StopSpec is a stop-loss or take-profit distance. A zero Value disables it.
type StopSpec struct {
	Type  StopType `json:"type"`
	Value float64  `json:"value"`
}

// Enabled reports whether the stop is active.
func (s StopSpec) Enabled() bool { return s.Value > 0 }

// Distance converts the spec into a per-unit price distance from entry.
func (s StopSpec) Distance(entry float64, quantity int) float64 {
	switch s.Type {
	case StopPercentage:
		return entry * s.Value / 100
	case StopAmount:
		if quantity <= 0 {
			return 0
		}
		return s.Value / float64(quantity)
	default:
		return s.Value
	}
}

// StrikeMode selects how an option leg's strike is chosen.
type StrikeMode string

const (
	StrikeATM   StrikeMode = "ATM"
	StrikeITM   StrikeMode = "ITM"
	StrikeOTM   StrikeMode = "OTM"
	StrikeExact StrikeMode = "EXACT"
)

// StrikeSelection is the strike selection rule of an option leg.
type StrikeSelection struct {
	Mode   StrikeMode `json:"mode,omitempty"`
	Offset int        `json:"offset,omitempty"`
	Price  float64    `json:"price,omitempty"`
}

// OrderLeg is one order within a multi-leg strategy.
type OrderLeg struct {
	ID             string          `json:"id"`
	InstrumentID   string          `json:"instrument_id"`
	Action         OrderSide       `json:"action"`
	Quantity       int             `json:"quantity"`
	InstrumentType string          `json:"instrument_type,omitempty"`
	Expiry         string          `json:"expiry,omitempty"`
	Strike         StrikeSelection `json:"strike,omitempty"`
	StopLoss       StopSpec        `json:"stop_loss"`
	TakeProfit     StopSpec        `json:"take_profit"`
}

// TrailingKind is the closed three-way trailing variant.
type TrailingKind int

const (
	NoTrailing TrailingKind = iota
	TrailProfit
	LockAndTrail
)

func (k TrailingKind) String() string {
	switch k {
	case TrailProfit:
		return "Trail Profit"
	case LockAndTrail:
		return "Lock and Trail"
	default:
		return "No Trailing"
	}
}

// ProfitTrailing carries the raw label from the document plus the normalized
// Kind, which is only meaningful once the strategy has been validated.
// Thresholds are favorable price excursions per unit.
type ProfitTrailing struct {
	Label             string       `json:"type"`
	Kind              TrailingKind `json:"-"`
	ProfitReaches     float64      `json:"profit_reaches,omitempty"`
	LockProfitAt      float64      `json:"lock_profit_at,omitempty"`
	OnEveryIncreaseOf float64      `json:"on_every_increase_of,omitempty"`
	TrailBy           float64      `json:"trail_by,omitempty"`
}

// RiskManagement holds portfolio-level exit rules.
type RiskManagement struct {
	ExitProfitAmount float64        `json:"exit_profit_amount,omitempty"`
	ExitLossAmount   float64        `json:"exit_loss_amount,omitempty"`
	NoTradeAfterTime *TimeOfDay     `json:"no_trade_after_time,omitempty"`
	MaxTradeCycle    int            `json:"max_trade_cycle,omitempty"`
	ProfitTrailing   ProfitTrailing `json:"profit_trailing"`
}

// EntriesPerDay is the per-leg daily entry budget; zero means one.
func (r RiskManagement) EntriesPerDay() int {
	if r.MaxTradeCycle < 1 {
		return 1
	}
	return r.MaxTradeCycle
}

// Strategy is a named strategy variant plus its risk rules.
type Strategy struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Spec      StrategySpec   `json:"-"`
	Risk      RiskManagement `json:"risk_management"`
	validated bool
}

// Validated reports whether the strategy passed validation.
func (s *Strategy) Validated() bool { return s.validated }

// MarkValidated is set by the validator after trailing labels are normalized.
func (s *Strategy) MarkValidated() { s.validated = true }

// InstrumentIDs lists every instrument the strategy trades, in leg order, without duplicates.
func (s *Strategy) InstrumentIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	switch spec := s.Spec.(type) {
	case *TimeBased:
		for _, l := range spec.Legs {
			add(l.InstrumentID)
		}
	case *IndicatorBased:
		for _, in := range spec.Instruments {
			add(in.InstrumentID)
		}
	}
	return ids
}

// IndicatorLegID names the leg slot of the i-th instrument of an indicator strategy.
func IndicatorLegID(i int) string {
	return fmt.Sprintf("I%d", i+1)
}
