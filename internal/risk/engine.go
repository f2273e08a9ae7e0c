// Package risk implements the per-leg state machine, trailing stops and
// close-priority rules that the simulator drives bar by bar.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

// LegState is the lifecycle state of one leg instance.
type LegState string

const (
	StatePendingEntry    LegState = "PENDING_ENTRY"
	StateOpen            LegState = "OPEN"
	StateClosedSL        LegState = "CLOSED_SL"
	StateClosedTP        LegState = "CLOSED_TP"
	StateClosedTrail     LegState = "CLOSED_TRAIL"
	StateClosedPortfolio LegState = "CLOSED_PORTFOLIO"
	StateClosedTime      LegState = "CLOSED_TIME"
	StateClosedCycle     LegState = "CLOSED_CYCLE_LIMIT"
)

var closedStates = map[models.ExitReason]LegState{
	models.ExitStopLoss:   StateClosedSL,
	models.ExitTakeProfit: StateClosedTP,
	models.ExitTrail:      StateClosedTrail,
	models.ExitPortfolio:  StateClosedPortfolio,
	models.ExitTime:       StateClosedTime,
	models.ExitCycleLimit: StateClosedCycle,
}

// Terminal reports whether the state is final.
func (s LegState) Terminal() bool {
	return s != StatePendingEntry && s != StateOpen
}

// LegSpec is the static definition of one leg slot.
type LegSpec struct {
	ID           string
	InstrumentID string
	Symbol       string
	Side         models.OrderSide
	Quantity     int
	StopLoss     models.StopSpec
	TakeProfit   models.StopSpec
}

// Config is everything the engine needs from a validated strategy.
type Config struct {
	StrategyID string
	Session    models.Session
	Risk       models.RiskManagement
	Legs       []LegSpec
}

// Leg is one instance of a leg slot. A re-entry creates a new instance.
type Leg struct {
	InstanceID string
	Slot       int
	State      LegState
	EntryPrice float64
	EntryTime  time.Time
	LastPrice  float64
	HardStop   float64 // NaN when the stop-loss is disabled
	Target     float64 // NaN when the take-profit is disabled
	trail      int
}

// IntentSink receives order intents as the engine emits them.
type IntentSink interface {
	Submit(models.OrderIntent)
}

// IntentFunc adapts a function to IntentSink.
type IntentFunc func(models.OrderIntent)

func (f IntentFunc) Submit(i models.OrderIntent) { f(i) }

type discardSink struct{}

func (discardSink) Submit(models.OrderIntent) {}

type slot struct {
	spec      LegSpec
	entries   int // today
	instances int // over the run
	open      int // index into legs, -1 when flat
}

// Engine holds all mutable risk state of one run.
type Engine struct {
	cfg    Config
	slots  []slot
	legs   []Leg
	arena  []TrailingState
	sink   IntentSink
	logger zerolog.Logger

	halted bool
	// realizedBar is the P&L of legs closed during the current Update.
	realizedBar float64
}

// NewEngine creates an engine for one run. The strategy's trailing kind must
// already be normalized.
func NewEngine(cfg Config, sink IntentSink, logger zerolog.Logger) *Engine {
	if sink == nil {
		sink = discardSink{}
	}
	e := &Engine{
		cfg:    cfg,
		slots:  make([]slot, len(cfg.Legs)),
		sink:   sink,
		logger: logger.With().Str("component", "risk").Str("strategy_id", cfg.StrategyID).Logger(),
	}
	for i, l := range cfg.Legs {
		e.slots[i] = slot{spec: l, open: -1}
	}
	return e
}

// Slots returns the number of leg slots.
func (e *Engine) Slots() int { return len(e.slots) }

// Spec returns the definition of slot i.
func (e *Engine) Spec(i int) LegSpec { return e.slots[i].spec }

// cutoff is the time of day after which no entries are taken and open legs
// are squared off.
func (e *Engine) cutoff() models.TimeOfDay {
	if nta := e.cfg.Risk.NoTradeAfterTime; nta != nil && *nta < e.cfg.Session.SquareOffTime {
		return *nta
	}
	return e.cfg.Session.SquareOffTime
}

// StartDay resets the per-day entry budget and portfolio halt. Open legs must
// have been closed by the caller.
func (e *Engine) StartDay() {
	for i := range e.slots {
		e.slots[i].entries = 0
	}
	e.halted = false
}

// Halted reports whether a portfolio exit stopped trading for the day.
func (e *Engine) Halted() bool { return e.halted }

// IsOpen reports whether slot i has an open leg.
func (e *Engine) IsOpen(i int) bool { return e.slots[i].open >= 0 }

// OpenCount returns the number of open legs.
func (e *Engine) OpenCount() int {
	n := 0
	for _, s := range e.slots {
		if s.open >= 0 {
			n++
		}
	}
	return n
}

// InWindow reports whether ts is inside the entry window of an active trading day.
func (e *Engine) InWindow(ts time.Time) bool {
	if !e.cfg.Session.TradingDays.Active(ts) {
		return false
	}
	tod := models.TimeOfDayOf(ts)
	return tod >= e.cfg.Session.StartTime && tod < e.cutoff()
}

// CanEnter reports whether slot i may open a new leg at ts.
func (e *Engine) CanEnter(i int, ts time.Time) bool {
	s := e.slots[i]
	return !e.halted && s.open < 0 && s.entries < e.cfg.Risk.EntriesPerDay() && e.InWindow(ts)
}

// Enter opens a new leg instance on slot i at price.
func (e *Engine) Enter(i int, price float64, ts time.Time) error {
	s := &e.slots[i]
	if s.open >= 0 {
		return apperrors.NewSimulationError("enter", s.spec.ID, ts, "slot already has an open leg")
	}
	if !e.CanEnter(i, ts) {
		return apperrors.NewSimulationError("enter", s.spec.ID, ts, "entry outside window or budget")
	}

	s.entries++
	s.instances++
	spec := s.spec
	sign := spec.Side.Sign()

	leg := Leg{
		InstanceID: fmt.Sprintf("%s#%d", spec.ID, s.instances),
		Slot:       i,
		State:      StatePendingEntry,
		EntryPrice: price,
		EntryTime:  ts,
		LastPrice:  price,
		HardStop:   math.NaN(),
		Target:     math.NaN(),
		trail:      len(e.arena),
	}
	if spec.StopLoss.Enabled() {
		leg.HardStop = price - sign*spec.StopLoss.Distance(price, spec.Quantity)
	}
	if spec.TakeProfit.Enabled() {
		leg.Target = price + sign*spec.TakeProfit.Distance(price, spec.Quantity)
	}
	e.arena = append(e.arena, newTrailingState(spec.Side, price, leg.HardStop))
	leg.State = StateOpen
	e.legs = append(e.legs, leg)
	s.open = len(e.legs) - 1

	e.sink.Submit(models.OrderIntent{
		StrategyID:   e.cfg.StrategyID,
		LegID:        leg.InstanceID,
		InstrumentID: spec.InstrumentID,
		Kind:         models.IntentEntry,
		Side:         spec.Side,
		Quantity:     spec.Quantity,
		Price:        price,
		Timestamp:    ts,
	})
	e.logger.Debug().Str("leg", leg.InstanceID).Float64("price", price).Time("ts", ts).Msg("Leg entered")
	return nil
}

// Leg returns the open leg of slot i.
func (e *Engine) Leg(i int) (Leg, bool) {
	s := e.slots[i]
	if s.open < 0 {
		return Leg{}, false
	}
	return e.legs[s.open], true
}

// EffectiveStop is the protective stop of slot i's open leg. It is ±Inf when
// the leg has neither a stop-loss nor an active trailing stop.
func (e *Engine) EffectiveStop(i int) (float64, bool) {
	leg, ok := e.Leg(i)
	if !ok {
		return 0, false
	}
	return e.arena[leg.trail].CurrentStop, true
}

// Trailing returns a copy of slot i's trailing state.
func (e *Engine) Trailing(i int) (TrailingState, bool) {
	leg, ok := e.Leg(i)
	if !ok {
		return TrailingState{}, false
	}
	return e.arena[leg.trail], true
}

func (e *Engine) unrealized(l *Leg) float64 {
	spec := e.slots[l.Slot].spec
	return spec.Side.Sign() * (l.LastPrice - l.EntryPrice) * float64(spec.Quantity)
}

func (e *Engine) close(l *Leg, reason models.ExitReason, ts time.Time) (models.Trade, error) {
	spec := e.slots[l.Slot].spec
	if l.State != StateOpen {
		return models.Trade{}, apperrors.NewSimulationError("close", l.InstanceID, ts,
			fmt.Sprintf("cannot close leg in state %s", l.State))
	}
	l.State = closedStates[reason]
	e.slots[l.Slot].open = -1

	pnl := e.unrealized(l)
	e.realizedBar += pnl
	trade := models.Trade{
		Symbol:         spec.Symbol,
		LegID:          spec.ID,
		InstrumentID:   spec.InstrumentID,
		Side:           spec.Side,
		EntryPrice:     l.EntryPrice,
		ExitPrice:      l.LastPrice,
		Quantity:       spec.Quantity,
		PnL:            pnl,
		ExitReason:     reason,
		EntryTimestamp: l.EntryTime,
		ExitTimestamp:  ts,
	}
	e.sink.Submit(models.OrderIntent{
		StrategyID:   e.cfg.StrategyID,
		LegID:        l.InstanceID,
		InstrumentID: spec.InstrumentID,
		Kind:         models.IntentExit,
		Side:         spec.Side.Opposite(),
		Quantity:     spec.Quantity,
		Price:        l.LastPrice,
		Reason:       reason,
		Timestamp:    ts,
	})
	return trade, nil
}

// legExit applies the per-leg close rules in priority order.
func (e *Engine) legExit(l *Leg) (models.ExitReason, bool) {
	side := e.slots[l.Slot].spec.Side
	st := e.arena[l.trail]
	price := l.LastPrice
	switch {
	case !math.IsNaN(l.HardStop) && breached(side, price, l.HardStop):
		return models.ExitStopLoss, true
	case st.Trailed && breached(side, price, st.CurrentStop):
		return models.ExitTrail, true
	case !math.IsNaN(l.Target) && breached(side.Opposite(), price, l.Target):
		return models.ExitTakeProfit, true
	}
	return "", false
}

// Update marks every open leg to its price at ts and applies trailing and
// close rules. prices maps instrument id to the bar close; a leg without a
// price keeps its last mark. Closed trades are returned in close order.
func (e *Engine) Update(ts time.Time, prices map[string]float64) ([]models.Trade, error) {
	var trades []models.Trade
	e.realizedBar = 0

	// 1-3(c): mark, trail and check the per-leg exits.
	var exhausted []int
	for i := range e.slots {
		s := &e.slots[i]
		if s.open < 0 {
			continue
		}
		leg := &e.legs[s.open]
		if p, ok := prices[s.spec.InstrumentID]; ok {
			leg.LastPrice = p
		}

		st := &e.arena[leg.trail]
		prev := st.CurrentStop
		if trail(st, s.spec.Side, e.cfg.Risk.ProfitTrailing, leg.LastPrice) {
			e.logger.Debug().Str("leg", leg.InstanceID).Float64("stop", st.CurrentStop).Msg("Stop trailed")
		}
		// trail only ever tightens; these assertions catch a regression in it.
		if better(s.spec.Side, prev, st.CurrentStop) {
			return nil, apperrors.NewSimulationError("trail", leg.InstanceID, ts,
				fmt.Sprintf("stop moved from %.4f to %.4f against the position", prev, st.CurrentStop))
		}
		if st.LockedFloor != nil && better(s.spec.Side, *st.LockedFloor, st.CurrentStop) {
			return nil, apperrors.NewSimulationError("trail", leg.InstanceID, ts, "stop below locked floor")
		}

		reason, hit := e.legExit(leg)
		if !hit {
			continue
		}
		t, err := e.close(leg, reason, ts)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
		if e.cfg.Risk.MaxTradeCycle > 0 && s.entries >= e.cfg.Risk.EntriesPerDay() {
			exhausted = append(exhausted, i)
		}
	}

	// A slot that stopped out with no entries left ends the cycle for its siblings.
	if len(exhausted) > 0 && len(e.slots) > 1 {
		closed, err := e.closeOpen(models.ExitCycleLimit, ts)
		if err != nil {
			return nil, err
		}
		trades = append(trades, closed...)
	}

	// 3(d): portfolio exits over the legs open at bar start.
	if e.OpenCount() > 0 && e.portfolioHit() {
		closed, err := e.closeOpen(models.ExitPortfolio, ts)
		if err != nil {
			return nil, err
		}
		trades = append(trades, closed...)
		e.halted = true
		e.logger.Debug().Time("ts", ts).Msg("Portfolio exit, trading halted for the day")
	}

	// 3(e): time exits.
	if e.OpenCount() > 0 && models.TimeOfDayOf(ts) >= e.cutoff() {
		closed, err := e.closeOpen(models.ExitTime, ts)
		if err != nil {
			return nil, err
		}
		trades = append(trades, closed...)
	}
	return trades, nil
}

// portfolioHit sums the P&L of the legs open at bar start: those closed
// earlier in this Update plus the ones still open. Legs closed on earlier
// bars do not count.
func (e *Engine) portfolioHit() bool {
	r := e.cfg.Risk
	if r.ExitProfitAmount <= 0 && r.ExitLossAmount <= 0 {
		return false
	}
	total := e.realizedBar
	for _, s := range e.slots {
		if s.open >= 0 {
			total += e.unrealized(&e.legs[s.open])
		}
	}
	if r.ExitProfitAmount > 0 && total >= r.ExitProfitAmount {
		return true
	}
	return r.ExitLossAmount > 0 && total <= -r.ExitLossAmount
}

// CloseAll closes every open leg with reason at its last mark.
func (e *Engine) CloseAll(reason models.ExitReason, ts time.Time) ([]models.Trade, error) {
	return e.closeOpen(reason, ts)
}

func (e *Engine) closeOpen(reason models.ExitReason, ts time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	for i := range e.slots {
		if e.slots[i].open < 0 {
			continue
		}
		t, err := e.close(&e.legs[e.slots[i].open], reason, ts)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// History returns every leg instance created so far, in creation order.
func (e *Engine) History() []Leg {
	out := make([]Leg, len(e.legs))
	copy(out, e.legs)
	return out
}
