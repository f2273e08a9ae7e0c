package trading

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-backtester/internal/analysis/indicators"
	"strategy-backtester/internal/analytics"
	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/logging"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/risk"
	"strategy-backtester/pkg/utils"
)

// Request is one backtest to replay.
type Request struct {
	Strategy       *models.Strategy
	Series         map[string][]models.Candle // instrument id -> ascending bars
	Period         models.Period
	Interval       string
	InitialCapital float64
	BrokerID       string
}

// Options configures a Simulator.
type Options struct {
	Costs            CostModel
	Calendar         *Calendar
	PeriodsPerYear   float64
	IndicatorWorkers int
	Sink             risk.IntentSink
	Now              func() time.Time // stamps CreatedAt, never read inside the replay
}

// Simulator replays strategies bar by bar. It holds no per-run state and is
// safe for concurrent use when its intent sink is.
type Simulator struct {
	costs      CostModel
	calendar   *Calendar
	ppy        float64
	indicators *indicators.Engine
	sink       risk.IntentSink
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSimulator creates a simulator.
func NewSimulator(opts Options, logger zerolog.Logger) *Simulator {
	if opts.Calendar == nil {
		opts.Calendar = NewCalendar(nil)
	}
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = analytics.DefaultPeriodsPerYear
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulator{
		costs:      opts.Costs,
		calendar:   opts.Calendar,
		ppy:        opts.PeriodsPerYear,
		indicators: indicators.NewEngine(opts.IndicatorWorkers),
		sink:       opts.Sink,
		now:        opts.Now,
		logger:     logging.WithComponent(logger, "simulator"),
	}
}

// Calendar returns the session calendar the simulator replays against.
func (s *Simulator) Calendar() *Calendar {
	return s.calendar
}

// entryRule decides whether slot i should enter at timeline step ts.
// It returns the entry price.
type entryRule func(i int, ts time.Time) (float64, bool)

// replay is the mutable state of one run.
type replay struct {
	req      Request
	engine   *risk.Engine
	run      *models.BacktestRun
	bars     map[string]map[int64]int // instrument -> unix nano -> bar index
	last     map[string]float64       // last seen close per instrument
	slotOf   map[string]int
	enter    entryRule
	realized float64
	logger   zerolog.Logger
}

// Run replays req and returns the sealed run. A cancelled or failed replay
// returns no run.
func (s *Simulator) Run(ctx context.Context, req Request) (*models.BacktestRun, error) {
	start := time.Now()
	st := req.Strategy
	if st == nil || !st.Validated() {
		id := ""
		if st != nil {
			id = st.ID
		}
		return nil, apperrors.Wrapf(apperrors.ErrStrategyUnverified, "strategy %q", id)
	}
	if req.InitialCapital <= 0 {
		return nil, apperrors.NewValidationError("initial_capital", req.InitialCapital, "must be positive")
	}

	series, err := s.window(req)
	if err != nil {
		return nil, err
	}
	req.Series = series

	legs, err := legSpecs(st)
	if err != nil {
		return nil, err
	}

	run := &models.BacktestRun{
		ID:             uuid.NewString(),
		StrategyID:     st.ID,
		StrategyName:   st.Name,
		BrokerID:       req.BrokerID,
		Period:         req.Period,
		Interval:       req.Interval,
		InitialCapital: req.InitialCapital,
		CreatedAt:      s.now(),
	}
	logger := logging.WithRun(logging.WithStrategy(s.logger, st.ID), run.ID)

	r := &replay{
		req: req,
		engine: risk.NewEngine(risk.Config{
			StrategyID: st.ID,
			Session:    st.Spec.Window(),
			Risk:       st.Risk,
			Legs:       legs,
		}, s.sink, logger),
		run:    run,
		bars:   make(map[string]map[int64]int, len(series)),
		last:   make(map[string]float64, len(series)),
		slotOf: make(map[string]int, len(legs)),
		logger: logger,
	}
	for i, l := range legs {
		r.slotOf[l.ID] = i
	}
	for id, bars := range series {
		idx := make(map[int64]int, len(bars))
		for i, b := range bars {
			idx[b.Timestamp.UnixNano()] = i
		}
		r.bars[id] = idx
	}

	switch spec := st.Spec.(type) {
	case *models.TimeBased:
		r.enter = r.timeEntries()
	case *models.IndicatorBased:
		r.enter, err = s.indicatorEntries(ctx, r, spec)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewSimulationError("plan", "", time.Time{}, fmt.Sprintf("unsupported strategy variant %T", st.Spec))
	}

	timeline := s.timeline(series)
	if run.Period.From.IsZero() && len(timeline) > 0 {
		run.Period = models.Period{From: timeline[0], To: timeline[len(timeline)-1]}
	}

	if err := s.play(ctx, r, timeline); err != nil {
		return nil, err
	}

	if err := run.Seal(analytics.Compute(run, s.ppy, s.calendar.Location())); err != nil {
		return nil, err
	}
	logging.LogRun(logger, run, time.Since(start))
	return run, nil
}

// window restricts every series to the requested period and rejects missing
// ones, empty ones, and ones that stop short of a trading day in the period.
func (s *Simulator) window(req Request) (map[string][]models.Candle, error) {
	bounded := !req.Period.From.IsZero() && !req.Period.To.IsZero()
	days := req.Strategy.Spec.Window().TradingDays
	out := make(map[string][]models.Candle, len(req.Series))
	for _, id := range req.Strategy.InstrumentIDs() {
		bars := req.Series[id]
		if bounded {
			lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Timestamp.Before(req.Period.From) })
			hi := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(req.Period.To) })
			bars = bars[lo:hi]
		}
		if len(bars) == 0 {
			return nil, apperrors.NewDataUnavailableError(id, req.Period.From, req.Period.To, req.Interval, apperrors.ErrDataNotFound)
		}
		if bounded {
			if gapFrom, gapTo, short := s.calendar.Uncovered(bars, req.Period.From, req.Period.To, days); short {
				return nil, apperrors.NewDataUnavailableError(id, gapFrom, gapTo, req.Interval, apperrors.ErrDataNotFound)
			}
		}
		out[id] = bars
	}
	return out, nil
}

// timeline is the sorted union of bar timestamps in the exchange timezone.
func (s *Simulator) timeline(series map[string][]models.Candle) []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	keys := make([]int64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	loc := s.calendar.Location()
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = seen[k].In(loc)
	}
	return out
}

func (s *Simulator) play(ctx context.Context, r *replay, timeline []time.Time) error {
	loc := s.calendar.Location()
	days := r.req.Strategy.Spec.Window().TradingDays

	for k, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return err
		}

		if k == 0 || !utils.SameDay(timeline[k-1], ts, loc) {
			r.engine.StartDay()
		}

		prices := r.marks(ts)
		if s.calendar.IsTradingDay(ts, days) {
			for i := 0; i < r.engine.Slots(); i++ {
				if !r.engine.CanEnter(i, ts) {
					continue
				}
				price, ok := r.enter(i, ts)
				if !ok {
					continue
				}
				if err := r.engine.Enter(i, price, ts); err != nil {
					return err
				}
			}
		}

		closed, err := r.engine.Update(ts, prices)
		if err != nil {
			return err
		}
		if err := s.record(r, closed); err != nil {
			return err
		}

		// Last bar of the day (or of the data): square off here so the
		// equity point at ts already carries the exit.
		lastOfDay := k == len(timeline)-1 || !utils.SameDay(ts, timeline[k+1], loc)
		if lastOfDay && r.engine.OpenCount() > 0 {
			closed, err := r.engine.CloseAll(models.ExitTime, ts)
			if err != nil {
				return err
			}
			if err := s.record(r, closed); err != nil {
				return err
			}
		}

		if err := r.run.AppendEquity(models.EquityPoint{Timestamp: ts, Equity: r.req.InitialCapital + r.realized}); err != nil {
			return err
		}
	}
	return nil
}

// record prices in costs and appends trades in leg order.
func (s *Simulator) record(r *replay, trades []models.Trade) error {
	sort.SliceStable(trades, func(i, j int) bool {
		return r.slotOf[trades[i].LegID] < r.slotOf[trades[j].LegID]
	})
	for _, t := range trades {
		t.TransactionCost = s.costs.Cost(t)
		r.realized += t.PnL - t.TransactionCost
		if err := r.run.AppendTrade(t); err != nil {
			return err
		}
		logging.LogTrade(r.logger, t)
	}
	return nil
}

// marks returns the closes printed at ts and remembers them for carry-forward.
func (r *replay) marks(ts time.Time) map[string]float64 {
	prices := make(map[string]float64, len(r.bars))
	key := ts.UnixNano()
	for id, idx := range r.bars {
		if i, ok := idx[key]; ok {
			c := r.req.Series[id][i].Close
			prices[id] = c
			r.last[id] = c
		}
	}
	return prices
}

// timeEntries enters each leg on the first bar at or after the start time,
// using the latest known close of its instrument.
func (r *replay) timeEntries() entryRule {
	return func(i int, _ time.Time) (float64, bool) {
		p, ok := r.last[r.engine.Spec(i).InstrumentID]
		return p, ok
	}
}

// indicatorEntries precomputes each instrument's condition lines once and
// enters when every condition holds on that instrument's own bar.
func (s *Simulator) indicatorEntries(ctx context.Context, r *replay, spec *models.IndicatorBased) (entryRule, error) {
	sets := make([]*indicators.ConditionSet, len(spec.Instruments))
	for i, in := range spec.Instruments {
		chart := indicators.Transform(spec.ChartType, r.req.Series[in.InstrumentID])
		cs, err := s.indicators.Prepare(ctx, spec.EntryConditions, chart)
		if err != nil {
			return nil, fmt.Errorf("preparing indicators for %s: %w", in.InstrumentID, err)
		}
		sets[i] = cs
	}

	return func(i int, ts time.Time) (float64, bool) {
		id := spec.Instruments[i].InstrumentID
		bar, ok := r.bars[id][ts.UnixNano()]
		if !ok || !sets[i].Holds(bar) {
			return 0, false
		}
		r.logger.Debug().Str("instrument", id).Time("ts", ts).Str("signal", sets[i].Describe(bar)).Msg("Entry conditions met")
		return r.req.Series[id][bar].Close, true
	}, nil
}

// legSpecs flattens the strategy variant into risk engine leg slots.
func legSpecs(st *models.Strategy) ([]risk.LegSpec, error) {
	switch spec := st.Spec.(type) {
	case *models.TimeBased:
		out := make([]risk.LegSpec, len(spec.Legs))
		for i, l := range spec.Legs {
			out[i] = risk.LegSpec{
				ID:           l.ID,
				InstrumentID: l.InstrumentID,
				Symbol:       symbolOf(l.InstrumentID),
				Side:         l.Action,
				Quantity:     l.Quantity,
				StopLoss:     l.StopLoss,
				TakeProfit:   l.TakeProfit,
			}
		}
		return out, nil
	case *models.IndicatorBased:
		out := make([]risk.LegSpec, len(spec.Instruments))
		for i, in := range spec.Instruments {
			out[i] = risk.LegSpec{
				ID:           models.IndicatorLegID(i),
				InstrumentID: in.InstrumentID,
				Symbol:       symbolOf(in.InstrumentID),
				Side:         in.Action,
				Quantity:     in.Quantity,
				StopLoss:     in.StopLoss,
				TakeProfit:   in.TakeProfit,
			}
		}
		return out, nil
	}
	return nil, apperrors.NewSimulationError("plan", "", time.Time{}, fmt.Sprintf("unsupported strategy variant %T", st.Spec))
}

func symbolOf(instrumentID string) string {
	if _, sym, found := strings.Cut(instrumentID, ":"); found {
		return sym
	}
	return instrumentID
}
