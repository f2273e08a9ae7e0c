package trading

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/strategy"
)

// Monday
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(d time.Time, hhmm string) time.Time {
	return d.Add(time.Duration(models.MustTimeOfDay(hhmm)) * time.Second)
}

func pts(v float64) models.StopSpec { return models.StopSpec{Type: models.StopPoints, Value: v} }

type tick struct {
	at    string
	close float64
}

func series(d time.Time, ticks ...tick) []models.Candle {
	out := make([]models.Candle, len(ticks))
	for i, tk := range ticks {
		out[i] = models.Candle{Timestamp: at(d, tk.at), Open: tk.close, High: tk.close, Low: tk.close, Close: tk.close, Volume: 100}
	}
	return out
}

func session() models.Session {
	return models.Session{
		StartTime:     models.MustTimeOfDay("09:20"),
		SquareOffTime: models.MustTimeOfDay("15:15"),
		TradingDays:   models.Weekdays,
	}
}

func validated(t *testing.T, s *models.Strategy) *models.Strategy {
	t.Helper()
	res := strategy.NewValidator(nil, zerolog.Nop()).Validate(s, "")
	require.True(t, res.Valid, "%+v", res.Errors)
	return s
}

func straddle(t *testing.T) *models.Strategy {
	return validated(t, &models.Strategy{
		ID:   "straddle",
		Name: "Short straddle",
		Spec: &models.TimeBased{
			Session: session(),
			Legs: []models.OrderLeg{
				{ID: "L1", InstrumentID: "NFO:CE", Action: models.OrderSideSell, Quantity: 50, StopLoss: pts(30), TakeProfit: pts(0)},
				{ID: "L2", InstrumentID: "NFO:PE", Action: models.OrderSideSell, Quantity: 50, StopLoss: pts(0), TakeProfit: pts(0)},
			},
		},
	})
}

func straddleSeries() map[string][]models.Candle {
	return map[string][]models.Candle{
		"NFO:CE": series(monday, tick{"09:15", 100}, tick{"09:20", 100}, tick{"09:25", 110}, tick{"09:30", 131}, tick{"15:15", 120}),
		"NFO:PE": series(monday, tick{"09:15", 90}, tick{"09:20", 90}, tick{"09:25", 85}, tick{"09:30", 80}, tick{"15:15", 70}),
	}
}

func newSimulator(costs CostModel) *Simulator {
	return NewSimulator(Options{
		Costs:    costs,
		Calendar: NewCalendar(time.UTC),
		Now:      func() time.Time { return monday },
	}, zerolog.Nop())
}

func assertEquityInvariant(t *testing.T, run *models.BacktestRun) {
	t.Helper()
	assert.Len(t, run.EquityCurve, run.BarsProcessed)
	want := run.InitialCapital
	for _, tr := range run.Trades {
		want += tr.PnL - tr.TransactionCost
	}
	assert.InDelta(t, want, run.FinalEquity(), 1e-6)
}

func TestTimeBasedStraddleReplay(t *testing.T) {
	sim := newSimulator(CostModel{FixedPerOrder: 20})
	run, err := sim.Run(context.Background(), Request{
		Strategy:       straddle(t),
		Series:         straddleSeries(),
		Interval:       "5minute",
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	require.True(t, run.Sealed())

	require.Len(t, run.Trades, 2)
	sl, tm := run.Trades[0], run.Trades[1]

	assert.Equal(t, "L1", sl.LegID)
	assert.Equal(t, "CE", sl.Symbol)
	assert.Equal(t, models.ExitStopLoss, sl.ExitReason)
	assert.Equal(t, at(monday, "09:20"), sl.EntryTimestamp)
	assert.Equal(t, at(monday, "09:30"), sl.ExitTimestamp)
	assert.InDelta(t, -1550.0, sl.PnL, 1e-9)
	assert.Equal(t, 40.0, sl.TransactionCost)

	assert.Equal(t, "L2", tm.LegID)
	assert.Equal(t, models.ExitTime, tm.ExitReason)
	assert.Equal(t, at(monday, "15:15"), tm.ExitTimestamp)
	assert.InDelta(t, 1000.0, tm.PnL, 1e-9)

	assert.Equal(t, 5, run.BarsProcessed)
	assert.InDelta(t, 99370.0, run.FinalEquity(), 1e-9)
	assertEquityInvariant(t, run)

	assert.Equal(t, 2, run.Metrics.TotalTrades)
	assert.InDelta(t, 50.0, run.Metrics.WinRate, 1e-9)
	assert.InDelta(t, 80.0, run.Metrics.TotalCosts, 1e-9)
	assert.Equal(t, monday, run.CreatedAt)
	assert.Equal(t, at(monday, "09:15"), run.Period.From)
}

func TestReplayIsDeterministic(t *testing.T) {
	sim := newSimulator(CostModel{FixedPerOrder: 20, PercentOfNotional: 0.03})
	req := Request{Strategy: straddle(t), Series: straddleSeries(), InitialCapital: 100000}

	a, err := sim.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := sim.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestRunRejectsUnvalidatedStrategy(t *testing.T) {
	s := &models.Strategy{ID: "raw", Spec: &models.TimeBased{Session: session()}}
	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{Strategy: s, InitialCapital: 1000})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, apperrors.ErrStrategyUnverified)
}

func TestRunRequiresEverySeries(t *testing.T) {
	data := straddleSeries()
	delete(data, "NFO:PE")

	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{Strategy: straddle(t), Series: data, InitialCapital: 1000})
	assert.Nil(t, run)
	var due *apperrors.DataUnavailableError
	require.ErrorAs(t, err, &due)
	assert.Equal(t, "NFO:PE", due.InstrumentID)
}

func TestCancelledRunReturnsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newSimulator(CostModel{}).Run(ctx, Request{Strategy: straddle(t), Series: straddleSeries(), InitialCapital: 1000})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPeriodBoundsTheReplay(t *testing.T) {
	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy:       straddle(t),
		Series:         straddleSeries(),
		Period:         models.Period{From: at(monday, "09:20"), To: at(monday, "09:25")},
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, run.BarsProcessed)

	// Both legs still open at the end of data close on the last bar.
	require.Len(t, run.Trades, 2)
	for _, tr := range run.Trades {
		assert.Equal(t, models.ExitTime, tr.ExitReason)
		assert.Equal(t, at(monday, "09:25"), tr.ExitTimestamp)
	}
	assertEquityInvariant(t, run)
}

func TestDayRolloverSquaresOffAtPreviousBar(t *testing.T) {
	tuesday := monday.AddDate(0, 0, 1)
	s := validated(t, &models.Strategy{
		ID: "single",
		Spec: &models.TimeBased{
			Session: session(),
			Legs:    []models.OrderLeg{{ID: "L1", InstrumentID: "NSE:SBIN", Action: models.OrderSideBuy, Quantity: 10, StopLoss: pts(0), TakeProfit: pts(0)}},
		},
	})
	bars := append(series(monday, tick{"09:20", 600}, tick{"10:00", 610}),
		series(tuesday, tick{"09:20", 605}, tick{"09:25", 615})...)

	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy:       s,
		Series:         map[string][]models.Candle{"NSE:SBIN": bars},
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	require.Len(t, run.Trades, 2)

	assert.Equal(t, at(monday, "10:00"), run.Trades[0].ExitTimestamp)
	assert.Equal(t, models.ExitTime, run.Trades[0].ExitReason)
	assert.InDelta(t, 100.0, run.Trades[0].PnL, 1e-9)

	assert.Equal(t, at(tuesday, "09:20"), run.Trades[1].EntryTimestamp)
	assert.Equal(t, at(tuesday, "09:25"), run.Trades[1].ExitTimestamp)
	assert.InDelta(t, 100.0, run.Trades[1].PnL, 1e-9)

	// Monday's square-off is booked on Monday's last point, not Tuesday's first.
	require.Len(t, run.EquityCurve, 4)
	assert.True(t, run.EquityCurve[1].Timestamp.Equal(at(monday, "10:00")))
	assert.InDelta(t, 100100.0, run.EquityCurve[1].Equity, 1e-9)
	assert.InDelta(t, 100100.0, run.EquityCurve[2].Equity, 1e-9)
	assert.InDelta(t, 100200.0, run.EquityCurve[3].Equity, 1e-9)
	assertEquityInvariant(t, run)
}

func TestStopLossIgnoresIntrabarLow(t *testing.T) {
	s := validated(t, &models.Strategy{
		ID: "single",
		Spec: &models.TimeBased{
			Session: session(),
			Legs:    []models.OrderLeg{{ID: "L1", InstrumentID: "NSE:SBIN", Action: models.OrderSideBuy, Quantity: 10, StopLoss: pts(10), TakeProfit: pts(0)}},
		},
	})
	bars := []models.Candle{
		{Timestamp: at(monday, "09:20"), Open: 600, High: 600, Low: 600, Close: 600},
		// Low pierces the 590 stop, close does not.
		{Timestamp: at(monday, "09:25"), Open: 598, High: 599, Low: 585, Close: 595},
		{Timestamp: at(monday, "09:30"), Open: 595, High: 604, Low: 594, Close: 602},
	}

	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy:       s,
		Series:         map[string][]models.Candle{"NSE:SBIN": bars},
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	require.Len(t, run.Trades, 1)
	assert.Equal(t, models.ExitTime, run.Trades[0].ExitReason)
	assert.Equal(t, at(monday, "09:30"), run.Trades[0].ExitTimestamp)
	assert.InDelta(t, 20.0, run.Trades[0].PnL, 1e-9)
	assertEquityInvariant(t, run)
}

func TestPeriodRequiresFullCoverage(t *testing.T) {
	friday := monday.AddDate(0, 0, 4)
	s := straddle(t)
	data := map[string][]models.Candle{
		"NFO:CE": series(friday, tick{"09:20", 100}, tick{"09:25", 105}),
		"NFO:PE": series(friday, tick{"09:20", 80}, tick{"09:25", 78}),
	}
	weekEnd := friday.Add(24*time.Hour - time.Second)

	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy:       s,
		Series:         data,
		Period:         models.Period{From: monday, To: weekEnd},
		InitialCapital: 100000,
	})
	assert.Nil(t, run)
	require.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	var due *apperrors.DataUnavailableError
	require.ErrorAs(t, err, &due)
	assert.True(t, due.From.Equal(monday))
	assert.True(t, due.To.Equal(at(friday, "09:20")))

	// A series that stops on Wednesday leaves Thursday and Friday uncovered.
	data = map[string][]models.Candle{
		"NFO:CE": series(monday, tick{"09:20", 100}),
		"NFO:PE": append(series(monday, tick{"09:20", 80}), series(monday.AddDate(0, 0, 2), tick{"09:20", 81})...),
	}
	data["NFO:CE"] = append(data["NFO:CE"], series(friday, tick{"09:20", 101})...)
	_, err = newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy:       s,
		Series:         data,
		Period:         models.Period{From: monday, To: weekEnd},
		InitialCapital: 100000,
	})
	require.ErrorAs(t, err, &due)
	assert.Equal(t, "NFO:PE", due.InstrumentID)
	assert.True(t, due.From.Equal(at(monday.AddDate(0, 0, 2), "09:20")))
	assert.True(t, due.To.Equal(weekEnd))

	// The same Friday-only data is enough for a Friday-only period.
	run, err = newSimulator(CostModel{}).Run(context.Background(), Request{
		Strategy: s,
		Series: map[string][]models.Candle{
			"NFO:CE": series(friday, tick{"09:20", 100}, tick{"09:25", 105}),
			"NFO:PE": series(friday, tick{"09:20", 80}, tick{"09:25", 78}),
		},
		Period:         models.Period{From: friday, To: weekEnd},
		InitialCapital: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, run.BarsProcessed)
}

func TestHolidaySuppressesEntries(t *testing.T) {
	cal := NewCalendar(time.UTC)
	cal.AddHoliday(monday)
	sim := NewSimulator(Options{Calendar: cal}, zerolog.Nop())

	run, err := sim.Run(context.Background(), Request{Strategy: straddle(t), Series: straddleSeries(), InitialCapital: 100000})
	require.NoError(t, err)
	assert.Empty(t, run.Trades)
	assert.Equal(t, 5, run.BarsProcessed)
	assert.Equal(t, 100000.0, run.FinalEquity())
}

func TestIndicatorStrategyEntersOnCrossover(t *testing.T) {
	s := validated(t, &models.Strategy{
		ID: "breakout",
		Spec: &models.IndicatorBased{
			Session: session(),
			Instruments: []models.IndicatorInstrument{
				{InstrumentID: "NSE:INFY", Quantity: 10, Action: models.OrderSideBuy, StopLoss: pts(5), TakeProfit: pts(20)},
			},
			EntryConditions: []models.EntryCondition{
				{Indicator1: "CLOSE", Comparator: models.CompCrossAbove, Value: 105},
			},
			ChartType: models.ChartCandle,
		},
	})
	data := map[string][]models.Candle{
		"NSE:INFY": series(monday,
			tick{"09:15", 100}, tick{"09:20", 102}, tick{"09:25", 104}, tick{"09:30", 106},
			tick{"09:35", 107}, tick{"09:40", 103}, tick{"09:45", 100}),
	}

	run, err := newSimulator(CostModel{}).Run(context.Background(), Request{Strategy: s, Series: data, InitialCapital: 50000})
	require.NoError(t, err)
	require.Len(t, run.Trades, 1)

	tr := run.Trades[0]
	assert.Equal(t, "I1", tr.LegID)
	assert.Equal(t, at(monday, "09:30"), tr.EntryTimestamp)
	assert.Equal(t, 106.0, tr.EntryPrice)
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, at(monday, "09:45"), tr.ExitTimestamp)
	assert.InDelta(t, -60.0, tr.PnL, 1e-9)
}

func TestProperty_EquityInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	s := validated(t, &models.Strategy{
		ID: "trail",
		Spec: &models.TimeBased{
			Session: session(),
			Legs: []models.OrderLeg{
				{ID: "L1", InstrumentID: "NSE:A", Action: models.OrderSideBuy, Quantity: 5, StopLoss: pts(8), TakeProfit: pts(25)},
				{ID: "L2", InstrumentID: "NSE:B", Action: models.OrderSideSell, Quantity: 3, StopLoss: pts(6), TakeProfit: pts(0)},
			},
		},
		Risk: models.RiskManagement{
			MaxTradeCycle:  3,
			ExitLossAmount: 400,
			ProfitTrailing: models.ProfitTrailing{Label: "Trail Profit", OnEveryIncreaseOf: 4, TrailBy: 2},
		},
	})
	sim := newSimulator(CostModel{FixedPerOrder: 15, PercentOfNotional: 0.02})

	properties.Property("final equity is capital plus net trade P&L", prop.ForAll(
		func(a, b []float64) bool {
			data := map[string][]models.Candle{"NSE:A": nil, "NSE:B": nil}
			for i := range a {
				ts := at(monday, "09:20").Add(time.Duration(i) * time.Minute)
				data["NSE:A"] = append(data["NSE:A"], models.Candle{Timestamp: ts, Open: a[i], High: a[i], Low: a[i], Close: a[i]})
				data["NSE:B"] = append(data["NSE:B"], models.Candle{Timestamp: ts, Open: b[i], High: b[i], Low: b[i], Close: b[i]})
			}
			run, err := sim.Run(context.Background(), Request{Strategy: s, Series: data, InitialCapital: 100000})
			if err != nil {
				return false
			}
			want := run.InitialCapital
			for _, tr := range run.Trades {
				want += tr.PnL - tr.TransactionCost
			}
			diff := want - run.FinalEquity()
			return len(run.EquityCurve) == run.BarsProcessed &&
				run.BarsProcessed == len(a) &&
				diff < 1e-6 && diff > -1e-6
		},
		gen.SliceOfN(60, gen.Float64Range(80, 120)),
		gen.SliceOfN(60, gen.Float64Range(80, 120)),
	))

	properties.TestingRun(t)
}
