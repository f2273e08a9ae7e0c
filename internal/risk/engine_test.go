package risk

import (
	"math"
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
)

// Monday
var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	return day.Add(time.Duration(models.MustTimeOfDay(hhmm)) * time.Second)
}

func session() models.Session {
	return models.Session{
		StartTime:     models.MustTimeOfDay("09:20"),
		SquareOffTime: models.MustTimeOfDay("15:15"),
		TradingDays:   models.Weekdays,
	}
}

func leg(id string, side models.OrderSide, qty int) LegSpec {
	return LegSpec{ID: id, InstrumentID: "NSE:" + id, Symbol: id, Side: side, Quantity: qty}
}

func newEngine(risk models.RiskManagement, legs ...LegSpec) (*Engine, *[]models.OrderIntent) {
	var intents []models.OrderIntent
	e := NewEngine(Config{StrategyID: "test", Session: session(), Risk: risk, Legs: legs},
		IntentFunc(func(i models.OrderIntent) { intents = append(intents, i) }), zerolog.Nop())
	return e, &intents
}

func price(e *Engine, slot int, p float64) map[string]float64 {
	return map[string]float64{e.Spec(slot).InstrumentID: p}
}

func TestScenarioShortStopLoss(t *testing.T) {
	l := leg("A", models.OrderSideSell, 35)
	l.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 30}
	e, intents := newEngine(models.RiskManagement{}, l)

	require.NoError(t, e.Enter(0, 100, at("09:20")))

	trades, err := e.Update(at("09:25"), price(e, 0, 129))
	require.NoError(t, err)
	assert.Empty(t, trades)

	trades, err = e.Update(at("09:30"), price(e, 0, 131))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)
	assert.InDelta(t, -1085.0, trades[0].PnL, 1e-9)
	assert.Equal(t, 131.0, trades[0].ExitPrice)
	assert.Equal(t, StateClosedSL, e.History()[0].State)

	require.Len(t, *intents, 2)
	exit := (*intents)[1]
	assert.Equal(t, models.IntentExit, exit.Kind)
	assert.Equal(t, models.OrderSideBuy, exit.Side)
	assert.Equal(t, models.ExitStopLoss, exit.Reason)
}

func TestScenarioLockAndTrail(t *testing.T) {
	risk := models.RiskManagement{ProfitTrailing: models.ProfitTrailing{
		Kind: models.LockAndTrail, ProfitReaches: 1000, LockProfitAt: 500, OnEveryIncreaseOf: 200, TrailBy: 100,
	}}
	e, _ := newEngine(risk, leg("B", models.OrderSideBuy, 1))
	const entry = 20000.0
	require.NoError(t, e.Enter(0, entry, at("09:20")))

	steps := []struct {
		ts     string
		price  float64
		stop   float64
		closed bool
	}{
		{"09:25", entry + 400, math.Inf(-1), false}, // below profitReaches, no stop
		{"09:30", entry + 999, math.Inf(-1), false},
		{"09:35", entry + 1000, entry + 500, false}, // lock
		{"09:40", entry + 600, entry + 500, false},  // pullback above floor
		{"09:45", entry + 500, entry + 500, true},   // floor touched
	}
	for _, s := range steps {
		trades, err := e.Update(at(s.ts), price(e, 0, s.price))
		require.NoError(t, err, s.ts)
		if s.closed {
			require.Len(t, trades, 1, s.ts)
			assert.Equal(t, models.ExitTrail, trades[0].ExitReason)
			assert.InDelta(t, 500.0, trades[0].PnL, 1e-9)
			continue
		}
		assert.Empty(t, trades, s.ts)
		stop, ok := e.EffectiveStop(0)
		require.True(t, ok)
		assert.Equal(t, s.stop, stop, s.ts)
	}
}

func TestLockAndTrailStepsAboveFloor(t *testing.T) {
	risk := models.RiskManagement{ProfitTrailing: models.ProfitTrailing{
		Kind: models.LockAndTrail, ProfitReaches: 1000, LockProfitAt: 500, OnEveryIncreaseOf: 200, TrailBy: 100,
	}}
	e, _ := newEngine(risk, leg("B", models.OrderSideBuy, 1))
	require.NoError(t, e.Enter(0, 0, at("09:20")))

	for _, p := range []float64{1000, 1450, 1300} {
		_, err := e.Update(at("10:00"), price(e, 0, p))
		require.NoError(t, err)
	}
	st, ok := e.Trailing(0)
	require.True(t, ok)
	require.NotNil(t, st.LockedFloor)
	assert.Equal(t, 500.0, *st.LockedFloor)
	// two whole steps of 200 beyond 1000
	assert.Equal(t, 700.0, st.CurrentStop)
	assert.Equal(t, 1450.0, st.PeakFavorableExcursion)
}

func TestTrailProfitShortLeg(t *testing.T) {
	risk := models.RiskManagement{ProfitTrailing: models.ProfitTrailing{
		Kind: models.TrailProfit, OnEveryIncreaseOf: 10, TrailBy: 5,
	}}
	l := leg("S", models.OrderSideSell, 2)
	l.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 20}
	e, _ := newEngine(risk, l)
	require.NoError(t, e.Enter(0, 200, at("09:20")))

	stop, _ := e.EffectiveStop(0)
	assert.Equal(t, 220.0, stop)

	_, err := e.Update(at("09:30"), price(e, 0, 175)) // 25 in favour -> 2 steps
	require.NoError(t, err)
	stop, _ = e.EffectiveStop(0)
	assert.Equal(t, 190.0, stop)

	_, err = e.Update(at("09:35"), price(e, 0, 185)) // retrace keeps stop
	require.NoError(t, err)
	stop, _ = e.EffectiveStop(0)
	assert.Equal(t, 190.0, stop)

	trades, err := e.Update(at("09:40"), price(e, 0, 191))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitTrail, trades[0].ExitReason)
	assert.InDelta(t, 18.0, trades[0].PnL, 1e-9)
}

func TestScenarioPortfolioExit(t *testing.T) {
	a := leg("CE", models.OrderSideBuy, 50)
	a.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 80}
	a.TakeProfit = models.StopSpec{Type: models.StopPoints, Value: 500}
	b := leg("PE", models.OrderSideSell, 25)
	e, _ := newEngine(models.RiskManagement{ExitProfitAmount: 5000, MaxTradeCycle: 3}, a, b)

	require.NoError(t, e.Enter(0, 100, at("09:20")))
	require.NoError(t, e.Enter(1, 300, at("09:20")))

	// CE +60*50 = 3000, PE +80*25 = 2000
	prices := map[string]float64{"NSE:CE": 160, "NSE:PE": 220}
	trades, err := e.Update(at("11:00"), prices)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, models.ExitPortfolio, tr.ExitReason)
	}
	assert.True(t, e.Halted())
	assert.False(t, e.CanEnter(0, at("11:05")), "no entries after a portfolio exit")

	e.StartDay()
	assert.True(t, e.CanEnter(0, at("11:05")))
}

func TestPortfolioLossCountsSameBarCloses(t *testing.T) {
	a := leg("A", models.OrderSideBuy, 10)
	a.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 10}
	b := leg("B", models.OrderSideBuy, 10)
	e, _ := newEngine(models.RiskManagement{ExitLossAmount: 150}, a, b)
	require.NoError(t, e.Enter(0, 100, at("09:20")))
	require.NoError(t, e.Enter(1, 100, at("09:20")))

	// A stops out at -100, B is at -50: total -150
	trades, err := e.Update(at("10:00"), map[string]float64{"NSE:A": 90, "NSE:B": 95})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, models.ExitPortfolio, trades[1].ExitReason)
}

func TestPortfolioIgnoresLegsClosedOnEarlierBars(t *testing.T) {
	a := leg("A", models.OrderSideBuy, 10)
	a.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 10}
	b := leg("B", models.OrderSideBuy, 10)
	e, _ := newEngine(models.RiskManagement{ExitLossAmount: 150}, a, b)
	require.NoError(t, e.Enter(0, 100, at("09:20")))
	require.NoError(t, e.Enter(1, 100, at("09:20")))

	// A stops out alone at -100 with B flat.
	trades, err := e.Update(at("10:00"), map[string]float64{"NSE:A": 90, "NSE:B": 100})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)

	// B alone at -60 is under the threshold; A's earlier loss is not added.
	trades, err = e.Update(at("10:05"), map[string]float64{"NSE:B": 94})
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.True(t, e.IsOpen(1))
	assert.False(t, e.Halted())

	trades, err = e.Update(at("10:10"), map[string]float64{"NSE:B": 85})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitPortfolio, trades[0].ExitReason)
	assert.InDelta(t, -150.0, trades[0].PnL, 1e-9)
}

func TestStopUsesBarCloseNotLow(t *testing.T) {
	l := leg("C", models.OrderSideBuy, 1)
	l.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 10}
	e, _ := newEngine(models.RiskManagement{}, l)
	require.NoError(t, e.Enter(0, 100, at("09:20")))

	// The engine only sees the close; an intrabar low of 85 is invisible to it.
	trades, err := e.Update(at("09:25"), price(e, 0, 91))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.True(t, e.IsOpen(0))
}

func TestPercentageAndAmountStops(t *testing.T) {
	// 1% of 100 below entry, and a 1 rupee target on one unit.
	l := leg("P", models.OrderSideBuy, 1)
	l.StopLoss = models.StopSpec{Type: models.StopPercentage, Value: 1}
	l.TakeProfit = models.StopSpec{Type: models.StopAmount, Value: 1}
	e, _ := newEngine(models.RiskManagement{}, l)
	require.NoError(t, e.Enter(0, 100, at("09:20")))

	trades, err := e.Update(at("09:21"), price(e, 0, 99))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)
}

func TestTimeExitAndWindow(t *testing.T) {
	nta := models.MustTimeOfDay("14:30")
	e, _ := newEngine(models.RiskManagement{NoTradeAfterTime: &nta}, leg("T", models.OrderSideBuy, 1))

	assert.False(t, e.CanEnter(0, at("09:19")))
	assert.True(t, e.CanEnter(0, at("09:20")))
	assert.False(t, e.CanEnter(0, at("14:30")))
	assert.False(t, e.CanEnter(0, day.AddDate(0, 0, 5).Add(10*time.Hour)), "saturday")

	require.NoError(t, e.Enter(0, 100, at("14:00")))
	trades, err := e.Update(at("14:15"), price(e, 0, 101))
	require.NoError(t, err)
	assert.Empty(t, trades)

	trades, err = e.Update(at("14:30"), price(e, 0, 102))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitTime, trades[0].ExitReason)
	assert.Equal(t, 102.0, trades[0].ExitPrice)
}

func TestReentryBudgetAndCycleLimit(t *testing.T) {
	a := leg("A", models.OrderSideBuy, 1)
	a.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 5}
	b := leg("B", models.OrderSideSell, 1)
	e, _ := newEngine(models.RiskManagement{MaxTradeCycle: 2}, a, b)

	require.NoError(t, e.Enter(0, 100, at("09:20")))
	require.NoError(t, e.Enter(1, 100, at("09:20")))

	trades, err := e.Update(at("09:30"), map[string]float64{"NSE:A": 95})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, e.IsOpen(1))
	assert.True(t, e.CanEnter(0, at("09:31")), "one re-entry left")

	require.NoError(t, e.Enter(0, 96, at("09:31")))
	leg, _ := e.Leg(0)
	assert.Equal(t, "A#2", leg.InstanceID)

	trades, err = e.Update(at("09:40"), map[string]float64{"NSE:A": 90})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, models.ExitCycleLimit, trades[1].ExitReason)
	assert.Equal(t, "B", trades[1].LegID)
	assert.False(t, e.CanEnter(0, at("09:41")))
}

func TestIllegalTransitions(t *testing.T) {
	e, _ := newEngine(models.RiskManagement{}, leg("X", models.OrderSideBuy, 1))
	require.NoError(t, e.Enter(0, 100, at("09:20")))

	err := e.Enter(0, 101, at("09:21"))
	assert.ErrorIs(t, err, apperrors.ErrSimulation)

	legs := e.History()
	legs[0].State = StateClosedTP
	_, err = e.close(&legs[0], models.ExitTime, at("09:22"))
	var simErr *apperrors.SimulationError
	assert.ErrorAs(t, err, &simErr)
}

func TestProperty_StopMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("effective stop never loosens while a leg is open", prop.ForAll(
		func(path []float64, short bool, kind int, every, by, reaches, lockFrac float64) bool {
			side := models.OrderSideBuy
			if short {
				side = models.OrderSideSell
			}
			risk := models.RiskManagement{ProfitTrailing: models.ProfitTrailing{
				Kind:              models.TrailingKind(kind),
				ProfitReaches:     reaches,
				LockProfitAt:      reaches * lockFrac,
				OnEveryIncreaseOf: every,
				TrailBy:           by,
			}}
			l := leg("M", side, 1)
			l.StopLoss = models.StopSpec{Type: models.StopPoints, Value: 40}
			e, _ := newEngine(risk, l)
			if err := e.Enter(0, 100, at("09:20")); err != nil {
				return false
			}
			prev, _ := e.EffectiveStop(0)
			ts := at("09:20")
			for _, p := range path {
				ts = ts.Add(time.Minute)
				if _, err := e.Update(ts, price(e, 0, p)); err != nil {
					return false
				}
				stop, open := e.EffectiveStop(0)
				if !open {
					return true
				}
				if better(side, prev, stop) {
					return false
				}
				prev = stop
			}
			return true
		},
		gen.SliceOfN(60, gen.Float64Range(50, 150)),
		gen.Bool(),
		gen.IntRange(0, 2),
		gen.Float64Range(0.5, 10),
		gen.Float64Range(0.1, 10),
		gen.Float64Range(1, 30),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
