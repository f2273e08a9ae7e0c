package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

const straddleJSON = `{
  "id": "short-straddle",
  "name": "Short straddle",
  "type": "time_based",
  "start_time": "09:20",
  "square_off_time": "15:15",
  "trading_days": [true, true, true, true, true, false, false],
  "order_legs": [
    {"instrument_id": "NFO:NIFTY24DEC22000CE", "action": "SELL", "quantity": 50,
     "stop_loss": {"type": "Points", "value": 30}},
    {"instrument_id": "NFO:NIFTY24DEC22000PE", "action": "sell", "quantity": 50,
     "stop_loss": {"type": "percentage", "value": 25}, "take_profit": {"type": "Amount", "value": 2000}}
  ],
  "risk_management": {
    "exit_profit_amount": 5000,
    "no_trade_after_time": "14:30",
    "max_trade_cycle": 2,
    "profit_trailing": {"type": "Lock & Trail", "profit_reaches": 1000, "lock_profit_at": 500,
                        "on_every_increase_of": 200, "trail_by": 100}
  }
}`

const rsiYAML = `
id: rsi-reversal
type: indicator_based
start_time: "09:30"
square_off_time: "15:00"
trading_days: [mon, wed, fri]
chart_type: heikin ashi
interval: 5minute
instruments:
  - instrument_id: nse:sbin
    quantity: 10
    stop_loss: {type: Points, value: 5}
entry_conditions:
  - indicator1: RSI
    period: 14
    comparator: "<"
    value: 30
  - indicator1: EMA
    period: 9
    comparator: crosses_above
    indicator2: SMA
    period2: 21
risk_management:
  profit_trailing:
    type: trail_profit
    on_every_increase_of: 4
    trail_by: 2
`

func testValidator() *Validator {
	return NewValidator(nil, zerolog.Nop())
}

func TestParseTimeBasedJSON(t *testing.T) {
	doc, err := ParseJSON([]byte(straddleJSON))
	require.NoError(t, err)

	s, err := testValidator().Load(doc, "")
	require.NoError(t, err)
	assert.True(t, s.Validated())
	assert.Equal(t, models.LockAndTrail, s.Risk.ProfitTrailing.Kind)
	require.NotNil(t, s.Risk.NoTradeAfterTime)
	assert.Equal(t, "14:30", s.Risk.NoTradeAfterTime.String())

	tb, ok := s.Spec.(*models.TimeBased)
	require.True(t, ok)
	require.Len(t, tb.Legs, 2)
	assert.Equal(t, "L1", tb.Legs[0].ID)
	assert.Equal(t, "L2", tb.Legs[1].ID)
	assert.Equal(t, models.OrderSideSell, tb.Legs[1].Action)
	assert.Equal(t, models.StopPercentage, tb.Legs[1].StopLoss.Type)
	assert.Equal(t, models.StopAmount, tb.Legs[1].TakeProfit.Type)
	assert.Equal(t, models.Weekdays, tb.TradingDays)
}

func TestParseIndicatorYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rsiYAML), 0644))

	doc, err := ParseFile(path)
	require.NoError(t, err)
	s, err := testValidator().Load(doc, "")
	require.NoError(t, err)

	ib, ok := s.Spec.(*models.IndicatorBased)
	require.True(t, ok)
	assert.Equal(t, models.ChartHeikinAshi, ib.ChartType)
	assert.Equal(t, "NSE:SBIN", ib.Instruments[0].InstrumentID)
	assert.Equal(t, models.OrderSideBuy, ib.Instruments[0].Action)
	assert.Equal(t, models.CompCrossAbove, ib.EntryConditions[1].Comparator)
	assert.Equal(t, models.TradingDays{true, false, true, false, true, false, false}, ib.TradingDays)
	assert.Equal(t, models.TrailProfit, s.Risk.ProfitTrailing.Kind)
}

func TestNormalizeTrailingVariants(t *testing.T) {
	tests := []struct {
		label string
		want  models.TrailingKind
	}{
		{"", models.NoTrailing},
		{"No Trailing", models.NoTrailing},
		{"no_trailing", models.NoTrailing},
		{"trail_profit", models.TrailProfit},
		{"Trail Profit", models.TrailProfit},
		{"TRAIL-PROFIT", models.TrailProfit},
		{"LOCK_AND_TRAIL", models.LockAndTrail},
		{"lock-and-trail", models.LockAndTrail},
		{"Lock & Trail", models.LockAndTrail},
		{"  lock and trail ", models.LockAndTrail},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := NormalizeTrailing(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeTrailing("trail loss")
	assert.Error(t, err)
}

func TestProperty_NormalizeIgnoresCaseAndSeparators(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	words := map[models.TrailingKind][]string{
		models.NoTrailing:   {"no", "trailing"},
		models.TrailProfit:  {"trail", "profit"},
		models.LockAndTrail: {"lock", "and", "trail"},
	}
	seps := []string{"", " ", "_", "-"}

	properties.Property("any casing/separator spelling maps to the same variant", prop.ForAll(
		func(k int, sepIdx int, upperMask uint8) bool {
			kind := models.TrailingKind(k)
			parts := append([]string(nil), words[kind]...)
			for i := range parts {
				if upperMask&(1<<uint(i)) != 0 {
					parts[i] = strings.ToUpper(parts[i])
				}
			}
			got, err := NormalizeTrailing(strings.Join(parts, seps[sepIdx]))
			return err == nil && got == kind
		},
		gen.IntRange(0, 2),
		gen.IntRange(0, len(seps)-1),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func validTimeBased() *models.Strategy {
	return &models.Strategy{
		ID: "s1",
		Spec: &models.TimeBased{
			Session: models.Session{
				StartTime:     models.MustTimeOfDay("09:20"),
				SquareOffTime: models.MustTimeOfDay("15:15"),
				TradingDays:   models.Weekdays,
			},
			Legs: []models.OrderLeg{
				{ID: "L1", InstrumentID: "NSE:SBIN", Action: models.OrderSideBuy, Quantity: 10, StopLoss: models.StopSpec{Type: models.StopPoints, Value: 5}, TakeProfit: models.StopSpec{Type: models.StopPoints}},
			},
		},
	}
}

func TestValidateAggregatesAllIssues(t *testing.T) {
	s := validTimeBased()
	tb := s.Spec.(*models.TimeBased)
	tb.TradingDays = models.TradingDays{}
	tb.StartTime = models.MustTimeOfDay("15:30")
	tb.Legs = append(tb.Legs,
		models.OrderLeg{ID: "L1", InstrumentID: "NSE:INFY", Action: models.OrderSideSell, Quantity: 0, StopLoss: models.StopSpec{Type: models.StopPoints, Value: -1}, TakeProfit: models.StopSpec{Type: models.StopPoints}},
	)
	s.Risk.ProfitTrailing = models.ProfitTrailing{Label: "Lock and Trail", ProfitReaches: 100, LockProfitAt: 200, OnEveryIncreaseOf: 10, TrailBy: 5}
	s.Risk.MaxTradeCycle = -1

	res := testValidator().Validate(s, "")
	assert.False(t, res.Valid)
	assert.False(t, s.Validated())

	fields := make(map[string]bool)
	for _, e := range res.Errors {
		fields[e.LegID+"/"+e.Field] = true
	}
	for _, want := range []string{
		"/trading_days",
		"/start_time",
		"L1/id",
		"L1/quantity",
		"L1/stop_loss.value",
		"/risk_management.profit_trailing.lock_profit_at",
		"/risk_management.max_trade_cycle",
	} {
		assert.True(t, fields[want], "missing issue %s in %v", want, res.Errors)
	}

	err := res.Err(s.ID)
	assert.ErrorIs(t, err, apperrors.ErrStrategyInvalid)
	var sie *apperrors.StrategyInvalidError
	require.ErrorAs(t, err, &sie)
	assert.Len(t, sie.Issues, len(res.Errors))
}

func TestValidateNoTradeAfterWindow(t *testing.T) {
	tests := []struct {
		name  string
		at    string
		valid bool
	}{
		{"inside window", "14:30", true},
		{"equal to square off", "15:15", true},
		{"before start", "09:00", false},
		{"equal to start", "09:20", false},
		{"after square off", "15:20", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validTimeBased()
			at := models.MustTimeOfDay(tt.at)
			s.Risk.NoTradeAfterTime = &at
			assert.Equal(t, tt.valid, testValidator().Validate(s, "").Valid)
		})
	}
}

func TestValidateIndicatorConditions(t *testing.T) {
	s := &models.Strategy{
		ID: "ind",
		Spec: &models.IndicatorBased{
			Session: models.Session{
				StartTime:     models.MustTimeOfDay("09:30"),
				SquareOffTime: models.MustTimeOfDay("15:00"),
				TradingDays:   models.Weekdays,
			},
			Instruments: []models.IndicatorInstrument{
				{InstrumentID: "NSE:SBIN", Quantity: 1, Action: models.OrderSideBuy, StopLoss: models.StopSpec{Type: models.StopPoints}, TakeProfit: models.StopSpec{Type: models.StopPoints}},
			},
			EntryConditions: []models.EntryCondition{
				{Indicator1: "SUPERTREND", Period: 10, Comparator: models.CompGreater, Value: 1},
				{Indicator1: "EMA", Period: 0, Comparator: "=>", Value: 1},
			},
			ChartType: models.ChartCandle,
		},
	}
	res := testValidator().Validate(s, "")
	require.False(t, res.Valid)
	assert.Len(t, res.Errors, 3)
}

func TestValidateRejectsDailyInterval(t *testing.T) {
	s := &models.Strategy{
		ID: "daily",
		Spec: &models.IndicatorBased{
			Session: models.Session{
				StartTime:     models.MustTimeOfDay("09:30"),
				SquareOffTime: models.MustTimeOfDay("15:00"),
				TradingDays:   models.Weekdays,
			},
			Instruments: []models.IndicatorInstrument{
				{InstrumentID: "NSE:SBIN", Quantity: 1, Action: models.OrderSideBuy, StopLoss: models.StopSpec{Type: models.StopPoints}, TakeProfit: models.StopSpec{Type: models.StopPoints}},
			},
			EntryConditions: []models.EntryCondition{
				{Indicator1: "RSI", Period: 14, Comparator: models.CompGreater, Value: 50},
			},
			ChartType: models.ChartCandle,
			Interval:  "day",
		},
	}
	res := testValidator().Validate(s, "")
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "interval", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "session window")

	assert.Error(t, CheckReplayInterval("day"))
	assert.Error(t, CheckReplayInterval("2minute"))
	assert.NoError(t, CheckReplayInterval("5minute"))
	assert.NoError(t, CheckReplayInterval(""))
}

type stubChecker struct {
	calls int
	res   models.ValidationResult
}

func (s *stubChecker) ValidateForStrategy(*models.Strategy, string) models.ValidationResult {
	s.calls++
	return s.res
}

func TestValidateMergesCrossReferences(t *testing.T) {
	bad := models.NewValidationResult()
	bad.Add("L1", "instrument_id", "not tradable on zerodha")
	checker := &stubChecker{res: bad}
	v := NewValidator(checker, zerolog.Nop())

	res := v.Validate(validTimeBased(), "")
	assert.True(t, res.Valid)
	assert.Equal(t, 0, checker.calls)

	s := validTimeBased()
	res = v.Validate(s, "zerodha")
	assert.False(t, res.Valid)
	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, "L1", res.Errors[0].LegID)
	assert.False(t, s.Validated())
}

func TestToStrategyReportsParseProblems(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"id":"x","type":"calendar_spread","start_time":"9am","square_off_time":"15:00",
		"trading_days":["mon","someday"]}`))
	require.NoError(t, err)

	_, res := doc.ToStrategy()
	assert.False(t, res.Valid)

	fields := make(map[string]bool)
	for _, e := range res.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["start_time"])
	assert.True(t, fields["type"])
	assert.True(t, fields["trading_days"])
}
