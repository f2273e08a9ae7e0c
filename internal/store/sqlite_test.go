package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "backtester.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sealedRun(t *testing.T, id string, created time.Time) *models.BacktestRun {
	t.Helper()
	start := time.Date(2024, 3, 4, 9, 20, 0, 0, time.UTC)
	run := &models.BacktestRun{
		ID:             id,
		StrategyID:     "straddle",
		StrategyName:   "Short straddle",
		Period:         models.Period{From: start, To: start.Add(6 * time.Hour)},
		Interval:       "5minute",
		InitialCapital: 100000,
		CreatedAt:      created,
	}
	require.NoError(t, run.AppendTrade(models.Trade{
		Symbol: "NIFTY24MAR22000CE", LegID: "L1", InstrumentID: "NFO:NIFTY24MAR22000CE",
		Side: models.OrderSideSell, EntryPrice: 100, ExitPrice: 131, Quantity: 50,
		PnL: -1550, TransactionCost: 40, ExitReason: models.ExitStopLoss,
		EntryTimestamp: start, ExitTimestamp: start.Add(10 * time.Minute),
	}))
	require.NoError(t, run.AppendEquity(models.EquityPoint{Timestamp: start, Equity: 100000}))
	require.NoError(t, run.AppendEquity(models.EquityPoint{Timestamp: start.Add(10 * time.Minute), Equity: 98410}))
	sharpe := -1.5
	require.NoError(t, run.Seal(models.Metrics{
		TotalTrades: 1, LosingTrades: 1, NetPnL: -1590, SharpeRatio: &sharpe,
		ExitReasonCounts: map[models.ExitReason]int{models.ExitStopLoss: 1},
	}))
	return run
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sealedRun(t, "run-1", time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Sealed())
	assert.Equal(t, run.StrategyName, got.StrategyName)
	assert.Equal(t, run.Interval, got.Interval)
	assert.Equal(t, run.BarsProcessed, got.BarsProcessed)
	assert.True(t, run.Period.From.Equal(got.Period.From))
	require.Len(t, got.Trades, 1)
	assert.Equal(t, models.ExitStopLoss, got.Trades[0].ExitReason)
	assert.Equal(t, -1550.0, got.Trades[0].PnL)
	assert.True(t, run.Trades[0].ExitTimestamp.Equal(got.Trades[0].ExitTimestamp))
	require.Len(t, got.EquityCurve, 2)
	assert.Equal(t, 98410.0, got.EquityCurve[1].Equity)
	require.NotNil(t, got.Metrics.SharpeRatio)
	assert.Equal(t, -1.5, *got.Metrics.SharpeRatio)
	assert.Equal(t, 1, got.Metrics.ExitReasonCounts[models.ExitStopLoss])

	// sealed runs reject further mutation after loading
	assert.ErrorIs(t, got.AppendTrade(models.Trade{}), models.ErrRunSealed)
}

func TestSaveRunRejectsUnsealed(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveRun(context.Background(), &models.BacktestRun{ID: "draft"})
	assert.ErrorIs(t, err, ErrRunNotSealed)

	_, err = s.GetRun(context.Background(), "draft")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestListAndDeleteRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, sealedRun(t, id, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, 1, all[0].Trades)
	require.NotNil(t, all[0].SharpeRatio)

	limited, err := s.ListRuns(ctx, RunFilter{StrategyID: "straddle", Since: base.Add(30 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	none, err := s.ListRuns(ctx, RunFilter{StrategyID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.DeleteRun(ctx, "b"))
	assert.ErrorIs(t, s.DeleteRun(ctx, "b"), apperrors.ErrDataNotFound)
	_, err = s.GetRun(ctx, "b")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestInstrumentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assert.True(t, s.GetLastSync(SyncTypeInstruments).IsZero())

	instruments := []models.Instrument{
		{
			ID: "NSE:INFY", Symbol: "INFY", Name: "INFOSYS", Exchange: models.NSE, InstrumentType: models.InstrumentEquity,
			Brokers: map[string]models.BrokerMapping{
				"zerodha": {Token: "408065", LotSize: 1, TickSize: 0.05, Tradable: true},
			},
		},
		{
			ID: "NFO:NIFTY24MAR22000CE", Symbol: "NIFTY24MAR22000CE", Exchange: models.NFO, Underlying: "NIFTY",
			InstrumentType: models.InstrumentCall, Expiry: time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC), Strike: 22000,
			Brokers: map[string]models.BrokerMapping{
				"zerodha": {Token: "12345", LotSize: 50, TickSize: 0.05, Tradable: true},
				"paper":   {Token: "", LotSize: 50, TickSize: 0.05},
			},
		},
	}
	require.NoError(t, s.SaveInstruments(ctx, instruments))
	assert.False(t, s.GetLastSync(SyncTypeInstruments).IsZero())

	got, err := s.LoadInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "NFO:NIFTY24MAR22000CE", got[0].ID)
	assert.Equal(t, 22000.0, got[0].Strike)
	assert.True(t, got[0].Expiry.Equal(instruments[1].Expiry))
	assert.Len(t, got[0].Brokers, 2)
	assert.False(t, got[0].Brokers["paper"].Tradable)
	assert.Equal(t, 50, got[0].Brokers["zerodha"].LotSize)
	assert.True(t, got[1].Expiry.IsZero())
	assert.Equal(t, "408065", got[1].Brokers["zerodha"].Token)

	// a refresh replaces the whole table
	require.NoError(t, s.SaveInstruments(ctx, instruments[:1]))
	got, err = s.LoadInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStrategyRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetStrategy(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	doc := []byte(`{"id":"straddle"}`)
	require.NoError(t, s.SaveStrategy(ctx, StrategyRecord{ID: "straddle", Name: "Short straddle", Kind: models.KindTimeBased, Format: "json", Document: doc}))
	require.NoError(t, s.SaveStrategy(ctx, StrategyRecord{ID: "ema", Name: "EMA cross", Kind: models.KindIndicatorBased, Format: "yaml", Document: []byte("id: ema")}))

	rec, err := s.GetStrategy(ctx, "straddle")
	require.NoError(t, err)
	assert.Equal(t, doc, rec.Document)
	assert.Equal(t, models.KindTimeBased, rec.Kind)
	assert.False(t, rec.UpdatedAt.IsZero())

	list, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ema", list[0].ID)
	assert.Nil(t, list[0].Document)
}

func TestCandleCoverageEmpty(t *testing.T) {
	s := newTestStore(t)
	cov, err := s.CandleCoverage(context.Background(), "NSE:INFY", "day")
	require.NoError(t, err)
	assert.Nil(t, cov)
}

func TestStale(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	assert.True(t, Stale(s, SyncTypeCandles, time.Hour, now))

	require.NoError(t, s.SetLastSync(SyncTypeCandles, now.Add(-30*time.Minute)))
	assert.False(t, Stale(s, SyncTypeCandles, time.Hour, now))
	assert.True(t, Stale(s, SyncTypeCandles, 10*time.Minute, now))
}
