// Package store persists candles, the instrument table, strategy documents
// and sealed backtest runs.
package store

import (
	"context"
	"errors"
	"time"

	"strategy-backtester/internal/models"
)

// ErrRunNotSealed is returned when an in-progress run is saved.
var ErrRunNotSealed = errors.New("only sealed runs can be persisted")

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveCandles(ctx context.Context, instrumentID, interval string, candles []models.Candle) error
	GetCandles(ctx context.Context, instrumentID, interval string, from, to time.Time) ([]models.Candle, error)
	CandleCoverage(ctx context.Context, instrumentID, interval string) (*Coverage, error)

	// Instruments
	SaveInstruments(ctx context.Context, instruments []models.Instrument) error
	LoadInstruments(ctx context.Context) ([]models.Instrument, error)

	// Strategies
	SaveStrategy(ctx context.Context, rec StrategyRecord) error
	GetStrategy(ctx context.Context, id string) (*StrategyRecord, error)
	ListStrategies(ctx context.Context) ([]StrategyRecord, error)

	// Backtest runs
	SaveRun(ctx context.Context, run *models.BacktestRun) error
	GetRun(ctx context.Context, id string) (*models.BacktestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	DeleteRun(ctx context.Context, id string) error

	// Sync
	GetLastSync(dataType SyncDataType) time.Time
	SetLastSync(dataType SyncDataType, t time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// SyncDataType names a dataset whose refresh time is tracked.
type SyncDataType string

const (
	SyncTypeInstruments SyncDataType = "instruments"
	SyncTypeCandles     SyncDataType = "candles"
)

// Coverage describes the stored bars of one instrument and interval.
type Coverage struct {
	InstrumentID string
	Interval     string
	From         time.Time
	To           time.Time
	Bars         int
}

// StrategyRecord is a validated strategy document as it was submitted.
type StrategyRecord struct {
	ID        string
	Name      string
	Kind      models.StrategyKind
	Format    string // json or yaml
	Document  []byte
	UpdatedAt time.Time
}

// RunFilter represents filters for listing runs.
type RunFilter struct {
	StrategyID string
	Since      time.Time
	Limit      int
}

// RunSummary is the list view of a stored run.
type RunSummary struct {
	ID             string
	StrategyID     string
	StrategyName   string
	Period         models.Period
	InitialCapital float64
	Trades         int
	NetPnL         float64
	SharpeRatio    *float64
	CreatedAt      time.Time
}

// Stale reports whether dataType was never synced or was last synced more
// than maxAge before now.
func Stale(s DataStore, dataType SyncDataType, maxAge time.Duration, now time.Time) bool {
	last := s.GetLastSync(dataType)
	return last.IsZero() || now.Sub(last) > maxAge
}
