package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[SyncDataType]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[SyncDataType]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.loadSyncTimes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sync status: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Historical OHLCV bars
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument_id TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(instrument_id, interval, timestamp)
	);

	-- Universal instrument table
	CREATE TABLE IF NOT EXISTS instruments (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		name TEXT,
		exchange TEXT NOT NULL,
		underlying TEXT,
		instrument_type TEXT,
		expiry DATETIME,
		strike REAL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-broker tokens of each instrument
	CREATE TABLE IF NOT EXISTS instrument_brokers (
		instrument_id TEXT NOT NULL,
		broker_id TEXT NOT NULL,
		token TEXT NOT NULL,
		lot_size INTEGER NOT NULL,
		tick_size REAL NOT NULL,
		tradable INTEGER NOT NULL,
		last_updated DATETIME,
		PRIMARY KEY (instrument_id, broker_id),
		FOREIGN KEY (instrument_id) REFERENCES instruments(id) ON DELETE CASCADE
	);

	-- Validated strategy documents
	CREATE TABLE IF NOT EXISTS strategies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		format TEXT NOT NULL,
		document BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Sealed backtest runs
	CREATE TABLE IF NOT EXISTS backtest_runs (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		strategy_name TEXT,
		broker_id TEXT,
		period_from DATETIME NOT NULL,
		period_to DATETIME NOT NULL,
		interval TEXT,
		initial_capital REAL NOT NULL,
		bars_processed INTEGER NOT NULL,
		trade_count INTEGER NOT NULL,
		net_pnl REAL NOT NULL,
		metrics TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		leg_id TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		symbol TEXT,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl REAL NOT NULL,
		transaction_cost REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS backtest_equity (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		equity REAL NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_candles_instrument_interval ON candles(instrument_id, interval);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, instrumentID, interval string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument_id, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, instrumentID, interval, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles in [from, to] in ascending time order.
func (s *SQLiteStore) GetCandles(ctx context.Context, instrumentID, interval string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE instrument_id = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, instrumentID, interval, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// CandleCoverage returns the stored range of an instrument's bars, or nil
// when there are none.
func (s *SQLiteStore) CandleCoverage(ctx context.Context, instrumentID, interval string) (*Coverage, error) {
	var first, last sql.NullString
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(timestamp), MAX(timestamp), COUNT(*) FROM candles WHERE instrument_id = ? AND interval = ?
	`, instrumentID, interval).Scan(&first, &last, &count)
	if err != nil {
		return nil, fmt.Errorf("failed to get candle coverage: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	cov := &Coverage{InstrumentID: instrumentID, Interval: interval, Bars: count}
	if cov.From, err = parseTimestamp(first.String); err != nil {
		return nil, err
	}
	if cov.To, err = parseTimestamp(last.String); err != nil {
		return nil, err
	}
	return cov, nil
}

// timestampFormats are the layouts go-sqlite3 writes time.Time values in.
var timestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp parses aggregate results, which SQLite returns as text.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ============================================================================
// Instruments Methods
// ============================================================================

// SaveInstruments replaces the stored instrument table with instruments.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []models.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instrument_brokers`); err != nil {
		return fmt.Errorf("failed to clear broker mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
		return fmt.Errorf("failed to clear instruments: %w", err)
	}

	insStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (id, symbol, name, exchange, underlying, instrument_type, expiry, strike)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer insStmt.Close()

	mapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instrument_brokers (instrument_id, broker_id, token, lot_size, tick_size, tradable, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer mapStmt.Close()

	for _, in := range instruments {
		var expiry sql.NullTime
		if !in.Expiry.IsZero() {
			expiry = sql.NullTime{Time: in.Expiry.UTC(), Valid: true}
		}
		if _, err := insStmt.ExecContext(ctx, in.ID, in.Symbol, in.Name, string(in.Exchange), in.Underlying, in.InstrumentType, expiry, in.Strike); err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", in.ID, err)
		}
		for broker, m := range in.Brokers {
			if _, err := mapStmt.ExecContext(ctx, in.ID, broker, m.Token, m.LotSize, m.TickSize, boolToInt(m.Tradable), m.LastUpdated.UTC()); err != nil {
				return fmt.Errorf("failed to insert mapping %s/%s: %w", in.ID, broker, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.SetLastSync(SyncTypeInstruments, time.Now())
}

// LoadInstruments returns the stored instrument table ordered by id.
func (s *SQLiteStore) LoadInstruments(ctx context.Context) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, COALESCE(name, ''), exchange, COALESCE(underlying, ''), COALESCE(instrument_type, ''), expiry, COALESCE(strike, 0)
		FROM instruments ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []models.Instrument
	index := make(map[string]int)
	for rows.Next() {
		var in models.Instrument
		var exchange string
		var expiry sql.NullTime
		if err := rows.Scan(&in.ID, &in.Symbol, &in.Name, &exchange, &in.Underlying, &in.InstrumentType, &expiry, &in.Strike); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		in.Exchange = models.Exchange(exchange)
		if expiry.Valid {
			in.Expiry = expiry.Time
		}
		in.Brokers = make(map[string]models.BrokerMapping)
		index[in.ID] = len(out)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}

	mrows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, broker_id, token, lot_size, tick_size, tradable, last_updated FROM instrument_brokers
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query broker mappings: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var id, broker string
		var m models.BrokerMapping
		var tradable int
		var updated sql.NullTime
		if err := mrows.Scan(&id, &broker, &m.Token, &m.LotSize, &m.TickSize, &tradable, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan broker mapping: %w", err)
		}
		m.Tradable = tradable == 1
		if updated.Valid {
			m.LastUpdated = updated.Time
		}
		if i, ok := index[id]; ok {
			out[i].Brokers[broker] = m
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating broker mappings: %w", err)
	}
	return out, nil
}

// ============================================================================
// Strategies Methods
// ============================================================================

// SaveStrategy stores or replaces a strategy document.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, rec StrategyRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO strategies (id, name, kind, format, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, string(rec.Kind), rec.Format, rec.Document, rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	return nil
}

// GetStrategy returns a stored strategy document.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*StrategyRecord, error) {
	var rec StrategyRecord
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, format, document, updated_at FROM strategies WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Name, &kind, &rec.Format, &rec.Document, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "strategy %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	rec.Kind = models.StrategyKind(kind)
	return &rec, nil
}

// ListStrategies returns stored strategies without their documents.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, kind, format, updated_at FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		var rec StrategyRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.Name, &kind, &rec.Format, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		rec.Kind = models.StrategyKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ============================================================================
// Backtest Runs Methods
// ============================================================================

// SaveRun persists a sealed run with its trades and equity curve in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	if !run.Sealed() {
		return ErrRunNotSealed
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, strategy_id, strategy_name, broker_id, period_from, period_to, interval,
			initial_capital, bars_processed, trade_count, net_pnl, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StrategyID, run.StrategyName, run.BrokerID, run.Period.From.UTC(), run.Period.To.UTC(), run.Interval,
		run.InitialCapital, run.BarsProcessed, len(run.Trades), run.Metrics.NetPnL, string(metrics), run.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, seq, leg_id, instrument_id, symbol, side, quantity, entry_price, exit_price,
			pnl, transaction_cost, exit_reason, entry_time, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer tradeStmt.Close()

	for i, t := range run.Trades {
		_, err := tradeStmt.ExecContext(ctx, run.ID, i, t.LegID, t.InstrumentID, t.Symbol, string(t.Side), t.Quantity,
			t.EntryPrice, t.ExitPrice, t.PnL, t.TransactionCost, string(t.ExitReason), t.EntryTimestamp.UTC(), t.ExitTimestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `INSERT INTO backtest_equity (run_id, seq, timestamp, equity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer eqStmt.Close()

	for i, p := range run.EquityCurve {
		if _, err := eqStmt.ExecContext(ctx, run.ID, i, p.Timestamp.UTC(), p.Equity); err != nil {
			return fmt.Errorf("failed to insert equity point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun loads a stored run. The result is sealed.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.BacktestRun, error) {
	run := &models.BacktestRun{}
	var metrics string
	var brokerID, name, interval sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, strategy_name, broker_id, period_from, period_to, interval, initial_capital,
			bars_processed, metrics, created_at
		FROM backtest_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.StrategyID, &name, &brokerID, &run.Period.From, &run.Period.To, &interval,
		&run.InitialCapital, &run.BarsProcessed, &metrics, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "run %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.StrategyName, run.BrokerID, run.Interval = name.String, brokerID.String, interval.String
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}

	trades, err := s.db.QueryContext(ctx, `
		SELECT leg_id, instrument_id, COALESCE(symbol, ''), side, quantity, entry_price, exit_price, pnl, transaction_cost,
			exit_reason, entry_time, exit_time
		FROM backtest_trades WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer trades.Close()
	for trades.Next() {
		var t models.Trade
		var side, reason string
		if err := trades.Scan(&t.LegID, &t.InstrumentID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.TransactionCost, &reason, &t.EntryTimestamp, &t.ExitTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side, t.ExitReason = models.OrderSide(side), models.ExitReason(reason)
		run.Trades = append(run.Trades, t)
	}
	if err := trades.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	points, err := s.db.QueryContext(ctx, `SELECT timestamp, equity FROM backtest_equity WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity: %w", err)
	}
	defer points.Close()
	for points.Next() {
		var p models.EquityPoint
		if err := points.Scan(&p.Timestamp, &p.Equity); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		run.EquityCurve = append(run.EquityCurve, p)
	}
	if err := points.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity: %w", err)
	}

	run.Restore()
	return run, nil
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := `SELECT id, strategy_id, COALESCE(strategy_name, ''), period_from, period_to, initial_capital, trade_count,
		net_pnl, metrics, created_at FROM backtest_runs WHERE 1=1`
	args := []interface{}{}

	if filter.StrategyID != "" {
		query += " AND strategy_id = ?"
		args = append(args, filter.StrategyID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var metrics string
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.StrategyName, &r.Period.From, &r.Period.To, &r.InitialCapital,
			&r.Trades, &r.NetPnL, &metrics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var m models.Metrics
		if err := json.Unmarshal([]byte(metrics), &m); err == nil {
			r.SharpeRatio = m.SharpeRatio
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its trades and equity curve.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrapf(apperrors.ErrDataNotFound, "run %s", id)
	}
	return nil
}

// ============================================================================
// Sync Methods
// ============================================================================

func (s *SQLiteStore) loadSyncTimes() error {
	rows, err := s.db.Query(`SELECT data_type, last_sync FROM sync_status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var dataType string
		var lastSync time.Time
		if err := rows.Scan(&dataType, &lastSync); err != nil {
			return err
		}
		s.syncTimes[SyncDataType(dataType)] = lastSync
	}
	return rows.Err()
}

// GetLastSync returns when dataType was last refreshed, or the zero time.
func (s *SQLiteStore) GetLastSync(dataType SyncDataType) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncTimes[dataType]
}

// SetLastSync records when dataType was last refreshed.
func (s *SQLiteStore) SetLastSync(dataType SyncDataType, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	`, string(dataType), t.UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements DataStore
var _ DataStore = (*SQLiteStore)(nil)
