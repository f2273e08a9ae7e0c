package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/config"
	"strategy-backtester/internal/instruments"
	"strategy-backtester/internal/marketdata"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/notify"
	"strategy-backtester/internal/resilience"
	"strategy-backtester/internal/risk"
	"strategy-backtester/internal/security"
	"strategy-backtester/internal/store"
	"strategy-backtester/internal/strategy"
	"strategy-backtester/internal/trading"
)

// instrumentMaxAge is how old the stored instrument table may get before
// commands warn about it.
const instrumentMaxAge = 24 * time.Hour

// App holds the application dependencies. Everything beyond the config and
// logger is built on first use so commands only pay for what they touch.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store    store.DataStore
	resolver *instruments.Resolver
	kite     *broker.ZerodhaBroker
	provider marketdata.Provider
	audit    *security.AuditLogger
	notifier notify.Notifier
}

// Store opens the SQLite store.
func (a *App) Store() (store.DataStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	path := a.Config.Store.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	a.store = s
	a.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

// Resolver loads the instrument table persisted by the last refresh.
func (a *App) Resolver(ctx context.Context) (*instruments.Resolver, error) {
	if a.resolver != nil {
		return a.resolver, nil
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	seed, err := st.LoadInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading instruments: %w", err)
	}
	if store.Stale(st, store.SyncTypeInstruments, instrumentMaxAge, time.Now()) {
		a.Logger.Warn().Int("instruments", len(seed)).Msg("Instrument table is stale, run 'backtester instruments refresh'")
	}
	a.resolver = instruments.NewResolver(a.Logger, seed)
	return a.resolver, nil
}

// Kite returns the Kite Connect client. Only an API key is required here;
// calls that need a session check IsAuthenticated.
func (a *App) Kite(ctx context.Context) (*broker.ZerodhaBroker, error) {
	if a.kite != nil {
		return a.kite, nil
	}
	creds := a.Config.Credentials.Zerodha
	if creds.APIKey == "" {
		return nil, fmt.Errorf("zerodha api_key not configured (credentials.toml or KITE_API_KEY)")
	}
	resolver, err := a.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	a.kite = broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:      creds.APIKey,
		APISecret:   creds.APISecret,
		AccessToken: creds.AccessToken,
	}, resolver, a.Logger)
	a.Logger.Debug().Bool("authenticated", a.kite.IsAuthenticated()).Msg("Zerodha broker initialized")
	return a.kite, nil
}

// Provider builds the configured bar source: the local store or Kite behind
// retries, rate limiting and a circuit breaker, with a shared cache on top.
func (a *App) Provider(ctx context.Context) (marketdata.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}

	var p marketdata.Provider
	switch a.Config.Data.Provider {
	case "kite":
		kite, err := a.Kite(ctx)
		if err != nil {
			return nil, err
		}
		if !kite.IsAuthenticated() {
			return nil, fmt.Errorf("kite session missing, run 'backtester auth login'")
		}
		p = marketdata.NewRetryingProvider(kite, a.retryingOptions("kite"), a.Logger)
	default:
		st, err := a.Store()
		if err != nil {
			return nil, err
		}
		p = marketdata.NewStoreProvider(st, a.Logger)
	}

	if a.Config.Data.CacheTTL > 0 {
		p = marketdata.NewBarCache(p, a.Config.Data.CacheTTL)
	}
	a.provider = p
	return p, nil
}

func (a *App) retryingOptions(name string) marketdata.RetryingOptions {
	d := a.Config.Data
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.FailureThreshold = d.CircuitFailures
	if d.CircuitTimeout > 0 {
		breaker.Timeout = d.CircuitTimeout
	}
	return marketdata.RetryingOptions{
		Retry:   a.Config.RetryConfig(),
		Rate:    d.RateLimit,
		Burst:   d.Burst,
		Breaker: breaker,
		Name:    name,
	}
}

// Calendar builds the session calendar from the configured timezone and holidays.
func (a *App) Calendar() (*trading.Calendar, error) {
	cal := trading.NewCalendar(a.Config.Location())
	if err := cal.AddHolidays(a.Config.Backtest.Holidays); err != nil {
		return nil, fmt.Errorf("parsing holidays: %w", err)
	}
	return cal, nil
}

// Simulator builds a simulator; sink may be nil.
func (a *App) Simulator(sink risk.IntentSink) (*trading.Simulator, error) {
	cal, err := a.Calendar()
	if err != nil {
		return nil, err
	}
	return trading.NewSimulator(trading.Options{
		Costs: trading.CostModel{
			FixedPerOrder:     a.Config.Costs.FixedPerOrder,
			PercentOfNotional: a.Config.Costs.PercentOfNotional,
		},
		Calendar:         cal,
		PeriodsPerYear:   a.Config.Backtest.PeriodsPerYear,
		IndicatorWorkers: a.Config.Backtest.Workers,
		Sink:             sink,
	}, a.Logger), nil
}

// Validator builds a strategy validator. Instrument cross-checks run only
// when brokerID is set.
func (a *App) Validator(ctx context.Context, brokerID string) (*strategy.Validator, error) {
	if brokerID == "" {
		return strategy.NewValidator(nil, a.Logger), nil
	}
	resolver, err := a.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	return strategy.NewValidator(resolver, a.Logger), nil
}

// LoadedStrategy is a validated strategy plus the document it came from.
type LoadedStrategy struct {
	Strategy *models.Strategy
	Document *strategy.Document
	Format   string
	Raw      []byte
}

// LoadStrategy reads ref as a document file when it exists on disk and as
// a saved strategy id otherwise, then validates it against brokerID.
func (a *App) LoadStrategy(ctx context.Context, ref, brokerID string) (*LoadedStrategy, error) {
	raw, format, err := a.readStrategy(ctx, ref)
	if err != nil {
		return nil, err
	}

	var doc *strategy.Document
	if format == "yaml" {
		doc, err = strategy.ParseYAML(raw)
	} else {
		doc, err = strategy.ParseJSON(raw)
	}
	if err != nil {
		return nil, err
	}

	v, err := a.Validator(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	s, err := v.Load(doc, brokerID)
	if err != nil {
		return nil, err
	}
	return &LoadedStrategy{Strategy: s, Document: doc, Format: format, Raw: raw}, nil
}

func (a *App) readStrategy(ctx context.Context, ref string) ([]byte, string, error) {
	if _, err := os.Stat(ref); err == nil {
		raw, err := os.ReadFile(ref)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", ref, err)
		}
		return raw, documentFormat(ref), nil
	}

	st, err := a.Store()
	if err != nil {
		return nil, "", err
	}
	rec, err := st.GetStrategy(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("%s is neither a file nor a saved strategy: %w", ref, err)
	}
	return rec.Document, rec.Format, nil
}

func documentFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

// Audit opens the audit trail. When auditing is disabled or the file cannot
// be opened it returns nil, which discards events.
func (a *App) Audit() *security.AuditLogger {
	if a.audit != nil || !a.Config.Audit.Enabled {
		return a.audit
	}
	al, err := security.NewAuditLogger(security.DefaultAuditConfig(a.Config.Audit.Path))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Audit trail disabled")
		return nil
	}
	a.audit = al
	return al
}

// audited writes err-free audit events and only logs failures.
func (a *App) audited(err error) {
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Writing audit event failed")
	}
}

// Notify posts n to the configured webhook when its event type is enabled.
func (a *App) Notify(ctx context.Context, n notify.Notification) {
	if !a.Config.NotifyOn(n.Type) {
		return
	}
	if a.notifier == nil {
		a.notifier = notify.NewWebhookNotifier(a.Config.Notify.WebhookURL, a.Config.Notify.Timeout, a.Logger)
	}
	if err := a.notifier.Send(ctx, n); err != nil {
		a.Logger.Warn().Err(err).Str("type", n.Type).Msg("Notification failed")
	}
}

// Close releases the store and the audit file.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.audit != nil {
		if cerr := a.audit.Close(); err == nil {
			err = cerr
		}
		a.audit = nil
	}
	return err
}
