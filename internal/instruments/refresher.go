package instruments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"strategy-backtester/internal/models"
)

// Persister stores the instrument table after a refresh.
type Persister interface {
	SaveInstruments(ctx context.Context, instruments []models.Instrument) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Refresher applies broker dumps to a Resolver, on demand or on a cron schedule.
type Refresher struct {
	resolver  *Resolver
	loaders   []Loader
	persister Persister
	location  *time.Location
	logger    zerolog.Logger
	cron      *cron.Cron
	onRefresh func([]RefreshResult, error)
}

// NewRefresher creates a refresher. persister may be nil.
func NewRefresher(resolver *Resolver, loaders []Loader, persister Persister, loc *time.Location, logger zerolog.Logger) *Refresher {
	return &Refresher{
		resolver:  resolver,
		loaders:   loaders,
		persister: persister,
		location:  loc,
		logger:    logger.With().Str("component", "refresher").Logger(),
	}
}

// OnRefresh sets a callback run after every scheduled refresh.
func (r *Refresher) OnRefresh(fn func([]RefreshResult, error)) {
	r.onRefresh = fn
}

// RefreshResult reports what one refresh did per broker.
type RefreshResult struct {
	BrokerID string
	Mappings int
	Err      error
}

// RefreshAll runs every loader once. A failing loader leaves that broker's
// current block untouched; the other brokers are still applied.
func (r *Refresher) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	results := make([]RefreshResult, 0, len(r.loaders))
	var errs []error
	applied := false

	for _, l := range r.loaders {
		dump, err := l.Load(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("broker", l.BrokerID()).Msg("Instrument load failed")
			results = append(results, RefreshResult{BrokerID: l.BrokerID(), Err: err})
			errs = append(errs, fmt.Errorf("%s: %w", l.BrokerID(), err))
			continue
		}
		n := r.resolver.ReplaceBroker(l.BrokerID(), dump)
		results = append(results, RefreshResult{BrokerID: l.BrokerID(), Mappings: n})
		applied = true
	}

	if applied && r.persister != nil {
		if err := r.persister.SaveInstruments(ctx, r.resolver.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("persisting instruments: %w", err))
		}
	}
	return results, errors.Join(errs...)
}

// Start schedules RefreshAll on spec (standard 5-field cron in the refresher's location).
func (r *Refresher) Start(ctx context.Context, spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c := cron.New(cron.WithLocation(r.location), cron.WithParser(cronParser))
	if _, err := c.AddFunc(spec, func() {
		results, err := r.RefreshAll(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Scheduled refresh incomplete")
		}
		if r.onRefresh != nil {
			r.onRefresh(results, err)
		}
	}); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.logger.Info().Str("schedule", spec).Msg("Instrument refresh scheduled")
	return nil
}

// Stop stops the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// NextRun returns the next scheduled time after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
