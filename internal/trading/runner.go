package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"strategy-backtester/internal/logging"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/performance"
)

// Job is one named backtest in a batch.
type Job struct {
	Name    string
	Request Request
}

// Result is the outcome of one Job. Exactly one of Run and Err is set.
type Result struct {
	Job     Job
	Run     *models.BacktestRun
	Err     error
	Elapsed time.Duration
}

// Runner executes independent backtests on a fixed-size worker pool.
type Runner struct {
	sim     *Simulator
	workers int
	logger  zerolog.Logger
}

// NewRunner creates a runner. workers <= 0 sizes the pool to the available cores.
func NewRunner(sim *Simulator, workers int, logger zerolog.Logger) *Runner {
	return &Runner{
		sim:     sim,
		workers: workers,
		logger:  logging.WithComponent(logger, "runner"),
	}
}

// RunAll runs every job and returns results in submission order. One job's
// failure does not affect the others.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	pool := performance.NewWorkerPool(r.workers)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i, job := range jobs {
		results[i].Job = job
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			start := time.Now()
			run, err := r.sim.Run(ctx, job.Request)
			results[i].Run, results[i].Err, results[i].Elapsed = run, err, time.Since(start)
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			r.logger.Warn().Err(res.Err).Str("job", res.Job.Name).Msg("Backtest failed")
		}
	}
	r.logger.Info().Int("jobs", len(jobs)).Int("failed", failed).Int("workers", pool.Workers()).Msg("Batch completed")
	return results
}
