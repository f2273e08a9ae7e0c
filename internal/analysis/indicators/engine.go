// Package indicators provides technical indicator calculations and entry
// condition evaluation for indicator-based strategies.
package indicators

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"strategy-backtester/internal/models"
)

// Line is an indicator output aligned with its input candles. Values before
// Start are warm-up and carry no meaning.
type Line struct {
	Values []float64
	Start  int
}

// Valid reports whether index i holds a computed value.
func (l Line) Valid(i int) bool {
	return i >= l.Start && i < len(l.Values)
}

// Indicator defines the interface for single-line technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) (Line, error)
	Period() int
}

type factory struct {
	needsPeriod bool
	build       func(period int) Indicator
}

var registry = map[string]factory{
	"SMA":         {true, func(p int) Indicator { return NewSMA(p) }},
	"EMA":         {true, func(p int) Indicator { return NewEMA(p) }},
	"RSI":         {true, func(p int) Indicator { return NewRSI(p) }},
	"ROC":         {true, func(p int) Indicator { return NewROC(p) }},
	"ATR":         {true, func(p int) Indicator { return NewATR(p) }},
	"BB_UPPER":    {true, func(p int) Indicator { return NewBollingerBands(p, 2, BandUpper) }},
	"BB_MIDDLE":   {true, func(p int) Indicator { return NewBollingerBands(p, 2, BandMiddle) }},
	"BB_LOWER":    {true, func(p int) Indicator { return NewBollingerBands(p, 2, BandLower) }},
	"MACD":        {false, func(int) Indicator { return NewMACD(12, 26, 9, MACDLine) }},
	"MACD_SIGNAL": {false, func(int) Indicator { return NewMACD(12, 26, 9, MACDSignal) }},
	"MACD_HIST":   {false, func(int) Indicator { return NewMACD(12, 26, 9, MACDHistogram) }},
	"VWAP":        {false, func(int) Indicator { return NewVWAP() }},
	"OPEN":        {false, func(int) Indicator { return NewPrice(FieldOpen) }},
	"HIGH":        {false, func(int) Indicator { return NewPrice(FieldHigh) }},
	"LOW":         {false, func(int) Indicator { return NewPrice(FieldLow) }},
	"CLOSE":       {false, func(int) Indicator { return NewPrice(FieldClose) }},
	"VOLUME":      {false, func(int) Indicator { return NewPrice(FieldVolume) }},
}

// canonical maps "ema", "Bb-Upper", "macd signal" to registry keys.
func canonical(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	if n == "PRICE" || n == "LTP" {
		return "CLOSE"
	}
	return n
}

// Known reports whether name is a supported indicator.
func Known(name string) bool {
	_, ok := registry[canonical(name)]
	return ok
}

// NeedsPeriod reports whether name requires a positive period.
func NeedsPeriod(name string) bool {
	return registry[canonical(name)].needsPeriod
}

// New builds the indicator registered under name.
func New(name string, period int) (Indicator, error) {
	f, ok := registry[canonical(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, name)
	}
	if f.needsPeriod && period <= 0 {
		return nil, fmt.Errorf("%w: %s needs a positive period", ErrInvalidPeriod, name)
	}
	return f.build(period), nil
}

// Engine computes the distinct indicator lines of a condition set in parallel.
type Engine struct {
	workers int
}

// NewEngine creates a new indicator engine with the specified number of workers.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{workers: workers}
}

type job struct {
	key string
	ind Indicator
}

// Prepare computes every line the conditions reference over candles and
// returns a ConditionSet ready for per-bar evaluation. An indicator with
// insufficient data yields an empty line, so its conditions never hold.
func (e *Engine) Prepare(ctx context.Context, conds []models.EntryCondition, candles []models.Candle) (*ConditionSet, error) {
	jobs := make(map[string]Indicator)
	for _, c := range conds {
		for _, ref := range c.Operands() {
			key := lineKey(ref.Name, ref.Period)
			if _, ok := jobs[key]; ok {
				continue
			}
			ind, err := New(ref.Name, ref.Period)
			if err != nil {
				return nil, err
			}
			jobs[key] = ind
		}
	}

	lines := make(map[string]Line, len(jobs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	work := make(chan job, len(jobs))
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				if ctx.Err() != nil {
					return
				}
				line, err := j.ind.Calculate(candles)
				mu.Lock()
				switch {
				case err == nil:
					lines[j.key] = line
				case err == ErrInsufficientData:
					lines[j.key] = Line{Values: make([]float64, len(candles)), Start: len(candles)}
				case firstErr == nil:
					firstErr = fmt.Errorf("%s: %w", j.ind.Name(), err)
				}
				mu.Unlock()
			}
		}()
	}

	for key, ind := range jobs {
		work <- job{key: key, ind: ind}
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return newConditionSet(conds, lines), nil
}

func lineKey(name string, period int) string {
	n := canonical(name)
	if !registry[n].needsPeriod {
		period = 0
	}
	return fmt.Sprintf("%s_%d", n, period)
}
