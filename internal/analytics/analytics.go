// Package analytics derives performance metrics from a backtest run.
// Compute is a pure function of the run's trades and equity curve.
package analytics

import (
	"math"
	"sort"
	"time"

	"strategy-backtester/internal/models"
	"strategy-backtester/pkg/utils"
)

// DefaultPeriodsPerYear is the number of trading days used to annualize Sharpe.
const DefaultPeriodsPerYear = 252

// flatTolerance treats near-identical returns as zero volatility.
const flatTolerance = 1e-12

// Compute calculates the metrics of run. Daily returns for the Sharpe ratio
// are taken from the last equity point of each calendar day in loc.
func Compute(run *models.BacktestRun, periodsPerYear float64, loc *time.Location) models.Metrics {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	if loc == nil {
		loc = utils.IndiaLocation
	}

	m := models.Metrics{
		ExitReasonCounts: make(map[models.ExitReason]int),
		FinalEquity:      run.FinalEquity(),
	}

	trades := ordered(run.Trades)
	var grossWin, grossLoss, holding float64
	var winStreak, lossStreak int
	for _, t := range trades {
		m.TotalTrades++
		m.TotalPnL += t.PnL
		m.TotalCosts += t.TransactionCost
		m.ExitReasonCounts[t.ExitReason]++
		holding += t.HoldDuration().Minutes()

		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWin += t.PnL
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		m.MaxWinStreak = max(m.MaxWinStreak, winStreak)
		m.MaxLossStreak = max(m.MaxLossStreak, lossStreak)
	}

	m.NetPnL = m.TotalPnL - m.TotalCosts
	if run.InitialCapital > 0 {
		m.TotalReturn = m.TotalPnL / run.InitialCapital * 100
		m.NetReturn = m.NetPnL / run.InitialCapital * 100
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgHoldingMinutes = holding / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
		m.ProfitFactor = grossWin / -grossLoss
	}

	m.MaxDrawdown = MaxDrawdown(run.InitialCapital, run.EquityCurve)
	m.SharpeRatio = Sharpe(DailyReturns(run.InitialCapital, run.EquityCurve, loc), periodsPerYear)
	return m
}

// ordered returns trades by exit time; ties keep recording order, which is
// leg order within a bar.
func ordered(trades []models.Trade) []models.Trade {
	out := make([]models.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExitTimestamp.Before(out[j].ExitTimestamp)
	})
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline in percent as a
// non-positive number. The initial capital is the first peak.
func MaxDrawdown(capital float64, curve []models.EquityPoint) float64 {
	peak := capital
	worst := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.Equity - peak) / peak * 100; dd < worst {
			worst = dd
		}
	}
	return worst
}

// DailyReturns resamples the curve to one value per calendar day and returns
// the simple returns between consecutive days, starting from capital.
func DailyReturns(capital float64, curve []models.EquityPoint, loc *time.Location) []float64 {
	var closes []float64
	lastKey := ""
	for _, p := range curve {
		key := utils.DateKey(p.Timestamp, loc)
		if key != lastKey {
			closes = append(closes, p.Equity)
			lastKey = key
			continue
		}
		closes[len(closes)-1] = p.Equity
	}

	prev := capital
	returns := make([]float64, 0, len(closes))
	for _, c := range closes {
		if prev != 0 {
			returns = append(returns, (c-prev)/prev)
		}
		prev = c
	}
	return returns
}

// Sharpe returns mean/stdev × √periodsPerYear using the population standard
// deviation. It is nil with fewer than two returns or zero volatility.
func Sharpe(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev < flatTolerance {
		return nil
	}

	s := mean / stdDev * math.Sqrt(periodsPerYear)
	return &s
}
