package trading

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"strategy-backtester/internal/models"
)

// EquityChart renders the equity curve of run as an ASCII chart.
func EquityChart(run *models.BacktestRun, width, height int) string {
	if len(run.EquityCurve) == 0 {
		return "No data to display"
	}
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}

	minEquity := run.EquityCurve[0].Equity
	maxEquity := run.EquityCurve[0].Equity
	for _, point := range run.EquityCurve {
		minEquity = math.Min(minEquity, point.Equity)
		maxEquity = math.Max(maxEquity, point.Equity)
	}

	// Add padding
	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Bucket the curve into columns; each column plots its last point.
	n := len(run.EquityCurve)
	cols := min(width, n)
	for x := 0; x < cols; x++ {
		idx := (x+1)*n/cols - 1
		y := int((run.EquityCurve[idx].Equity - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve (%.0f - %.0f)\n", minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}

// StrategyComparison is one row of a side-by-side comparison of runs.
type StrategyComparison struct {
	RunID        string   `json:"run_id"`
	Strategy     string   `json:"strategy"`
	NetPnL       float64  `json:"net_pnl"`
	NetReturn    float64  `json:"net_return_pct"`
	WinRate      float64  `json:"win_rate"`
	MaxDrawdown  float64  `json:"max_drawdown_pct"`
	SharpeRatio  *float64 `json:"sharpe_ratio"`
	TotalTrades  int      `json:"total_trades"`
	ProfitFactor float64  `json:"profit_factor"`
}

// CompareRuns ranks sealed runs by Sharpe ratio, then net return. Runs
// without a Sharpe ratio rank last.
func CompareRuns(runs []*models.BacktestRun) []StrategyComparison {
	comparisons := make([]StrategyComparison, 0, len(runs))
	for _, run := range runs {
		m := run.Metrics
		comparisons = append(comparisons, StrategyComparison{
			RunID:        run.ID,
			Strategy:     run.StrategyName,
			NetPnL:       m.NetPnL,
			NetReturn:    m.NetReturn,
			WinRate:      m.WinRate,
			MaxDrawdown:  m.MaxDrawdown,
			SharpeRatio:  m.SharpeRatio,
			TotalTrades:  m.TotalTrades,
			ProfitFactor: m.ProfitFactor,
		})
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		a, b := comparisons[i].SharpeRatio, comparisons[j].SharpeRatio
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && *a != *b:
			return *a > *b
		}
		return comparisons[i].NetReturn > comparisons[j].NetReturn
	})
	return comparisons
}
