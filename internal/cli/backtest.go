package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/logging"
	"strategy-backtester/internal/marketdata"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/notify"
	"strategy-backtester/internal/risk"
	"strategy-backtester/internal/store"
	"strategy-backtester/internal/strategy"
	"strategy-backtester/internal/trading"
	"strategy-backtester/pkg/utils"
)

const dateLayout = "2006-01-02"

func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "backtest",
		Aliases: []string{"bt"},
		Short:   "Run and inspect backtests",
	}
	cmd.AddCommand(newBacktestRunCmd(app))
	cmd.AddCommand(newBacktestBatchCmd(app))
	cmd.AddCommand(newBacktestListCmd(app))
	cmd.AddCommand(newBacktestShowCmd(app))
	cmd.AddCommand(newBacktestMetricsCmd(app))
	cmd.AddCommand(newBacktestCompareCmd(app))
	cmd.AddCommand(newBacktestDeleteCmd(app))
	rootCmd.AddCommand(cmd)
}

// runFlags are shared by run and batch.
type runFlags struct {
	from     string
	to       string
	interval string
	capital  float64
	brokerID string
	save     bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "first session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.interval, "interval", "", "bar interval (default: strategy interval or config default)")
	cmd.Flags().Float64Var(&f.capital, "capital", 0, "initial capital (default: config)")
	cmd.Flags().StringVar(&f.brokerID, "broker", "", "resolve instruments against this broker")
	cmd.Flags().BoolVar(&f.save, "save", false, "persist the run to the store")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

// parsePeriod turns two session dates into a closed window covering both
// days entirely.
func parsePeriod(from, to string, loc *time.Location) (models.Period, error) {
	start, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return models.Period{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return models.Period{}, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	if end.Before(start) {
		return models.Period{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return models.Period{From: start, To: end.Add(24*time.Hour - time.Second)}, nil
}

// resolveInterval picks the flag, then the strategy's own interval, then the
// configured default.
func resolveInterval(flag string, s *models.Strategy, def string) string {
	if flag != "" {
		return flag
	}
	if spec, ok := s.Spec.(*models.IndicatorBased); ok && spec.Interval != "" {
		return spec.Interval
	}
	return def
}

// buildRequest loads the strategy named by ref and every series it trades.
func (a *App) buildRequest(ctx context.Context, ref string, f runFlags) (trading.Request, error) {
	loaded, err := a.LoadStrategy(ctx, ref, f.brokerID)
	if err != nil {
		return trading.Request{}, err
	}
	s := loaded.Strategy

	period, err := parsePeriod(f.from, f.to, a.Config.Location())
	if err != nil {
		return trading.Request{}, err
	}
	interval, err := canonicalInterval(resolveInterval(f.interval, s, a.Config.Backtest.DefaultInterval))
	if err != nil {
		return trading.Request{}, err
	}
	if err := strategy.CheckReplayInterval(interval); err != nil {
		return trading.Request{}, err
	}
	capital := f.capital
	if capital <= 0 {
		capital = a.Config.Backtest.InitialCapital
	}

	provider, err := a.Provider(ctx)
	if err != nil {
		return trading.Request{}, err
	}
	cal, err := a.Calendar()
	if err != nil {
		return trading.Request{}, err
	}
	days := s.Spec.Window().TradingDays
	cover := func(bars []models.Candle, from, to time.Time) (time.Time, time.Time, bool) {
		return cal.Uncovered(bars, from, to, days)
	}
	series, err := marketdata.LoadSeries(ctx, provider, s.InstrumentIDs(), period.From, period.To, interval, a.Config.Backtest.Workers, cover)
	if err != nil {
		return trading.Request{}, err
	}

	return trading.Request{
		Strategy:       s,
		Series:         series,
		Period:         period,
		Interval:       interval,
		InitialCapital: capital,
		BrokerID:       f.brokerID,
	}, nil
}

func newBacktestRunCmd(app *App) *cobra.Command {
	var (
		flags      runFlags
		showTrades bool
		showChart  bool
		route      string
	)

	cmd := &cobra.Command{
		Use:   "run <strategy-file|strategy-id>",
		Short: "Backtest one strategy",
		Long: `Replay a strategy over historical bars and report its trades, equity
curve and metrics. With --json the full run is printed.

--route paper sends every entry and exit intent through the paper broker
using the instrument table of --broker (default zerodha).`,
		Example: `  backtester backtest run straddle.yaml --from 2024-01-01 --to 2024-03-31
  backtester backtest run ema-cross --from 2024-01-01 --to 2024-06-30 --interval 15minute --save
  backtester backtest run straddle.yaml --from 2024-03-01 --to 2024-03-28 --route paper --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			var (
				router *broker.IntentRouter
				paper  *broker.PaperPlacer
				sink   risk.IntentSink
			)
			switch route {
			case "":
			case "paper":
				if flags.brokerID == "" {
					flags.brokerID = broker.ZerodhaBrokerID
				}
				resolver, err := app.Resolver(ctx)
				if err != nil {
					return err
				}
				paper = broker.NewPaperPlacer()
				router = broker.NewIntentRouter(ctx, flags.brokerID, resolver, paper, app.Logger)
				sink = router
			default:
				return fmt.Errorf("unsupported --route %q (only paper)", route)
			}

			req, err := app.buildRequest(ctx, args[0], flags)
			if err != nil {
				return err
			}
			sim, err := app.Simulator(sink)
			if err != nil {
				return err
			}

			start := time.Now()
			run, err := sim.Run(ctx, req)
			if err != nil {
				return err
			}
			logging.LogRun(app.Logger, run, time.Since(start))
			if router != nil {
				app.audited(app.Audit().LogRouted(flags.brokerID, router.Routed()))
			}

			if flags.save {
				if err := app.saveRun(ctx, run); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				if router == nil {
					return output.JSON(run)
				}
				return output.JSON(struct {
					*models.BacktestRun
					Routed    []broker.RoutedIntent  `json:"routed_intents"`
					Positions []broker.PaperPosition `json:"paper_positions"`
				}{run, router.Routed(), paper.Positions()})
			}

			printRunSummary(output, run)
			if showTrades {
				output.Println()
				printTrades(output, run.Trades)
			}
			if showChart {
				output.Println()
				output.Println(trading.EquityChart(run, 60, 12))
			}
			if router != nil {
				output.Println()
				printPaperBook(output, router, paper)
			}
			if flags.save {
				output.Success("✓ Saved run %s", run.ID)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&showTrades, "trades", false, "list every trade")
	cmd.Flags().BoolVar(&showChart, "chart", false, "draw the equity curve")
	cmd.Flags().StringVar(&route, "route", "", "route order intents (paper)")
	return cmd
}

func (a *App) saveRun(ctx context.Context, run *models.BacktestRun) error {
	st, err := a.Store()
	if err != nil {
		return err
	}
	if err := st.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	a.audited(a.Audit().LogRunSaved(run))
	return nil
}

func newBacktestBatchCmd(app *App) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "batch <strategy>...",
		Short: "Backtest several strategies in parallel and compare them",
		Long: `Run independent backtests over the same window on a worker pool and rank
them by Sharpe ratio. A strategy that fails to load or run is reported and
does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			type failure struct {
				Strategy string `json:"strategy"`
				Error    string `json:"error"`
			}
			var (
				jobs     []trading.Job
				failures []failure
			)
			for _, ref := range args {
				req, err := app.buildRequest(ctx, ref, flags)
				if err != nil {
					failures = append(failures, failure{ref, err.Error()})
					continue
				}
				jobs = append(jobs, trading.Job{Name: ref, Request: req})
			}

			sim, err := app.Simulator(nil)
			if err != nil {
				return err
			}
			results := trading.NewRunner(sim, app.Config.Backtest.Workers, app.Logger).RunAll(ctx, jobs)

			var runs []*models.BacktestRun
			for _, res := range results {
				if res.Err != nil {
					failures = append(failures, failure{res.Job.Name, res.Err.Error()})
					continue
				}
				runs = append(runs, res.Run)
				if flags.save {
					if err := app.saveRun(ctx, res.Run); err != nil {
						return err
					}
				}
			}
			comparison := trading.CompareRuns(runs)
			app.Notify(ctx, notify.BatchComplete(comparison, len(failures)))

			if output.IsJSON() {
				if err := output.JSON(map[string]interface{}{
					"comparison": comparison,
					"failures":   failures,
				}); err != nil {
					return err
				}
			} else {
				if len(comparison) > 0 {
					printComparison(output, comparison)
				}
				for _, f := range failures {
					output.Error("✗ %s: %s", f.Strategy, f.Error)
				}
			}
			if len(failures) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newBacktestListCmd(app *App) *cobra.Command {
	var (
		strategyID string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			filter := store.RunFilter{StrategyID: strategyID, Limit: limit}
			if since != "" {
				t, err := time.ParseInLocation(dateLayout, since, app.Config.Location())
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
				filter.Since = t
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			runs, err := st.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No saved runs")
				return nil
			}
			table := NewTable(output, "Run", "Strategy", "Period", "Trades", "Net P&L", "Sharpe", "Created")
			for _, r := range runs {
				table.AddRow(
					ShortID(r.ID),
					TruncateString(r.StrategyName, 24),
					r.Period.String(),
					fmt.Sprintf("%d", r.Trades),
					output.FormatPnL(r.NetPnL),
					FormatRatio(r.SharpeRatio),
					FormatDateTime(r.CreatedAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&strategyID, "strategy", "", "only runs of this strategy id")
	cmd.Flags().StringVar(&since, "since", "", "only runs created on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")
	return cmd
}

// loadRun finds a saved run by full id or by an unambiguous prefix.
func (a *App) loadRun(ctx context.Context, ref string) (*models.BacktestRun, error) {
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	run, err := st.GetRun(ctx, ref)
	if err == nil {
		return run, nil
	}

	summaries, lerr := st.ListRuns(ctx, store.RunFilter{})
	if lerr != nil {
		return nil, err
	}
	var matches []string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, err
	case 1:
		return st.GetRun(ctx, matches[0])
	}
	return nil, fmt.Errorf("run prefix %q is ambiguous (%d matches)", ref, len(matches))
}

func newBacktestShowCmd(app *App) *cobra.Command {
	var (
		showTrades bool
		showChart  bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			run, err := app.loadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(run)
			}

			printRunSummary(output, run)
			if showTrades {
				output.Println()
				printTrades(output, run.Trades)
			}
			if showChart {
				output.Println()
				output.Println(trading.EquityChart(run, 60, 12))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTrades, "trades", true, "list every trade")
	cmd.Flags().BoolVar(&showChart, "chart", false, "draw the equity curve")
	return cmd
}

func newBacktestMetricsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <run-id>",
		Short: "Print the metrics of a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			run, err := app.loadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(run.Metrics)
			}
			printMetrics(output, run)
			return nil
		},
	}
}

func newBacktestCompareCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <run-id> <run-id>...",
		Short: "Rank saved runs side by side",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			runs := make([]*models.BacktestRun, 0, len(args))
			for _, id := range args {
				run, err := app.loadRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				runs = append(runs, run)
			}
			comparison := trading.CompareRuns(runs)
			if output.IsJSON() {
				return output.JSON(comparison)
			}
			printComparison(output, comparison)
			return nil
		},
	}
}

func newBacktestDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			run, err := app.loadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.DeleteRun(cmd.Context(), run.ID); err != nil {
				return err
			}
			app.audited(app.Audit().LogRunDeleted(run.ID))
			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": run.ID})
			}
			output.Success("✓ Deleted run %s", run.ID)
			return nil
		},
	}
}

func printRunSummary(output *Output, run *models.BacktestRun) {
	m := run.Metrics
	output.Box(fmt.Sprintf("%s  %s", run.StrategyName, run.Period), []string{
		fmt.Sprintf("Run:          %s", run.ID),
		fmt.Sprintf("Interval:     %s  (%d bars)", run.Interval, run.BarsProcessed),
		fmt.Sprintf("Capital:      %s → %s", utils.FormatIndianCurrency(run.InitialCapital), utils.FormatIndianCurrency(m.FinalEquity)),
		fmt.Sprintf("Net P&L:      %s  (%s)", output.FormatPnL(m.NetPnL), output.FormatPercent(m.NetReturn)),
		fmt.Sprintf("Trades:       %d  (win rate %s)", m.TotalTrades, FormatWinRate(m.WinRate)),
		fmt.Sprintf("Max Drawdown: %s", output.FormatPercent(m.MaxDrawdown)),
		fmt.Sprintf("Sharpe:       %s", FormatRatio(m.SharpeRatio)),
	})
}

func printMetrics(output *Output, run *models.BacktestRun) {
	m := run.Metrics
	output.Bold("%s  %s", run.StrategyName, run.Period)
	output.Printf("  Total Trades:      %d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	output.Printf("  Win Rate:          %s\n", FormatWinRate(m.WinRate))
	output.Printf("  Gross P&L:         %s (%s)\n", output.FormatPnL(m.TotalPnL), output.FormatPercent(m.TotalReturn))
	output.Printf("  Costs:             %s\n", utils.FormatIndianCurrency(m.TotalCosts))
	output.Printf("  Net P&L:           %s (%s)\n", output.FormatPnL(m.NetPnL), output.FormatPercent(m.NetReturn))
	output.Printf("  Avg Win / Loss:    %s / %s\n", utils.FormatIndianCurrency(m.AvgWin), utils.FormatIndianCurrency(m.AvgLoss))
	output.Printf("  Profit Factor:     %.2f\n", m.ProfitFactor)
	output.Printf("  Streaks (W/L):     %d / %d\n", m.MaxWinStreak, m.MaxLossStreak)
	output.Printf("  Max Drawdown:      %s\n", output.FormatPercent(m.MaxDrawdown))
	output.Printf("  Sharpe Ratio:      %s\n", FormatRatio(m.SharpeRatio))
	output.Printf("  Avg Holding:       %s\n", FormatDuration(time.Duration(m.AvgHoldingMinutes*float64(time.Minute))))
	output.Printf("  Final Equity:      %s\n", utils.FormatIndianCurrency(m.FinalEquity))

	if len(m.ExitReasonCounts) > 0 {
		output.Println()
		output.Bold("Exit Reasons")
		for _, reason := range models.ExitReasons {
			if n := m.ExitReasonCounts[reason]; n > 0 {
				output.Printf("  %-12s %d\n", reason, n)
			}
		}
	}
}

func printTrades(output *Output, trades []models.Trade) {
	if len(trades) == 0 {
		output.Dim("No trades")
		return
	}
	table := NewTable(output, "Leg", "Symbol", "Side", "Qty", "Entry", "Exit", "Entry Time", "Exit Time", "Reason", "Net P&L")
	for _, t := range trades {
		table.AddRow(
			t.LegID,
			t.Symbol,
			string(t.Side),
			FormatVolume(int64(t.Quantity)),
			FormatPrice(t.EntryPrice),
			FormatPrice(t.ExitPrice),
			FormatDateTime(t.EntryTimestamp),
			FormatDateTime(t.ExitTimestamp),
			string(t.ExitReason),
			output.FormatPnL(t.NetPnL()),
		)
	}
	table.Render()
}

func printComparison(output *Output, rows []trading.StrategyComparison) {
	table := NewTable(output, "#", "Strategy", "Run", "Trades", "Win Rate", "Net P&L", "Return", "Max DD", "Sharpe", "PF")
	for i, c := range rows {
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			TruncateString(c.Strategy, 24),
			ShortID(c.RunID),
			fmt.Sprintf("%d", c.TotalTrades),
			FormatWinRate(c.WinRate),
			output.FormatPnL(c.NetPnL),
			output.FormatPercent(c.NetReturn),
			output.FormatPercent(c.MaxDrawdown),
			FormatRatio(c.SharpeRatio),
			fmt.Sprintf("%.2f", c.ProfitFactor),
		)
	}
	table.Render()
}

func printPaperBook(output *Output, router *broker.IntentRouter, paper *broker.PaperPlacer) {
	routed := router.Routed()
	output.Bold("Paper Routing: %d intents, %d failed", len(routed), router.Failures())

	failures := make(map[string]int)
	for _, r := range routed {
		if r.Err != nil {
			failures[r.Err.Error()]++
		}
	}
	reasons := make([]string, 0, len(failures))
	for reason := range failures {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		output.Warning("  %dx %s", failures[reason], reason)
	}

	positions := paper.Positions()
	if len(positions) == 0 {
		return
	}
	table := NewTable(output, "Symbol", "Exchange", "Net Qty", "Avg Price", "Realized")
	for _, p := range positions {
		table.AddRow(p.Symbol, string(p.Exchange), fmt.Sprintf("%d", p.Quantity), FormatPrice(p.AveragePrice), output.FormatPnL(p.RealizedPnL))
	}
	table.Render()
	output.Printf("Realized: %s\n", output.FormatPnL(paper.RealizedPnL()))
}
