package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/marketdata"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/performance"
	"strategy-backtester/internal/store"
)

// importBatchSize is how many bars are written per store transaction.
const importBatchSize = 5000

// canonicalInterval maps interval aliases such as 5m or 1d onto the names
// bars are stored and fetched under.
func canonicalInterval(interval string) (string, error) {
	in := strings.ToLower(strings.TrimSpace(interval))
	out := broker.MapInterval(in)
	if out == "day" {
		switch in {
		case "", "day", "1d", "1day", "daily":
		default:
			return "", fmt.Errorf("unknown interval %q", interval)
		}
	}
	return out, nil
}

func addDataCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Import, fetch and inspect stored bars",
	}
	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataFetchCmd(app))
	cmd.AddCommand(newDataExportCmd(app))
	cmd.AddCommand(newDataCoverageCmd(app))
	rootCmd.AddCommand(cmd)
}

// saveBars writes bars in batches so a large import never holds one giant
// transaction.
func saveBars(cmd *cobra.Command, st store.DataStore, instrumentID, interval string, bars []models.Candle) error {
	batch := performance.NewBatchProcessor(importBatchSize, func(chunk []models.Candle) error {
		return st.SaveCandles(cmd.Context(), instrumentID, interval, chunk)
	})
	for _, bar := range bars {
		if err := batch.Add(bar); err != nil {
			return fmt.Errorf("saving bars: %w", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("saving bars: %w", err)
	}
	return st.SetLastSync(store.SyncTypeCandles, time.Now())
}

func newDataImportCmd(app *App) *cobra.Command {
	var (
		instrumentID string
		interval     string
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import bars from a CSV file",
		Long: `Import OHLCV bars from a CSV file with the header
timestamp,open,high,low,close,volume. Timestamps without a zone are read in
the configured exchange timezone. Existing bars at the same timestamps are
replaced.`,
		Example: `  backtester data import nifty_5m.csv --instrument NSE:NIFTY\ 50 --interval 5minute`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			iv, err := canonicalInterval(interval)
			if err != nil {
				return err
			}
			id := strings.ToUpper(strings.TrimSpace(instrumentID))
			if _, _, err := models.SplitUniversalID(id); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			bars, err := marketdata.ReadCSV(f, app.Config.Location())
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if len(bars) == 0 {
				return fmt.Errorf("%s contains no bars", args[0])
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := saveBars(cmd, st, id, iv, bars); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"instrument_id": id,
					"interval":      iv,
					"bars":          len(bars),
					"from":          bars[0].Timestamp,
					"to":            bars[len(bars)-1].Timestamp,
				})
			}
			output.Success("✓ Imported %s %s bars for %s (%s → %s)", FormatVolume(int64(len(bars))), iv, id,
				FormatDateTime(bars[0].Timestamp), FormatDateTime(bars[len(bars)-1].Timestamp))
			return nil
		},
	}

	cmd.Flags().StringVar(&instrumentID, "instrument", "", "instrument id (EXCHANGE:SYMBOL)")
	cmd.Flags().StringVar(&interval, "interval", "day", "bar interval")
	_ = cmd.MarkFlagRequired("instrument")
	return cmd
}

func newDataFetchCmd(app *App) *cobra.Command {
	var (
		interval string
		from     string
		to       string
	)

	cmd := &cobra.Command{
		Use:   "fetch <EXCHANGE:SYMBOL>...",
		Short: "Download bars from Kite into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			iv, err := canonicalInterval(interval)
			if err != nil {
				return err
			}
			period, err := parsePeriod(from, to, app.Config.Location())
			if err != nil {
				return err
			}
			kite, err := app.Kite(ctx)
			if err != nil {
				return err
			}
			if !kite.IsAuthenticated() {
				return fmt.Errorf("kite session missing, run 'backtester auth login'")
			}
			st, err := app.Store()
			if err != nil {
				return err
			}

			ids := make([]string, len(args))
			for i, a := range args {
				ids[i] = strings.ToUpper(a)
			}
			provider := marketdata.NewRetryingProvider(kite, app.retryingOptions("kite"), app.Logger)
			cal, err := app.Calendar()
			if err != nil {
				return err
			}
			cover := func(bars []models.Candle, from, to time.Time) (time.Time, time.Time, bool) {
				return cal.Uncovered(bars, from, to, models.Weekdays)
			}
			series, err := marketdata.LoadSeries(ctx, provider, ids, period.From, period.To, iv, app.Config.Backtest.Workers, cover)
			if err != nil {
				return err
			}

			counts := make(map[string]int, len(series))
			for i, id := range ids {
				if err := saveBars(cmd, st, id, iv, series[id]); err != nil {
					return err
				}
				counts[id] = len(series[id])
				if !output.IsJSON() {
					output.Progress(i+1, len(ids), "Saving")
				}
			}

			if output.IsJSON() {
				return output.JSON(counts)
			}
			for _, id := range ids {
				output.Success("✓ %-28s %s %s bars", id, FormatVolume(int64(counts[id])), iv)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "day", "bar interval")
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDataExportCmd(app *App) *cobra.Command {
	var (
		interval string
		from     string
		to       string
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "export <EXCHANGE:SYMBOL>",
		Short: "Write stored bars as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := canonicalInterval(interval)
			if err != nil {
				return err
			}
			period, err := parsePeriod(from, to, app.Config.Location())
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			bars, err := st.GetCandles(cmd.Context(), strings.ToUpper(args[0]), iv, period.From, period.To)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := marketdata.WriteCSV(w, bars); err != nil {
				return err
			}
			if outPath != "" {
				NewOutput(cmd).Success("✓ Wrote %d bars to %s", len(bars), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "day", "bar interval")
	cmd.Flags().StringVar(&from, "from", "1990-01-01", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", time.Now().Format(dateLayout), "last date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newDataCoverageCmd(app *App) *cobra.Command {
	var interval string

	cmd := &cobra.Command{
		Use:   "coverage <EXCHANGE:SYMBOL>...",
		Short: "Show the stored date range of instruments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			iv, err := canonicalInterval(interval)
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}

			coverage := make([]*store.Coverage, 0, len(args))
			for _, id := range args {
				c, err := st.CandleCoverage(cmd.Context(), strings.ToUpper(id), iv)
				if err != nil {
					return err
				}
				if c == nil {
					c = &store.Coverage{InstrumentID: strings.ToUpper(id), Interval: iv}
				}
				coverage = append(coverage, c)
			}

			if output.IsJSON() {
				return output.JSON(coverage)
			}
			table := NewTable(output, "Instrument", "Interval", "From", "To", "Bars")
			for _, c := range coverage {
				if c.Bars == 0 {
					table.AddRow(c.InstrumentID, c.Interval, "-", "-", output.Yellow("none"))
					continue
				}
				table.AddRow(c.InstrumentID, c.Interval, FormatDateTime(c.From), FormatDateTime(c.To), FormatVolume(int64(c.Bars)))
			}
			table.Render()
			if last := st.GetLastSync(store.SyncTypeCandles); !last.IsZero() {
				output.Dim("Last import: %s", FormatDateTime(last))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "day", "bar interval")
	return cmd
}
