package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/instruments"
	"strategy-backtester/internal/models"
	"strategy-backtester/internal/notify"
	"strategy-backtester/internal/resilience"
	"strategy-backtester/internal/store"
)

func addInstrumentCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "instruments",
		Aliases: []string{"inst"},
		Short:   "Resolve, list and refresh the instrument table",
	}
	cmd.AddCommand(newInstrumentsResolveCmd(app))
	cmd.AddCommand(newInstrumentsListCmd(app))
	cmd.AddCommand(newInstrumentsRefreshCmd(app))
	cmd.AddCommand(newInstrumentsWatchCmd(app))
	rootCmd.AddCommand(cmd)
}

func newInstrumentsResolveCmd(app *App) *cobra.Command {
	var brokerID string

	cmd := &cobra.Command{
		Use:   "resolve <EXCHANGE:SYMBOL>...",
		Short: "Resolve instruments to broker tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			resolver, err := app.Resolver(cmd.Context())
			if err != nil {
				return err
			}

			type resolution struct {
				ID    string                      `json:"id"`
				Ref   *models.BrokerInstrumentRef `json:"ref,omitempty"`
				Error string                      `json:"error,omitempty"`
			}
			results := make([]resolution, 0, len(args))
			failed := 0
			for _, id := range args {
				ref, err := resolver.Resolve(strings.ToUpper(id), brokerID)
				if err != nil {
					failed++
					results = append(results, resolution{ID: id, Error: err.Error()})
					continue
				}
				results = append(results, resolution{ID: id, Ref: &ref})
			}

			if output.IsJSON() {
				if err := output.JSON(results); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "Instrument", "Token", "Lot", "Tick", "Status")
				for _, r := range results {
					if r.Ref == nil {
						table.AddRow(r.ID, "-", "-", "-", output.Red(r.Error))
						continue
					}
					table.AddRow(r.ID, r.Ref.Token, fmt.Sprintf("%d", r.Ref.LotSize), fmt.Sprintf("%.2f", r.Ref.TickSize), output.Green("ok"))
				}
				table.Render()
			}
			if failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerID, "broker", broker.ZerodhaBrokerID, "broker to resolve against")
	return cmd
}

func newInstrumentsListCmd(app *App) *cobra.Command {
	var (
		exchange   string
		underlying string
		instType   string
		prefix     string
		brokers    []string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instruments tradable on every given broker",
		Example: `  backtester instruments list --exchange NFO --underlying NIFTY --type CE --limit 20
  backtester instruments list --prefix RELI --broker zerodha --broker upstox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			resolver, err := app.Resolver(cmd.Context())
			if err != nil {
				return err
			}

			filter := instruments.Filter{
				Exchange:       models.Exchange(strings.ToUpper(exchange)),
				Underlying:     underlying,
				InstrumentType: instType,
				SymbolPrefix:   prefix,
			}
			var list []models.Instrument
			for inst := range resolver.ListMultiBroker(filter, brokers) {
				list = append(list, inst)
				if limit > 0 && len(list) >= limit {
					break
				}
			}

			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("No matching instruments (%d in table)", resolver.Len())
				return nil
			}
			table := NewTable(output, "ID", "Type", "Underlying", "Expiry", "Strike", "Brokers")
			for _, inst := range list {
				strike := "-"
				if inst.Strike > 0 {
					strike = FormatPrice(inst.Strike)
				}
				table.AddRow(inst.ID, inst.InstrumentType, inst.Underlying, FormatDate(inst.Expiry), strike, brokerList(inst))
			}
			table.Render()
			output.Dim("%d shown", len(list))
			return nil
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange (NSE, NFO, BSE, BFO, MCX)")
	cmd.Flags().StringVar(&underlying, "underlying", "", "underlying of derivatives")
	cmd.Flags().StringVar(&instType, "type", "", "instrument type (EQ, FUT, CE, PE, INDEX)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "symbol prefix")
	cmd.Flags().StringSliceVar(&brokers, "broker", nil, "require a usable mapping on this broker (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum instruments to list (0 for all)")
	return cmd
}

func brokerList(inst models.Instrument) string {
	ids := make([]string, 0, len(inst.Brokers))
	for id := range inst.Brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// loaders builds one instrument loader per configured broker: the scrip
// master URL when one is configured, Kite for zerodha otherwise.
func (a *App) loaders(ctx context.Context) ([]instruments.Loader, error) {
	var loaders []instruments.Loader
	for _, id := range a.Config.Instruments.Brokers {
		if url, ok := a.Config.Instruments.ScripMasters[id]; ok && url != "" {
			loaders = append(loaders, instruments.NewRESTLoader(id, url, a.Logger))
			continue
		}
		if id == broker.ZerodhaBrokerID {
			kite, err := a.Kite(ctx)
			if err != nil {
				a.Logger.Warn().Err(err).Msg("Skipping zerodha instruments")
				continue
			}
			loaders = append(loaders, kite)
			continue
		}
		a.Logger.Warn().Str("broker", id).Msg("No instrument source configured, skipping")
	}
	if len(loaders) == 0 {
		return nil, fmt.Errorf("no instrument sources available for brokers %v", a.Config.Instruments.Brokers)
	}
	return loaders, nil
}

func (a *App) refresher(ctx context.Context) (*instruments.Refresher, error) {
	resolver, err := a.Resolver(ctx)
	if err != nil {
		return nil, err
	}
	loaders, err := a.loaders(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	return instruments.NewRefresher(resolver, loaders, st, a.Config.Location(), a.Logger), nil
}

func newInstrumentsRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Download instrument dumps and replace the table",
		Long: `Load every configured broker's instrument dump and swap it into the table.
A broker whose download fails keeps its previous mappings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			r, err := app.refresher(ctx)
			if err != nil {
				return err
			}

			start := time.Now()
			results, refreshErr := r.RefreshAll(ctx)
			app.recordRefresh(ctx, results)

			if output.IsJSON() {
				type row struct {
					Broker   string `json:"broker"`
					Mappings int    `json:"mappings"`
					Error    string `json:"error,omitempty"`
				}
				rows := make([]row, 0, len(results))
				for _, res := range results {
					rr := row{Broker: res.BrokerID, Mappings: res.Mappings}
					if res.Err != nil {
						rr.Error = res.Err.Error()
					}
					rows = append(rows, rr)
				}
				if err := output.JSON(rows); err != nil {
					return err
				}
				return refreshErr
			}

			printRefresh(output, results)
			output.Dim("Refreshed in %s", FormatDuration(time.Since(start)))
			return refreshErr
		},
	}
}

// recordRefresh audits every broker result and notifies about failures.
func (a *App) recordRefresh(ctx context.Context, results []instruments.RefreshResult) {
	for _, res := range results {
		a.audited(a.Audit().LogRefresh(res.BrokerID, res.Mappings, res.Err))
		if res.Err != nil {
			a.Notify(ctx, notify.RefreshFailed(res.BrokerID, res.Err))
		}
	}
}

// healthMonitor checks the store and the instrument table age for watch.
func (a *App) healthMonitor(st store.DataStore) *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig(), a.Logger)
	m.RegisterComponent("store", resilience.DatabaseHealthCheck(st.Ping))
	m.RegisterComponent("instruments", resilience.FreshnessCheck(func() time.Time {
		return st.GetLastSync(store.SyncTypeInstruments)
	}, instrumentMaxAge+12*time.Hour, time.Now))
	return m
}

func printRefresh(output *Output, results []instruments.RefreshResult) {
	for _, res := range results {
		if res.Err != nil {
			output.Error("✗ %-10s %v", res.BrokerID, res.Err)
			continue
		}
		output.Success("✓ %-10s %s mappings", res.BrokerID, FormatVolume(int64(res.Mappings)))
	}
}

func newInstrumentsWatchCmd(app *App) *cobra.Command {
	var (
		schedule   string
		now        bool
		healthAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the instrument table on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if schedule == "" {
				schedule = app.Config.Instruments.RefreshSchedule
			}
			next, err := instruments.NextRun(schedule, time.Now().In(app.Config.Location()))
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := app.refresher(ctx)
			if err != nil {
				return err
			}
			if now {
				results, err := r.RefreshAll(ctx)
				app.recordRefresh(ctx, results)
				printRefresh(output, results)
				if err != nil {
					output.Warning("Initial refresh incomplete: %v", err)
				}
			}
			r.OnRefresh(func(results []instruments.RefreshResult, _ error) {
				app.recordRefresh(ctx, results)
			})
			if err := r.Start(ctx, schedule); err != nil {
				return err
			}
			defer r.Stop()

			if healthAddr != "" {
				st, err := app.Store()
				if err != nil {
					return err
				}
				monitor := app.healthMonitor(st)
				monitor.Start(ctx)
				defer monitor.Stop()

				srv := &http.Server{Addr: healthAddr, Handler: monitor.Mux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						app.Logger.Error().Err(err).Str("addr", healthAddr).Msg("Health server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				output.Info("Health endpoint on http://%s/health", healthAddr)
			}

			output.Info("Refreshing on %q, next run %s. Ctrl+C to stop.", schedule, FormatDateTime(next))
			<-ctx.Done()
			output.Dim("Stopping")
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (default: instruments.refresh_schedule)")
	cmd.Flags().BoolVar(&now, "now", false, "refresh once before waiting")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "serve /health and /live on this address (e.g. 127.0.0.1:8088)")
	return cmd
}
