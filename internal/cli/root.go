package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"strategy-backtester/internal/config"
	"strategy-backtester/internal/logging"
	"strategy-backtester/internal/security"
	"strategy-backtester/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "backtester",
		Short: "Strategy backtester for Indian markets",
		Long: `Backtester replays time-based and indicator-based trading strategies
against historical bars and reports trades, an equity curve and metrics.

Bars come from the local store (imported CSV or fetched from Kite) or directly
from Kite Connect. Instruments are resolved through a refreshable table keyed
by EXCHANGE:SYMBOL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/strategy-backtester)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addStrategyCommands(rootCmd, app)
	addBacktestCommands(rootCmd, app)
	addInstrumentCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Strategy Backtester v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				redacted := *app.Config
				redacted.Credentials = config.Credentials{}
				return output.JSON(redacted)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Backtest")
	output.Printf("  Initial Capital:  %s\n", utils.FormatIndianCurrency(cfg.Backtest.InitialCapital))
	output.Printf("  Workers:          %d\n", cfg.Backtest.Workers)
	output.Printf("  Periods/Year:     %.0f\n", cfg.Backtest.PeriodsPerYear)
	output.Printf("  Timezone:         %s\n", cfg.Backtest.Timezone)
	output.Printf("  Default Interval: %s\n", cfg.Backtest.DefaultInterval)
	output.Printf("  Holidays:         %d\n", len(cfg.Backtest.Holidays))
	output.Println()

	output.Bold("Costs")
	output.Printf("  Fixed per Order:  %s\n", utils.FormatIndianCurrency(cfg.Costs.FixedPerOrder))
	output.Printf("  %% of Notional:    %.4f%%\n", cfg.Costs.PercentOfNotional)
	output.Println()

	output.Bold("Data")
	output.Printf("  Provider:         %s\n", cfg.Data.Provider)
	output.Printf("  Max Retries:      %d\n", cfg.Data.MaxRetries)
	output.Printf("  Backoff:          %s .. %s\n", cfg.Data.InitialBackoff, cfg.Data.MaxBackoff)
	output.Printf("  Rate Limit:       %.1f/s (burst %d)\n", cfg.Data.RateLimit, cfg.Data.Burst)
	output.Printf("  Cache TTL:        %s\n", cfg.Data.CacheTTL)
	output.Println()

	output.Bold("Instruments")
	output.Printf("  Brokers:          %v\n", cfg.Instruments.Brokers)
	output.Printf("  Refresh:          %s\n", cfg.Instruments.RefreshSchedule)
	for broker, url := range cfg.Instruments.ScripMasters {
		output.Printf("  Scrip Master:     %s → %s\n", broker, url)
	}
	output.Println()

	output.Bold("Store")
	output.Printf("  Path:             %s\n", cfg.Store.Path)
	output.Printf("  Kite Credentials: %s\n", yesNo(cfg.Credentials.HasKite()))
	if key := cfg.Credentials.Zerodha.APIKey; key != "" {
		output.Printf("  Kite API Key:     %s\n", security.MaskCredential(key))
	}
	output.Println()

	output.Bold("Audit & Notify")
	if cfg.Audit.Enabled {
		output.Printf("  Audit Log:        %s\n", cfg.Audit.Path)
	} else {
		output.Printf("  Audit Log:        disabled\n")
	}
	if cfg.Notify.WebhookURL != "" {
		output.Printf("  Webhook:          %s %v\n", security.MaskSensitive(cfg.Notify.WebhookURL), cfg.Notify.Events)
	} else {
		output.Printf("  Webhook:          none\n")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// exitError marks a command failure that was already reported to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode maps an error returned by Execute to a process exit code and
// reports whether the command already printed it.
func ExitCode(err error) (code int, reported bool) {
	var e *exitError
	if errors.As(err, &e) {
		return e.code, true
	}
	return 1, false
}
