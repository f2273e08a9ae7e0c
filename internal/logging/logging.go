// Package logging builds the zerolog logger shared by every command and
// holds the event helpers for backtest runs and broker calls.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"strategy-backtester/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig logs info and above to stderr and to a rotated file under
// the default config directory.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "strategy-backtester", "logs", "backtester.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

var levelLabels = map[string]string{
	"debug": color.CyanString("DBG"),
	"info":  color.GreenString("INF"),
	"warn":  color.YellowString("WRN"),
	"error": color.RedString("ERR"),
}

func consoleLevel(i interface{}) string {
	name, ok := i.(string)
	if !ok {
		return "???"
	}
	if label, ok := levelLabels[name]; ok {
		return label
	}
	return name
}

// NewLoggerWithConfig builds the process logger. The console sink writes to
// stderr so JSON on stdout stays parseable.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:         os.Stderr,
			TimeFormat:  time.RFC3339,
			FormatLevel: consoleLevel,
		})
	}
	if w := fileSink(cfg); w != nil {
		sinks = append(sinks, w)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	var out io.Writer = io.Discard
	if len(sinks) == 1 {
		out = sinks[0]
	} else if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}
	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

// fileSink returns a rotating writer, or nil when file logging is off or the
// log directory cannot be created.
func fileSink(cfg LogConfig) io.Writer {
	if !cfg.File || cfg.FilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel lowers the global level for --debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func WithStrategy(logger zerolog.Logger, strategyID string) zerolog.Logger {
	return logger.With().Str("strategy", strategyID).Logger()
}

func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogTrade records a closed simulated trade at debug level.
func LogTrade(logger zerolog.Logger, t models.Trade) {
	logger.Debug().
		Str("event", "trade").
		Str("leg", t.LegID).
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Int("quantity", t.Quantity).
		Float64("entry", t.EntryPrice).
		Float64("exit", t.ExitPrice).
		Float64("pnl", t.PnL).
		Str("reason", string(t.ExitReason)).
		Time("exit_at", t.ExitTimestamp).
		Msg("Trade closed")
}

// LogRun records a finished backtest.
func LogRun(logger zerolog.Logger, run *models.BacktestRun, elapsed time.Duration) {
	logger.Info().
		Str("event", "backtest").
		Str("run_id", run.ID).
		Str("strategy", run.StrategyID).
		Int("bars", run.BarsProcessed).
		Int("trades", len(run.Trades)).
		Float64("final_equity", run.FinalEquity()).
		Dur("elapsed", elapsed).
		Msg("Backtest completed")
}

// LogAPICall records a broker request with its latency.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	e := logger.Debug()
	msg := "API call completed"
	if err != nil {
		e = logger.Warn().Err(err)
		msg = "API call failed"
	}
	e.Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Msg(msg)
}
