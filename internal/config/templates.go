package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Strategy Backtester Configuration

[backtest]
# Starting capital in INR
initial_capital = 100000.0
# Parallel backtests; 0 uses every core
workers = 0
# Trading periods per year for Sharpe annualisation
periods_per_year = 252
# Exchange timezone for sessions and daily resampling
timezone = "Asia/Kolkata"
# Bar interval when a strategy does not set one
default_interval = "minute"
# Exchange holidays (YYYY-MM-DD); no entries are taken on these dates
holidays = []

[costs]
# Brokerage per executed order in INR
fixed_per_order = 20.0
# Statutory charges as percent of traded notional
percent_of_notional = 0.03

[data]
# Historical bar source: "store" (local SQLite) or "kite"
provider = "store"
max_retries = 3
initial_backoff = "500ms"
max_backoff = "10s"
# Requests per second against the provider (Kite allows 3)
rate_limit = 3.0
burst = 1
cache_ttl = "30m"
circuit_failures = 5
circuit_timeout = "30s"

[instruments]
brokers = ["zerodha"]
# Cron schedule (exchange timezone) for refreshing broker tokens
refresh_schedule = "30 8 * * 1-5"

[instruments.scrip_masters]
# angelone = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

[store]
path = "backtester.db"

[audit]
# Append-only record of logins, routed orders and saved runs
enabled = true
path = "audit.log"

[notify]
# POST a JSON event here; empty disables notifications
webhook_url = ""
timeout = "10s"
events = ["batch_complete", "refresh_failed"]

[logging]
level = "info"
console = true
file = true
`

const credentialsTemplate = `# Strategy Backtester Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
