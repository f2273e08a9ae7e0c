package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 252.0, cfg.Backtest.PeriodsPerYear)
	assert.Equal(t, "Asia/Kolkata", cfg.Backtest.Timezone)
	assert.Equal(t, 500*time.Millisecond, cfg.Data.InitialBackoff)
	assert.Equal(t, 30*time.Minute, cfg.Data.CacheTTL)
	assert.Equal(t, []string{"zerodha"}, cfg.Instruments.Brokers)
	assert.Equal(t, filepath.Join(dir, "backtester.db"), cfg.Store.Path)
	assert.Equal(t, 4, cfg.RetryConfig().MaxAttempts)
}

func TestLoadReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[backtest]
initial_capital = 250000
default_interval = "5minute"
holidays = ["2024-01-26", "2024-03-08"]

[costs]
fixed_per_order = 0
percent_of_notional = 0.05
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 250000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, "5minute", cfg.Backtest.DefaultInterval)
	assert.Equal(t, 0.05, cfg.Costs.PercentOfNotional)
	assert.True(t, cfg.HolidaySet()["2024-03-08"])
	// untouched sections keep their defaults
	assert.Equal(t, "store", cfg.Data.Provider)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	content := `
[backtest]
initial_capital = -5
default_interval = "weekly"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InitialCapital")
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BACKTEST_STORE_PATH", "/tmp/override.db")
	t.Setenv("KITE_API_KEY", "key")
	t.Setenv("KITE_ACCESS_TOKEN", "token")
	t.Setenv("BACKTEST_DATA_PROVIDER", "KITE")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, "kite", cfg.Data.Provider)
	assert.True(t, cfg.Credentials.HasKite())
}

func TestKiteProviderNeedsCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BACKTEST_DATA_PROVIDER", "kite")
	t.Setenv("KITE_API_KEY", "")
	t.Setenv("KITE_ACCESS_TOKEN", "")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestAuditAndNotifyDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BACKTEST_WEBHOOK_URL", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, filepath.Join(dir, "audit.log"), cfg.Audit.Path)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.False(t, cfg.NotifyOn("batch_complete"), "no webhook configured")

	cfg.Notify.WebhookURL = "https://hooks.example.com/backtests"
	assert.True(t, cfg.NotifyOn("batch_complete"))
	assert.False(t, cfg.NotifyOn("order_filled"))
}

func TestNotifyRejectsBadWebhook(t *testing.T) {
	dir := t.TempDir()
	content := `
[notify]
webhook_url = "not a url"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WebhookURL")
}
