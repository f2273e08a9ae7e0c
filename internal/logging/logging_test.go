package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-backtester/internal/models"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestFileSinkCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "bt.log")
	w := fileSink(LogConfig{File: true, FilePath: path, MaxSize: 1})
	require.NotNil(t, w)

	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)

	assert.Nil(t, fileSink(LogConfig{File: false, FilePath: path}))
	assert.Nil(t, fileSink(LogConfig{File: true}))
}

func TestLogRunFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	logger := WithComponent(zerolog.New(&buf), "simulator")
	run := &models.BacktestRun{ID: "run-1", StrategyID: "nifty-straddle", BarsProcessed: 75}
	LogRun(logger, run, 250*time.Millisecond)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "simulator", got["component"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "nifty-straddle", got["strategy"])
	assert.Equal(t, float64(75), got["bars"])
	assert.Equal(t, "Backtest completed", got["message"])
}

func TestLogAPICallFailureIsWarning(t *testing.T) {
	var buf bytes.Buffer
	LogAPICall(zerolog.New(&buf), "GET", "/instruments", time.Second, assert.AnError)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "warn", got["level"])
	assert.Equal(t, "API call failed", got["message"])
	assert.Equal(t, "/instruments", got["endpoint"])
}
