package security

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-backtester/internal/broker"
	"strategy-backtester/internal/models"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func decode(t *testing.T, buf *bufferCloser) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var e AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	return events
}

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "abcd****mnop", MaskCredential("abcdefghmnop"))
}

func TestMaskSensitive(t *testing.T) {
	in := "invalid checksum: api_key=kitekey123456 access_token=abcdefghijklmnop"
	out := MaskSensitive(in)

	assert.NotContains(t, out, "kitekey123456")
	assert.NotContains(t, out, "abcdefghijklmnop")
	assert.Contains(t, out, "api_key=kite*****3456")
	assert.Equal(t, "no secrets here", MaskSensitive("no secrets here"))
}

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	buf := &bufferCloser{}
	al := newAuditLogger(buf)
	al.now = func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, al.LogLogin("kitekey123456", nil))
	require.NoError(t, al.LogLogin("kitekey123456", errors.New("token expired")))
	require.NoError(t, al.LogRouted("zerodha", []broker.RoutedIntent{
		{
			Intent: models.OrderIntent{StrategyID: "straddle", LegID: "leg-1", InstrumentID: "NFO:NIFTY24DEC22000CE",
				Kind: models.IntentEntry, Side: models.OrderSideSell, Quantity: 50, Price: 101.5},
			Result: &broker.OrderResult{OrderID: "PAPER-1", Status: "COMPLETE"},
		},
		{
			Intent: models.OrderIntent{StrategyID: "straddle", LegID: "leg-2", InstrumentID: "NFO:NIFTY24DEC22000PE"},
			Err:    errors.New("no broker token"),
		},
	}))
	require.NoError(t, al.LogRunDeleted("run-1"))
	require.NoError(t, al.Close())
	assert.True(t, buf.closed)

	events := decode(t, buf)
	require.Len(t, events, 5)

	assert.Equal(t, AuditLogin, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.Equal(t, "kite*****3456", events[0].Details["api_key"])
	assert.Equal(t, al.SessionID(), events[0].SessionID)
	assert.True(t, events[0].Timestamp.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)))

	assert.Equal(t, AuditAuthFailed, events[1].EventType)
	assert.False(t, events[1].Success)

	assert.Equal(t, AuditOrderRouted, events[2].EventType)
	assert.Equal(t, "PAPER-1", events[2].OrderID)
	assert.Equal(t, "zerodha", events[2].Details["broker"])
	assert.EqualValues(t, 50, events[2].Details["quantity"])

	assert.Equal(t, AuditOrderRejected, events[3].EventType)
	assert.Equal(t, "no broker token", events[3].ErrorMsg)

	assert.Equal(t, AuditRunDeleted, events[4].EventType)
	assert.Equal(t, "run-1", events[4].RunID)
}

func TestNilAuditLoggerDiscards(t *testing.T) {
	var al *AuditLogger
	assert.NoError(t, al.LogLogout())
	assert.NoError(t, al.Close())
	assert.Empty(t, al.SessionID())
}

func TestNewAuditLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	al, err := NewAuditLogger(DefaultAuditConfig(path))
	require.NoError(t, err)
	require.NoError(t, al.LogRefresh("zerodha", 1200, nil))
	require.NoError(t, al.Close())
	assert.FileExists(t, path)
}
