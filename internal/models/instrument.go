package models

import (
	"fmt"
	"strings"
	"time"
)

// Instrument types used by strategy legs and broker dumps.
const (
	InstrumentEquity = "EQ"
	InstrumentFuture = "FUT"
	InstrumentCall   = "CE"
	InstrumentPut    = "PE"
	InstrumentIndex  = "INDEX"
)

// BrokerMapping is one broker's view of an instrument.
// It is usable only when Tradable is set and Token is non-empty.
type BrokerMapping struct {
	Token       string    `json:"token"`
	LotSize     int       `json:"lot_size"`
	TickSize    float64   `json:"tick_size"`
	Tradable    bool      `json:"tradable"`
	LastUpdated time.Time `json:"last_updated"`
}

// Usable reports whether orders may be routed with this mapping.
func (m BrokerMapping) Usable() bool {
	return m.Tradable && m.Token != ""
}

// Instrument represents a tradeable instrument keyed by its universal id.
type Instrument struct {
	ID             string                   `json:"id"`
	Symbol         string                   `json:"symbol"`
	Name           string                   `json:"name,omitempty"`
	Exchange       Exchange                 `json:"exchange"`
	Underlying     string                   `json:"underlying,omitempty"`
	InstrumentType string                   `json:"instrument_type,omitempty"`
	Expiry         time.Time                `json:"expiry,omitempty"`
	Strike         float64                  `json:"strike,omitempty"`
	Brokers        map[string]BrokerMapping `json:"brokers"`
}

// Clone returns a deep copy so table snapshots never share broker maps.
func (i Instrument) Clone() Instrument {
	out := i
	out.Brokers = make(map[string]BrokerMapping, len(i.Brokers))
	for k, v := range i.Brokers {
		out.Brokers[k] = v
	}
	return out
}

// BrokerInstrumentRef is the broker-specific tradable reference of an instrument.
type BrokerInstrumentRef struct {
	InstrumentID string  `json:"instrument_id"`
	BrokerID     string  `json:"broker_id"`
	Token        string  `json:"token"`
	LotSize      int     `json:"lot_size"`
	TickSize     float64 `json:"tick_size"`
}

// UniversalID builds the EXCHANGE:SYMBOL identifier.
func UniversalID(exchange Exchange, symbol string) string {
	return strings.ToUpper(string(exchange)) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}

// SplitUniversalID splits EXCHANGE:SYMBOL into its parts.
func SplitUniversalID(id string) (Exchange, string, error) {
	ex, sym, ok := strings.Cut(id, ":")
	if !ok || ex == "" || sym == "" {
		return "", "", fmt.Errorf("invalid instrument id %q (want EXCHANGE:SYMBOL)", id)
	}
	return Exchange(strings.ToUpper(ex)), strings.ToUpper(sym), nil
}
