package instruments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"strategy-backtester/internal/models"
)

// Loader fetches one broker's full instrument dump. Every returned instrument
// carries a mapping for BrokerID only.
type Loader interface {
	BrokerID() string
	Load(ctx context.Context) ([]models.Instrument, error)
}

// scripRecord is one row of a JSON scrip master (AngelOne SmartAPI layout).
type scripRecord struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	Exchange       string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// RESTLoader loads a broker's scrip master published as a JSON array over HTTP.
type RESTLoader struct {
	brokerID string
	url      string
	client   *resty.Client
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRESTLoader creates a loader for the scrip master at url.
func NewRESTLoader(brokerID, url string, logger zerolog.Logger) *RESTLoader {
	client := resty.New().
		SetTimeout(60*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2*time.Second).
		SetHeader("Accept", "application/json")
	return &RESTLoader{
		brokerID: brokerID,
		url:      url,
		client:   client,
		logger:   logger.With().Str("component", "scrip_loader").Str("broker", brokerID).Logger(),
		now:      time.Now,
	}
}

// BrokerID implements Loader.
func (l *RESTLoader) BrokerID() string { return l.brokerID }

// Load implements Loader.
func (l *RESTLoader) Load(ctx context.Context) ([]models.Instrument, error) {
	var records []scripRecord
	resp, err := l.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&records).
		Get(l.url)
	if err != nil {
		return nil, fmt.Errorf("fetching scrip master: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching scrip master: HTTP %d", resp.StatusCode())
	}

	updated := l.now()
	out := make([]models.Instrument, 0, len(records))
	skipped := 0
	for _, rec := range records {
		inst, ok := rec.toInstrument(l.brokerID, updated)
		if !ok {
			skipped++
			continue
		}
		out = append(out, inst)
	}
	l.logger.Info().Int("instruments", len(out)).Int("skipped", skipped).Msg("Scrip master loaded")
	return out, nil
}

func (rec scripRecord) toInstrument(brokerID string, updated time.Time) (models.Instrument, bool) {
	if rec.Symbol == "" || rec.Exchange == "" {
		return models.Instrument{}, false
	}
	exchange := models.Exchange(strings.ToUpper(rec.Exchange))
	symbol := strings.TrimSuffix(strings.ToUpper(rec.Symbol), "-EQ")

	lot, _ := strconv.Atoi(strings.TrimSpace(rec.LotSize))
	tick, _ := strconv.ParseFloat(strings.TrimSpace(rec.TickSize), 64)
	strike, _ := strconv.ParseFloat(strings.TrimSpace(rec.Strike), 64)

	// tick and strike are published in paise
	tick /= 100
	if strike > 0 {
		strike /= 100
	} else {
		strike = 0
	}

	inst := models.Instrument{
		ID:             models.UniversalID(exchange, symbol),
		Symbol:         symbol,
		Name:           rec.Name,
		Exchange:       exchange,
		Underlying:     rec.Name,
		InstrumentType: scripInstrumentType(rec.InstrumentType, symbol),
		Strike:         strike,
		Brokers: map[string]models.BrokerMapping{
			brokerID: {
				Token:       strings.TrimSpace(rec.Token),
				LotSize:     lot,
				TickSize:    tick,
				Tradable:    rec.InstrumentType != "AMXIDX",
				LastUpdated: updated,
			},
		},
	}
	if rec.Expiry != "" {
		if exp, err := parseScripExpiry(rec.Expiry); err == nil {
			inst.Expiry = exp
		}
	}
	return inst, true
}

func scripInstrumentType(raw, symbol string) string {
	switch {
	case strings.HasPrefix(raw, "OPT"):
		if strings.HasSuffix(symbol, "PE") {
			return models.InstrumentPut
		}
		return models.InstrumentCall
	case strings.HasPrefix(raw, "FUT"):
		return models.InstrumentFuture
	case raw == "AMXIDX":
		return models.InstrumentIndex
	default:
		return models.InstrumentEquity
	}
}

// parseScripExpiry parses "26DEC2024".
func parseScripExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != 9 {
		return time.Time{}, fmt.Errorf("bad expiry %q", s)
	}
	norm := s[:2] + s[2:3] + strings.ToLower(s[3:5]) + s[5:]
	return time.Parse("02Jan2006", norm)
}
