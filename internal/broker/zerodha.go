package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "strategy-backtester/internal/errors"
	"strategy-backtester/internal/models"
	"strategy-backtester/pkg/utils"
)

// ZerodhaBrokerID is the broker id under which Kite mappings are stored.
const ZerodhaBrokerID = "zerodha"

// ZerodhaBroker talks to Kite Connect. It loads the instrument dump, serves
// historical bars and places orders.
type ZerodhaBroker struct {
	client      *kiteconnect.Client
	apiSecret   string
	accessToken string
	tokenPath   string
	lookup      InstrumentLookup
	logger      zerolog.Logger
	now         func() time.Time
	mu          sync.RWMutex

	// Kite calls, replaceable in tests
	fetchInstruments func() (kiteconnect.Instruments, error)
	fetchHistorical  func(token int, interval string, from, to time.Time) ([]kiteconnect.HistoricalData, error)
	placeOrder       func(params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey      string
	APISecret   string
	AccessToken string
	TokenPath   string
}

// NewZerodhaBroker creates a new Zerodha broker. Without an access token it
// falls back to a session saved by CompleteLogin. lookup supplies instrument
// tokens for historical data and may be nil when only Load is used.
func NewZerodhaBroker(cfg ZerodhaConfig, lookup InstrumentLookup, logger zerolog.Logger) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "strategy-backtester", "kite_session.json")
	}

	zb := &ZerodhaBroker{
		client:    client,
		apiSecret: cfg.APISecret,
		tokenPath: tokenPath,
		lookup:    lookup,
		logger:    logger.With().Str("component", "kite").Logger(),
		now:       time.Now,
	}
	zb.fetchInstruments = client.GetInstruments
	zb.fetchHistorical = func(token int, interval string, from, to time.Time) ([]kiteconnect.HistoricalData, error) {
		return client.GetHistoricalData(token, interval, from, to, false, false)
	}
	zb.placeOrder = func(params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
		return client.PlaceOrder(kiteconnect.VarietyRegular, params)
	}

	if cfg.AccessToken != "" {
		zb.setAccessToken(cfg.AccessToken)
	} else {
		_ = zb.loadSession()
	}
	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (z *ZerodhaBroker) setAccessToken(token string) {
	z.mu.Lock()
	z.accessToken = token
	z.client.SetAccessToken(token)
	z.mu.Unlock()
}

// IsAuthenticated reports whether an access token is set.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.accessToken != ""
}

// LoginURL is where the user obtains a request token.
func (z *ZerodhaBroker) LoginURL() string {
	return z.client.GetLoginURL()
}

// CompleteLogin exchanges a request token for an access token and saves it.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("AUTH", "failed to generate session", err)
	}
	z.setAccessToken(session.AccessToken)

	if err := z.saveSession(session.AccessToken); err != nil {
		z.logger.Warn().Err(err).Msg("Failed to persist session")
	}
	return nil
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM the next day
	if z.now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}
	z.setAccessToken(session.AccessToken)
	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0700); err != nil {
		return err
	}

	now := z.now().In(utils.IndiaLocation)
	session := sessionData{
		AccessToken: accessToken,
		ExpiresAt:   time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(z.tokenPath, data, 0600)
}

// Logout forgets the access token and removes the saved session.
func (z *ZerodhaBroker) Logout() error {
	z.mu.Lock()
	z.accessToken = ""
	z.mu.Unlock()
	if err := os.Remove(z.tokenPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// BrokerID implements instruments.Loader.
func (z *ZerodhaBroker) BrokerID() string { return ZerodhaBrokerID }

// Load implements instruments.Loader. Indices are loaded for their data
// tokens but marked not tradable.
func (z *ZerodhaBroker) Load(ctx context.Context) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "not authenticated", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	dump, err := z.fetchInstruments()
	if err != nil {
		return nil, apperrors.NewBrokerError("INSTRUMENTS", "failed to get instruments", fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err))
	}

	updated := z.now()
	out := make([]models.Instrument, 0, len(dump))
	for _, inst := range dump {
		if inst.Tradingsymbol == "" || inst.Exchange == "" {
			continue
		}
		out = append(out, kiteInstrument(inst, updated))
	}
	z.logger.Info().
		Int("instruments", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Kite instruments loaded")
	return out, nil
}

func kiteInstrument(inst kiteconnect.Instrument, updated time.Time) models.Instrument {
	exchange := models.Exchange(inst.Exchange)
	index := inst.Segment == "INDICES"

	instType := inst.InstrumentType
	if index {
		instType = models.InstrumentIndex
	}

	out := models.Instrument{
		ID:             models.UniversalID(exchange, inst.Tradingsymbol),
		Symbol:         inst.Tradingsymbol,
		Name:           inst.Name,
		Exchange:       exchange,
		InstrumentType: instType,
		Strike:         inst.StrikePrice,
		Brokers: map[string]models.BrokerMapping{
			ZerodhaBrokerID: {
				Token:       strconv.Itoa(inst.InstrumentToken),
				LotSize:     int(inst.LotSize),
				TickSize:    inst.TickSize,
				Tradable:    !index,
				LastUpdated: updated,
			},
		},
	}
	if !inst.Expiry.Time.IsZero() {
		out.Expiry = inst.Expiry.Time
	}
	// F&O names carry the underlying
	switch instType {
	case models.InstrumentCall, models.InstrumentPut, models.InstrumentFuture:
		out.Underlying = inst.Name
	}
	return out
}

// historicalSpan is the longest range Kite serves per request, by interval.
var historicalSpan = map[string]time.Duration{
	"minute":   60 * 24 * time.Hour,
	"3minute":  100 * 24 * time.Hour,
	"5minute":  100 * 24 * time.Hour,
	"10minute": 100 * 24 * time.Hour,
	"15minute": 200 * 24 * time.Hour,
	"30minute": 200 * 24 * time.Hour,
	"60minute": 400 * 24 * time.Hour,
	"day":      2000 * 24 * time.Hour,
}

// GetBars implements marketdata.Provider. Ranges longer than Kite serves at
// once are fetched in consecutive chunks.
func (z *ZerodhaBroker) GetBars(ctx context.Context, instrumentID string, from, to time.Time, interval string) ([]models.Candle, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "not authenticated", nil)
	}
	token, err := z.instrumentToken(instrumentID)
	if err != nil {
		return nil, err
	}

	kiteInterval := MapInterval(interval)
	span := historicalSpan[kiteInterval]

	var candles []models.Candle
	for chunkFrom := from; !chunkFrom.After(to); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunkTo := chunkFrom.Add(span)
		if chunkTo.After(to) {
			chunkTo = to
		}

		start := time.Now()
		data, err := z.fetchHistorical(token, kiteInterval, chunkFrom, chunkTo)
		if err != nil {
			return nil, apperrors.NewBrokerError("HISTORICAL", "failed to get historical data", fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err))
		}
		z.logger.Debug().
			Str("instrument", instrumentID).
			Time("from", chunkFrom).
			Time("to", chunkTo).
			Int("bars", len(data)).
			Dur("elapsed", time.Since(start)).
			Msg("Kite historical chunk")

		for _, d := range data {
			// chunk boundaries are inclusive on both ends
			if n := len(candles); n > 0 && !d.Date.Time.After(candles[n-1].Timestamp) {
				continue
			}
			candles = append(candles, models.Candle{
				Timestamp: d.Date.Time,
				Open:      d.Open,
				High:      d.High,
				Low:       d.Low,
				Close:     d.Close,
				Volume:    int64(d.Volume),
			})
		}

		if !chunkTo.Before(to) {
			break
		}
		chunkFrom = chunkTo
	}
	return candles, nil
}

// instrumentToken finds the Kite token of an instrument. Data access does
// not require the instrument to be tradable.
func (z *ZerodhaBroker) instrumentToken(instrumentID string) (int, error) {
	if z.lookup == nil {
		return 0, apperrors.NewNotFoundError(instrumentID, ZerodhaBrokerID, "no instrument table loaded")
	}
	inst, ok := z.lookup.Get(instrumentID)
	if !ok {
		return 0, apperrors.NewNotFoundError(instrumentID, ZerodhaBrokerID, "unknown instrument")
	}
	m, ok := inst.Brokers[ZerodhaBrokerID]
	if !ok || m.Token == "" {
		return 0, apperrors.NewNotFoundError(instrumentID, ZerodhaBrokerID, "no kite token")
	}
	token, err := strconv.Atoi(m.Token)
	if err != nil {
		return 0, apperrors.NewNotFoundError(instrumentID, ZerodhaBrokerID, fmt.Sprintf("bad kite token %q", m.Token))
	}
	return token, nil
}

// MapInterval maps interval aliases to Kite interval names. Kite names pass
// through unchanged.
func MapInterval(interval string) string {
	switch interval {
	case "1m", "1min":
		return "minute"
	case "3m", "3min":
		return "3minute"
	case "5m", "5min":
		return "5minute"
	case "10m", "10min":
		return "10minute"
	case "15m", "15min":
		return "15minute"
	case "30m", "30min":
		return "30minute"
	case "1h", "1hour", "60min":
		return "60minute"
	case "", "1d", "1day", "daily":
		return "day"
	}
	if _, ok := historicalSpan[interval]; ok {
		return interval
	}
	return "day"
}

// PlaceOrder implements OrderPlacer.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.NewBrokerError("AUTH", "not authenticated", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price,
		Validity:        order.Validity,
		Tag:             order.Tag,
	}
	if params.Validity == "" {
		params.Validity = "DAY"
	}

	resp, err := z.placeOrder(params)
	if err != nil {
		return nil, apperrors.NewBrokerError("ORDER", "failed to place order", err)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}
