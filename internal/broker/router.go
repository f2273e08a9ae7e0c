package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"strategy-backtester/internal/models"
)

// kiteTagLimit is the longest order tag Kite accepts.
const kiteTagLimit = 20

// RoutedIntent records what happened to one intent.
type RoutedIntent struct {
	Intent models.OrderIntent `json:"intent"`
	Order  *models.Order      `json:"order,omitempty"`
	Result *OrderResult       `json:"result,omitempty"`
	Err    error              `json:"-"`
}

// IntentRouter hands order intents to a broker. It resolves the broker token
// for each intent and places it unchanged apart from tick rounding. It
// satisfies risk.IntentSink.
type IntentRouter struct {
	ctx      context.Context
	brokerID string
	resolver InstrumentResolver
	placer   OrderPlacer
	product  models.ProductType
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	routed []RoutedIntent
}

// RouterOption configures an IntentRouter.
type RouterOption func(*IntentRouter)

// WithProduct sets the product type of routed orders (MIS by default).
func WithProduct(p models.ProductType) RouterOption {
	return func(r *IntentRouter) { r.product = p }
}

// WithTimeout bounds each placement call.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *IntentRouter) { r.timeout = d }
}

// NewIntentRouter creates a router. ctx scopes every placement made through
// Submit.
func NewIntentRouter(ctx context.Context, brokerID string, resolver InstrumentResolver, placer OrderPlacer, logger zerolog.Logger, opts ...RouterOption) *IntentRouter {
	r := &IntentRouter{
		ctx:      ctx,
		brokerID: brokerID,
		resolver: resolver,
		placer:   placer,
		product:  models.ProductMIS,
		timeout:  10 * time.Second,
		logger:   logger.With().Str("component", "intent_router").Str("broker", brokerID).Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit routes intent and records the outcome. Failures are logged and kept
// in Routed; they never interrupt the caller.
func (r *IntentRouter) Submit(intent models.OrderIntent) {
	_, _ = r.Route(r.ctx, intent)
}

// Route resolves and places one intent.
func (r *IntentRouter) Route(ctx context.Context, intent models.OrderIntent) (*OrderResult, error) {
	rec := RoutedIntent{Intent: intent}
	defer func() {
		r.mu.Lock()
		r.routed = append(r.routed, rec)
		r.mu.Unlock()
	}()

	ref, err := r.resolver.Resolve(intent.InstrumentID, r.brokerID)
	if err != nil {
		rec.Err = err
		r.logger.Warn().Err(err).Str("leg", intent.LegID).Msg("Intent not routable")
		return nil, err
	}
	order, err := OrderFromIntent(intent, ref, r.product)
	if err != nil {
		rec.Err = err
		return nil, err
	}
	rec.Order = order

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.placer.PlaceOrder(ctx, order)
	if err != nil {
		rec.Err = err
		r.logger.Error().Err(err).
			Str("leg", intent.LegID).
			Str("symbol", order.Symbol).
			Msg("Order placement failed")
		return nil, err
	}
	rec.Result = res
	r.logger.Info().
		Str("leg", intent.LegID).
		Str("kind", string(intent.Kind)).
		Str("side", string(order.Side)).
		Str("symbol", order.Symbol).
		Int("qty", order.Quantity).
		Float64("price", order.Price).
		Str("order_id", res.OrderID).
		Msg("Order routed")
	return res, nil
}

// Routed returns every intent seen so far, in submission order.
func (r *IntentRouter) Routed() []RoutedIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoutedIntent, len(r.routed))
	copy(out, r.routed)
	return out
}

// Failures counts intents that were not placed.
func (r *IntentRouter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.routed {
		if rec.Err != nil {
			n++
		}
	}
	return n
}

// OrderFromIntent builds the broker order for intent. The order is a DAY
// limit order at the intent price rounded to the instrument tick.
func OrderFromIntent(intent models.OrderIntent, ref models.BrokerInstrumentRef, product models.ProductType) (*models.Order, error) {
	if intent.Quantity <= 0 {
		return nil, fmt.Errorf("intent for leg %s has quantity %d", intent.LegID, intent.Quantity)
	}
	if intent.Side != models.OrderSideBuy && intent.Side != models.OrderSideSell {
		return nil, fmt.Errorf("intent for leg %s has side %q", intent.LegID, intent.Side)
	}
	exchange, symbol, err := models.SplitUniversalID(ref.InstrumentID)
	if err != nil {
		return nil, err
	}

	tag := intent.StrategyID
	if len(tag) > kiteTagLimit {
		tag = tag[:kiteTagLimit]
	}
	return &models.Order{
		Symbol:   symbol,
		Exchange: exchange,
		Side:     intent.Side,
		Type:     models.OrderTypeLimit,
		Product:  product,
		Quantity: intent.Quantity,
		Price:    RoundToTick(intent.Price, ref.TickSize),
		Validity: "DAY",
		Tag:      tag,
	}, nil
}

// RoundToTick rounds price to the nearest multiple of tick. A non-positive
// tick leaves price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	v, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Round(4).Float64()
	return v
}
