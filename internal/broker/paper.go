package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"strategy-backtester/internal/models"
)

// PaperPosition is the net simulated position in one symbol.
type PaperPosition struct {
	Symbol       string          `json:"symbol"`
	Exchange     models.Exchange `json:"exchange"`
	Quantity     int             `json:"quantity"` // negative when short
	AveragePrice float64         `json:"average_price"`
	RealizedPnL  float64         `json:"realized_pnl"`
}

// PaperPlacer fills every order immediately at its limit price and keeps an
// order book and net positions. It never talks to a broker.
type PaperPlacer struct {
	orders       []models.Order
	positions    map[string]*PaperPosition
	orderCounter int
	now          func() time.Time

	mu sync.Mutex
}

// NewPaperPlacer creates an empty paper placer.
func NewPaperPlacer() *PaperPlacer {
	return &PaperPlacer{
		positions: make(map[string]*PaperPosition),
		now:       time.Now,
	}
}

// PlaceOrder implements OrderPlacer.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", order.Quantity)
	}
	if order.Price <= 0 {
		return nil, fmt.Errorf("paper fills need a limit price, got %.2f", order.Price)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	filled := *order
	filled.ID = fmt.Sprintf("PAPER_%06d", p.orderCounter)
	filled.Status = "COMPLETE"
	filled.FilledQty = order.Quantity
	filled.AveragePrice = order.Price
	filled.PlacedAt = p.now()
	p.orders = append(p.orders, filled)

	p.updatePosition(&filled)

	return &OrderResult{
		OrderID: filled.ID,
		Status:  filled.Status,
		Message: "Paper order filled",
	}, nil
}

func (p *PaperPlacer) updatePosition(o *models.Order) {
	key := models.UniversalID(o.Exchange, o.Symbol)
	pos, ok := p.positions[key]
	if !ok {
		pos = &PaperPosition{Symbol: o.Symbol, Exchange: o.Exchange}
		p.positions[key] = pos
	}

	qty := o.Quantity
	if o.Side == models.OrderSideSell {
		qty = -qty
	}

	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (qty > 0):
		// Opening or adding
		total := float64(pos.Quantity)*pos.AveragePrice + float64(qty)*o.AveragePrice
		pos.Quantity += qty
		pos.AveragePrice = total / float64(pos.Quantity)
	default:
		// Reducing, closing or flipping
		closing := min(abs(qty), abs(pos.Quantity))
		sign := 1.0
		if pos.Quantity < 0 {
			sign = -1
		}
		pos.RealizedPnL += sign * float64(closing) * (o.AveragePrice - pos.AveragePrice)
		pos.Quantity += qty
		if pos.Quantity == 0 {
			pos.AveragePrice = 0
		} else if abs(qty) > closing {
			pos.AveragePrice = o.AveragePrice
		}
	}
}

// Orders returns the filled orders in placement order.
func (p *PaperPlacer) Orders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Positions returns every symbol traded, sorted by symbol.
func (p *PaperPlacer) Positions() []PaperPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RealizedPnL sums realized P&L across positions.
func (p *PaperPlacer) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total float64
	for _, pos := range p.positions {
		total += pos.RealizedPnL
	}
	return total
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
