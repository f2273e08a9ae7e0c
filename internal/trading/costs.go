package trading

import (
	"github.com/shopspring/decimal"

	"strategy-backtester/internal/models"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// CostModel charges a flat fee per order plus a percentage of traded notional.
// A round trip is two orders.
type CostModel struct {
	FixedPerOrder     float64 `json:"fixed_per_order"`
	PercentOfNotional float64 `json:"percent_of_notional"`
}

// Cost returns the transaction cost of one round trip, rounded to paise.
func (m CostModel) Cost(t models.Trade) float64 {
	fixed := decimal.NewFromFloat(m.FixedPerOrder).Mul(two)
	notional := decimal.NewFromFloat(t.EntryPrice).
		Add(decimal.NewFromFloat(t.ExitPrice)).
		Mul(decimal.NewFromInt(int64(t.Quantity)))
	variable := notional.Mul(decimal.NewFromFloat(m.PercentOfNotional)).Div(hundred)

	cost, _ := fixed.Add(variable).Round(2).Float64()
	return cost
}

// IsZero reports whether the model charges nothing.
func (m CostModel) IsZero() bool {
	return m.FixedPerOrder == 0 && m.PercentOfNotional == 0
}
