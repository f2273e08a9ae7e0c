// Package broker provides the broker collaborator surface: historical data
// and instrument dumps from Kite Connect, and routing of order intents.
package broker

import (
	"context"

	"strategy-backtester/internal/models"
)

// OrderPlacer places broker orders. Implementations must be safe for
// concurrent use.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
}

// InstrumentResolver resolves a universal instrument id to one broker's
// tradable reference.
type InstrumentResolver interface {
	Resolve(universalID, brokerID string) (models.BrokerInstrumentRef, error)
}

// InstrumentLookup returns an instrument with all its broker mappings.
type InstrumentLookup interface {
	Get(universalID string) (models.Instrument, bool)
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
