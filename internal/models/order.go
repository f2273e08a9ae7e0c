package models

import "time"

// OrderType represents the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the broker product (margin) type.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O carry forward
	ProductCNC  ProductType = "CNC"  // Delivery
)

// Order is a broker order built from an OrderIntent.
type Order struct {
	ID           string      `json:"id,omitempty"`
	Symbol       string      `json:"symbol"`
	Exchange     Exchange    `json:"exchange"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	Product      ProductType `json:"product"`
	Quantity     int         `json:"quantity"`
	Price        float64     `json:"price,omitempty"`
	Validity     string      `json:"validity"` // DAY, IOC
	Tag          string      `json:"tag,omitempty"`
	Status       string      `json:"status,omitempty"`
	FilledQty    int         `json:"filled_qty,omitempty"`
	AveragePrice float64     `json:"average_price,omitempty"`
	PlacedAt     time.Time   `json:"placed_at,omitempty"`
}
