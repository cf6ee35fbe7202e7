package domain

import "time"

// Side indicates whether an order buys or sells the outcome token.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus tracks the venue-side order lifecycle.
type OrderStatus string

const (
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusMatched   OrderStatus = "MATCHED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ActiveOrder is the engine's record of the single live order a market
// may carry. It is created on successful placement and destroyed on
// fill, cancel, or an external cancellation event.
type ActiveOrder struct {
	OrderID  string
	Asset    AssetID
	Side     Side
	Price    float64
	Size     float64
	PlacedAt time.Time
}

// Notional returns price * size in USDC.
func (o ActiveOrder) Notional() float64 {
	return o.Price * o.Size
}

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Message string
}

// OpenOrder is a venue-side open order as returned by the open-orders
// query, used by reconciliation.
type OpenOrder struct {
	OrderID string
	Asset   AssetID
	Side    Side
	Price   float64
	Size    float64
}
