package domain

import "time"

// Fill is a trade execution reported on the user channel.
type Fill struct {
	OrderID   string
	Asset     AssetID
	Side      Side
	Price     float64
	Size      float64
	Timestamp time.Time
}

// OrderStatusEvent is an order lifecycle change reported on the user
// channel (e.g. an external cancellation).
type OrderStatusEvent struct {
	OrderID   string
	Asset     AssetID
	Status    OrderStatus
	Timestamp time.Time
}

// TickSizeChange notifies that the minimum price increment for an asset
// changed, so any live order may need re-evaluation.
type TickSizeChange struct {
	Asset    AssetID
	TickSize float64
}
