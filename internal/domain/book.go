package domain

import "time"

// MaxTopOfBookSpread is the widest bid-ask spread a book update may carry
// and still be considered a sane observation. Anything wider is dropped.
const MaxTopOfBookSpread = 0.20

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// TopOfBook is the cached best bid/ask for one asset. Fields are zero
// until the first valid observation arrives.
type TopOfBook struct {
	BestBid   float64
	BestAsk   float64
	TickSize  float64
	UpdatedAt time.Time
}

// Valid reports whether the quote satisfies the book invariant:
// 0 < bid < ask <= 1 and spread <= MaxTopOfBookSpread. Updates that fail
// this check must never reach the price cache.
func (t TopOfBook) Valid() bool {
	if t.BestBid <= 0 || t.BestAsk > 1 {
		return false
	}
	if t.BestBid >= t.BestAsk {
		return false
	}
	return t.BestAsk-t.BestBid <= MaxTopOfBookSpread
}

// Spread returns best_ask - best_bid.
func (t TopOfBook) Spread() float64 {
	return t.BestAsk - t.BestBid
}

// OrderbookSnapshot is a full depth snapshot for an asset, used by the
// selector's REST fallback for depth estimation.
type OrderbookSnapshot struct {
	Asset     AssetID
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// Top returns the top-of-book view of the snapshot. Bids and asks are
// expected best-first; an empty side yields a zero field.
func (s OrderbookSnapshot) Top() TopOfBook {
	top := TopOfBook{UpdatedAt: s.Timestamp}
	if len(s.Bids) > 0 {
		top.BestBid = s.Bids[0].Price
	}
	if len(s.Asks) > 0 {
		top.BestAsk = s.Asks[0].Price
	}
	return top
}
