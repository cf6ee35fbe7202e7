package domain

import (
	"context"
	"time"
)

// FillRecord is one executed fill as persisted by the trade journal.
type FillRecord struct {
	ID        string
	OrderID   string
	Asset     AssetID
	Side      Side
	Price     float64
	Size      float64
	FilledAt  time.Time
}

// RoundTrip is one completed buy-then-sell cycle on a single market.
type RoundTrip struct {
	ID          string
	Asset       AssetID
	Slug        string
	BuyPrice    float64
	SellPrice   float64
	Size        float64
	GrossPnLUSD float64
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// TradeJournal persists fills and completed round trips for offline
// analysis. The engine only ever writes: recovery state comes from venue
// reconciliation, never from the journal.
type TradeJournal interface {
	RecordFill(ctx context.Context, fill FillRecord) error
	RecordRoundTrip(ctx context.Context, rt RoundTrip) error
}

// TelemetrySink receives engine observations for external dashboards.
// Implementations must be write-only and best-effort; engine behavior
// never depends on a sink.
type TelemetrySink interface {
	PublishTopOfBook(ctx context.Context, asset AssetID, top TopOfBook) error
	PublishEvent(ctx context.Context, event string, payload any) error
}
