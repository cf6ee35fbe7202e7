package maker

import (
	"time"

	"github.com/marketloop/spreadbot/internal/domain"
)

// State is one step of a market's buy-then-sell round trip.
type State string

const (
	// StateIdle waits for sane prices and risk headroom.
	StateIdle State = "IDLE"
	// StatePlaceBuy tries to rest a buy at the best bid.
	StatePlaceBuy State = "PLACE_BUY"
	// StateWaitBuyFill keeps the resting buy fresh until it fills.
	StateWaitBuyFill State = "WAIT_BUY_FILL"
	// StatePlaceSell tries to rest the exit sell at the best ask.
	StatePlaceSell State = "PLACE_SELL"
	// StateAskChase follows the best ask within the chase budget.
	StateAskChase State = "ASK_CHASE"
	// StateWaitSellFill holds the sell after the chase budget is spent.
	StateWaitSellFill State = "WAIT_SELL_FILL"
	// StateComplete books the finished round trip.
	StateComplete State = "COMPLETE"
	// StateDeactivating unwinds the market: cancel, liquidate, remove.
	StateDeactivating State = "DEACTIVATING"
)

// marketState is the per-market book-keeping the orchestrator steps
// through. All access happens on the orchestrator goroutine.
type marketState struct {
	domain.ActiveMarket

	state      State
	stateSince time.Time
	addedAt    time.Time

	// Round trip in flight.
	position    float64 // shares held after buy fills
	avgBuyPrice float64
	sellPrice   float64   // price of the resting sell, if any
	tripSize    float64   // shares bought this trip
	openedAt    time.Time // first buy fill of the trip

	// Lifetime counters for metrics.
	roundTrips int
	grossPnL   float64

	// liquidated marks that the deactivation sell has been placed, so
	// later ticks leave it alone rather than re-quote it.
	liquidated bool

	deactivateReason string
}

func newMarketState(c domain.CandidateMarket, now time.Time) *marketState {
	return &marketState{
		ActiveMarket: domain.ActiveMarket{
			Asset:       c.Asset,
			ConditionID: c.ConditionID,
			Slug:        c.Slug,
			Side:        c.Side,
		},
		state:      StateIdle,
		stateSince: now,
		addedAt:    now,
	}
}

// transition moves the machine to a new state. Callers log the reason.
func (m *marketState) transition(to State, now time.Time) {
	m.state = to
	m.stateSince = now
}

// flat reports whether the market holds no shares.
func (m *marketState) flat() bool {
	return m.position <= positionEpsilon
}

// recordBuyFill folds a buy fill into the held position at a weighted
// average price.
func (m *marketState) recordBuyFill(price, size float64, now time.Time) {
	if m.flat() {
		m.openedAt = now
		m.tripSize = 0
	}
	m.tripSize += size
	total := m.position + size
	if total > 0 {
		m.avgBuyPrice = (m.avgBuyPrice*m.position + price*size) / total
	}
	m.position = total
}

// recordSellFill reduces the position and accumulates realized PnL.
func (m *marketState) recordSellFill(price, size float64) {
	if size > m.position {
		size = m.position
	}
	m.grossPnL += (price - m.avgBuyPrice) * size
	m.position -= size
	if m.flat() {
		m.position = 0
	}
}

// positionEpsilon absorbs float residue when deciding flatness.
const positionEpsilon = 1e-9
