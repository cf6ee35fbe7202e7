// Package orders owns the engine's live orders: placement with the
// single-order-per-asset lock, TTL and drift replacement, the ask-chase
// budget, and dry-run simulation.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/platform/polymarket"
)

// driftEpsilon absorbs float noise when comparing price drift against
// the tick threshold.
const driftEpsilon = 1e-9

// Venue places and cancels orders on the exchange.
type Venue interface {
	PlaceOrder(ctx context.Context, p polymarket.PlaceOrderParams) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// chaseState is the per-asset ask-chase budget.
type chaseState struct {
	startedAt time.Time
	replaces  int
}

// Manager tracks at most one live order per asset and mediates all
// order traffic to the venue. It never retries: a failed placement or
// cancel is reported to the caller, which decides on the next tick.
type Manager struct {
	cfg    config.OrdersConfig
	venue  Venue
	dryRun bool
	logger *slog.Logger

	mu     sync.Mutex
	active map[domain.AssetID]domain.ActiveOrder
	chases map[domain.AssetID]*chaseState

	now func() time.Time
}

// NewManager creates an order manager. With dryRun set, orders are
// simulated with synthetic ids and never reach the venue.
func NewManager(cfg config.OrdersConfig, venue Venue, dryRun bool, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		venue:  venue,
		dryRun: dryRun,
		logger: logger.With(slog.String("component", "orders")),
		active: make(map[domain.AssetID]domain.ActiveOrder),
		chases: make(map[domain.AssetID]*chaseState),
		now:    time.Now,
	}
}

// PlaceBuy places a resting buy joining bestBid. The asset must have
// no live order, otherwise domain.ErrOrderExists is returned. Orders
// are post-only: a crossed book is rejected with domain.ErrWouldCross
// before anything reaches the venue.
func (m *Manager) PlaceBuy(ctx context.Context, asset domain.AssetID, bestBid, bestAsk, size float64) (domain.ActiveOrder, error) {
	if bestBid >= bestAsk {
		return domain.ActiveOrder{}, fmt.Errorf("orders: buy %s: bid %.4f crosses ask %.4f: %w",
			asset, bestBid, bestAsk, domain.ErrWouldCross)
	}
	return m.place(ctx, asset, domain.SideBuy, bestBid, size)
}

// PlaceSell places a resting sell at bestAsk under the same lock and
// crossing guard.
func (m *Manager) PlaceSell(ctx context.Context, asset domain.AssetID, bestBid, bestAsk, size float64) (domain.ActiveOrder, error) {
	if bestAsk <= bestBid {
		return domain.ActiveOrder{}, fmt.Errorf("orders: sell %s: ask %.4f crosses bid %.4f: %w",
			asset, bestAsk, bestBid, domain.ErrWouldCross)
	}
	return m.place(ctx, asset, domain.SideSell, bestAsk, size)
}

// Active returns the live order for asset, if any.
func (m *Manager) Active(asset domain.AssetID) (domain.ActiveOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.active[asset]
	return o, ok
}

// ActiveOrders returns a copy of every live order, for reconciliation
// and the shutdown sweep.
func (m *Manager) ActiveOrders() []domain.ActiveOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActiveOrder, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, o)
	}
	return out
}

// ShouldReplace reports whether the live order on asset has gone stale:
// either it outlived the TTL or the best price drifted by at least the
// configured number of ticks.
func (m *Manager) ShouldReplace(asset domain.AssetID, bestPrice, tickSize float64) bool {
	m.mu.Lock()
	o, ok := m.active[asset]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if m.now().Sub(o.PlacedAt) >= time.Duration(m.cfg.OrderTTLMS)*time.Millisecond {
		return true
	}
	if tickSize <= 0 {
		return false
	}
	drift := math.Abs(o.Price - bestPrice)
	return drift+driftEpsilon >= m.cfg.ReplacePriceTicks*tickSize
}

// Replace cancels the live order on asset and places a new one at
// newPrice with the same side and size. When the cancel reports the
// order already gone, nothing is placed: the order may have just
// filled, and the caller must wait for the fill event. When the cancel
// succeeds but the new placement fails, the asset is left with no live
// order and the error is returned.
func (m *Manager) Replace(ctx context.Context, asset domain.AssetID, newPrice float64) (domain.ActiveOrder, error) {
	m.mu.Lock()
	old, ok := m.active[asset]
	m.mu.Unlock()
	if !ok {
		return domain.ActiveOrder{}, fmt.Errorf("orders: replace %s: %w", asset, domain.ErrNoActiveOrder)
	}

	if err := m.cancelVenue(ctx, old.OrderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Order vanished between our decision and the cancel. A
			// fill or external cancel event will resolve ownership.
			m.clear(asset, old.OrderID)
			return domain.ActiveOrder{}, fmt.Errorf("orders: replace %s: order already gone: %w", asset, err)
		}
		return domain.ActiveOrder{}, fmt.Errorf("orders: replace %s: cancel: %w", asset, err)
	}
	m.clear(asset, old.OrderID)

	placed, err := m.place(ctx, asset, old.Side, newPrice, old.Size)
	if err != nil {
		return domain.ActiveOrder{}, fmt.Errorf("orders: replace %s: re-place: %w", asset, err)
	}
	m.logger.Info("order replaced",
		slog.String("asset", string(asset)),
		slog.String("side", string(old.Side)),
		slog.Float64("old_price", old.Price),
		slog.Float64("new_price", newPrice))
	return placed, nil
}

// Cancel cancels the live order on asset. The local record is cleared
// even when the venue reports the order already gone.
func (m *Manager) Cancel(ctx context.Context, asset domain.AssetID) error {
	m.mu.Lock()
	o, ok := m.active[asset]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("orders: cancel %s: %w", asset, domain.ErrNoActiveOrder)
	}

	err := m.cancelVenue(ctx, o.OrderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("orders: cancel %s: %w", asset, err)
	}
	m.clear(asset, o.OrderID)
	return err
}

// Release drops the local record for orderID without touching the
// venue. Used when a fill or external cancellation event arrives.
// Returns the order and true when it was ours.
func (m *Manager) Release(orderID string) (domain.ActiveOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for asset, o := range m.active {
		if o.OrderID == orderID {
			delete(m.active, asset)
			return o, true
		}
	}
	return domain.ActiveOrder{}, false
}

// ---- Ask chase budget ----

// StartChase opens the ask-chase window for asset.
func (m *Manager) StartChase(asset domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chases[asset] = &chaseState{startedAt: m.now()}
}

// ChaseExhausted reports whether the chase window elapsed or the
// replace budget ran out. True when no chase is open.
func (m *Manager) ChaseExhausted(asset domain.AssetID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chases[asset]
	if !ok {
		return true
	}
	if m.now().Sub(c.startedAt) >= time.Duration(m.cfg.AskChaseWindowSec*float64(time.Second)) {
		return true
	}
	return c.replaces >= m.cfg.AskChaseMaxReplaces
}

// RecordChaseReplace consumes one replace from the chase budget.
func (m *Manager) RecordChaseReplace(asset domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chases[asset]; ok {
		c.replaces++
	}
}

// EndChase closes the chase window for asset.
func (m *Manager) EndChase(asset domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chases, asset)
}

// ---- Internal helpers ----

func (m *Manager) place(ctx context.Context, asset domain.AssetID, side domain.Side, price, size float64) (domain.ActiveOrder, error) {
	m.mu.Lock()
	if existing, ok := m.active[asset]; ok {
		m.mu.Unlock()
		return domain.ActiveOrder{}, fmt.Errorf("orders: %s already has live order %s: %w",
			asset, existing.OrderID, domain.ErrOrderExists)
	}
	m.mu.Unlock()

	var orderID string
	if m.dryRun {
		orderID = "dry-" + uuid.NewString()
	} else {
		result, err := m.venue.PlaceOrder(ctx, polymarket.PlaceOrderParams{
			Asset: asset, Side: side, Price: price, Size: size,
		})
		if err != nil {
			return domain.ActiveOrder{}, err
		}
		if !result.Success {
			return domain.ActiveOrder{}, fmt.Errorf("orders: place %s %s rejected: %s", side, asset, result.Message)
		}
		orderID = result.OrderID
	}

	order := domain.ActiveOrder{
		OrderID:  orderID,
		Asset:    asset,
		Side:     side,
		Price:    price,
		Size:     size,
		PlacedAt: m.now(),
	}

	m.mu.Lock()
	m.active[asset] = order
	m.mu.Unlock()

	m.logger.Info("order placed",
		slog.String("asset", string(asset)),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.Bool("dry_run", m.dryRun),
		slog.String("order_id", orderID))
	return order, nil
}

func (m *Manager) cancelVenue(ctx context.Context, orderID string) error {
	if m.dryRun {
		return nil
	}
	return m.venue.CancelOrder(ctx, orderID)
}

func (m *Manager) clear(asset domain.AssetID, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.active[asset]; ok && o.OrderID == orderID {
		delete(m.active, asset)
	}
}
