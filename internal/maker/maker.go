// Package maker runs the spread-capture loop: select markets, rest a
// buy at the bid, chase the ask with the resulting position, and book
// the round trip. A single goroutine owns all state; feeds deliver
// events through bounded channels.
package maker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/orders"
	"github.com/marketloop/spreadbot/internal/risk"
)

// Price sanity bounds. Quotes outside them freeze the state machine for
// the affected market rather than drive orders.
const (
	minSaneBid    = 0.001
	maxSaneAsk    = 0.999
	minSaneSpread = 0.001
	maxSaneSpread = 0.5
)

// priceWarmupTimeout bounds the startup wait for first quotes.
const priceWarmupTimeout = 10 * time.Second

// PriceSource is the market feed surface the orchestrator reads.
type PriceSource interface {
	Top(asset domain.AssetID) (domain.TopOfBook, bool)
	TickSize(asset domain.AssetID) float64
	LastUpdate(asset domain.AssetID) time.Time
	Subscribe(assets ...domain.AssetID)
	Unsubscribe(assets ...domain.AssetID)
	Updates() <-chan domain.AssetID
}

// EventSource is the user feed surface: fills and order lifecycle
// events for the account's own orders.
type EventSource interface {
	Fills() <-chan domain.Fill
	OrderEvents() <-chan domain.OrderStatusEvent
	Watch(conditions ...domain.ConditionID)
	Unwatch(conditions ...domain.ConditionID)
}

// MarketPicker selects the markets to quote.
type MarketPicker interface {
	Select(ctx context.Context) ([]domain.CandidateMarket, error)
}

// VenueOrders is the reconciliation surface against the exchange.
type VenueOrders interface {
	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
}

// Maker is the orchestrator. Construct with New, then call Run.
type Maker struct {
	cfg    *config.Config
	prices PriceSource
	events EventSource
	orders *orders.Manager
	risk   *risk.Manager
	picker MarketPicker
	venue  VenueOrders // nil in dry-run

	journal   domain.TradeJournal  // optional
	telemetry domain.TelemetrySink // optional

	logger  *slog.Logger
	markets map[domain.AssetID]*marketState
	now     func() time.Time
}

// New assembles an orchestrator. venue may be nil when running dry;
// journal and telemetry are optional and best-effort.
func New(
	cfg *config.Config,
	prices PriceSource,
	events EventSource,
	om *orders.Manager,
	rm *risk.Manager,
	picker MarketPicker,
	venue VenueOrders,
	journal domain.TradeJournal,
	telemetry domain.TelemetrySink,
	logger *slog.Logger,
) *Maker {
	return &Maker{
		cfg:       cfg,
		prices:    prices,
		events:    events,
		orders:    om,
		risk:      rm,
		picker:    picker,
		venue:     venue,
		journal:   journal,
		telemetry: telemetry,
		logger:    logger.With(slog.String("component", "maker")),
		markets:   make(map[domain.AssetID]*marketState),
		now:       time.Now,
	}
}

// Run executes the trading loop until ctx is cancelled, then cancels
// every live order before returning.
func (mk *Maker) Run(ctx context.Context) error {
	if err := mk.startup(ctx); err != nil {
		return err
	}
	defer mk.shutdown()

	tick := time.NewTicker(time.Duration(mk.cfg.Engine.TickIntervalMS) * time.Millisecond)
	metrics := time.NewTicker(time.Duration(mk.cfg.Engine.MetricsLogIntervalMS) * time.Millisecond)
	reconcile := time.NewTicker(time.Duration(mk.cfg.Engine.ReconcileIntervalMS) * time.Millisecond)
	health := time.NewTicker(time.Duration(mk.cfg.Engine.HealthCheckIntervalMS) * time.Millisecond)
	defer tick.Stop()
	defer metrics.Stop()
	defer reconcile.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-tick.C:
			now := mk.now()
			for _, ms := range mk.markets {
				mk.step(ctx, ms, now)
			}

		case fill := <-mk.events.Fills():
			mk.handleFill(ctx, fill)

		case ev := <-mk.events.OrderEvents():
			mk.handleOrderEvent(ev)

		case asset := <-mk.prices.Updates():
			mk.publishQuote(ctx, asset)

		case <-metrics.C:
			mk.logMetrics(ctx)

		case <-reconcile.C:
			mk.reconcile(ctx)

		case <-health.C:
			mk.healthCheck()
		}
	}
}

// ---- Startup and shutdown ----

func (mk *Maker) startup(ctx context.Context) error {
	// Clear any orders left behind by a previous run. Recovery state
	// comes from the venue, never from local persistence.
	if mk.venue != nil && !mk.cfg.DryRun {
		if err := mk.venue.CancelAll(ctx); err != nil {
			mk.logger.Warn("startup cancel-all failed", slog.Any("error", err))
		}
	}

	candidates, err := mk.picker.Select(ctx)
	if err != nil {
		return err
	}
	now := mk.now()
	for _, c := range candidates {
		mk.markets[c.Asset] = newMarketState(c, now)
		mk.prices.Subscribe(c.Asset)
		mk.events.Watch(c.ConditionID)
		mk.logger.Info("market activated",
			slog.String("asset", string(c.Asset)),
			slog.String("slug", c.Slug),
			slog.String("side", string(c.Side)),
			slog.Float64("score", c.Score))
	}

	mk.waitForPrices(ctx)
	return nil
}

// waitForPrices blocks until every activated market has a quote or the
// warmup timeout passes. Markets still without prices start in the
// grace period and fall to the exit criteria later.
func (mk *Maker) waitForPrices(ctx context.Context) {
	deadline := mk.now().Add(priceWarmupTimeout)
	for mk.now().Before(deadline) {
		missing := 0
		for asset := range mk.markets {
			if _, ok := mk.prices.Top(asset); !ok {
				missing++
			}
		}
		if missing == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	mk.logger.Warn("price warmup timed out with markets missing quotes")
}

// shutdown cancels every live order. It runs on a fresh context since
// the run context is already cancelled.
func (mk *Maker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, o := range mk.orders.ActiveOrders() {
		if err := mk.orders.Cancel(ctx, o.Asset); err != nil && !errors.Is(err, domain.ErrNotFound) {
			mk.logger.Warn("shutdown cancel failed",
				slog.String("order_id", o.OrderID),
				slog.Any("error", err))
		}
		if o.Side == domain.SideBuy {
			mk.risk.CancelBuyOrder(o.Asset, o.Price, o.Size)
		}
	}
	if mk.venue != nil && !mk.cfg.DryRun {
		if err := mk.venue.CancelAll(ctx); err != nil {
			mk.logger.Warn("shutdown cancel-all failed", slog.Any("error", err))
		}
	}
	mk.logger.Info("shutdown complete", slog.Int("markets", len(mk.markets)))
}

// ---- Tick state machine ----

func (mk *Maker) step(ctx context.Context, ms *marketState, now time.Time) {
	top, haveTop := mk.prices.Top(ms.Asset)
	gate := haveTop && priceSane(top)

	mk.checkExitCriteria(ms, top, haveTop, gate, now)

	switch ms.state {
	case StateIdle:
		if !gate {
			return
		}
		size := mk.cfg.Sizing.OrderSizeShares
		if err := mk.risk.CanPlaceBuy(ms.Asset, top.BestBid, size, top.Spread()); err != nil {
			mk.logger.Debug("buy denied",
				slog.String("asset", string(ms.Asset)),
				slog.Any("reason", err))
			return
		}
		ms.transition(StatePlaceBuy, now)
		mk.placeBuy(ctx, ms, top, now)

	case StatePlaceBuy:
		if gate {
			mk.placeBuy(ctx, ms, top, now)
		}

	case StateWaitBuyFill:
		if gate {
			mk.refreshOrder(ctx, ms, top.BestBid, top.TickSize, false)
		}

	case StatePlaceSell:
		if gate {
			mk.placeSell(ctx, ms, top, now)
		}

	case StateAskChase:
		if mk.orders.ChaseExhausted(ms.Asset) {
			mk.orders.EndChase(ms.Asset)
			ms.transition(StateWaitSellFill, now)
			mk.logger.Info("ask chase exhausted, holding sell",
				slog.String("asset", string(ms.Asset)))
			return
		}
		if gate {
			mk.refreshOrder(ctx, ms, top.BestAsk, top.TickSize, true)
		}

	case StateWaitSellFill:
		if gate {
			mk.refreshOrder(ctx, ms, top.BestAsk, top.TickSize, false)
		}

	case StateComplete:
		mk.completeRoundTrip(ctx, ms, now)

	case StateDeactivating:
		mk.stepDeactivating(ctx, ms, top, gate)
	}
}

// checkExitCriteria deactivates a market whose feed went silent or
// whose spread collapsed, once the grace period has passed.
func (mk *Maker) checkExitCriteria(ms *marketState, top domain.TopOfBook, haveTop, gate bool, now time.Time) {
	if ms.state == StateDeactivating {
		return
	}
	grace := time.Duration(mk.cfg.Engine.GracePeriodSec) * time.Second
	if now.Sub(ms.addedAt) < grace {
		return
	}

	inactive := time.Duration(mk.cfg.Engine.MarketInactiveTimeoutSec) * time.Second
	last := mk.prices.LastUpdate(ms.Asset)
	if !haveTop || (inactive > 0 && now.Sub(last) >= inactive) {
		mk.deactivate(ms, "no_prices", now)
		return
	}
	if gate && top.Spread() < mk.cfg.Selector.MinSpreadCents/100 {
		mk.deactivate(ms, "spread_too_small", now)
	}
}

func (mk *Maker) deactivate(ms *marketState, reason string, now time.Time) {
	ms.deactivateReason = reason
	ms.transition(StateDeactivating, now)
	mk.logger.Info("market deactivating",
		slog.String("asset", string(ms.Asset)),
		slog.String("slug", ms.Slug),
		slog.String("reason", reason))
}

func (mk *Maker) placeBuy(ctx context.Context, ms *marketState, top domain.TopOfBook, now time.Time) {
	size := mk.cfg.Sizing.OrderSizeShares
	if err := mk.risk.CanPlaceBuy(ms.Asset, top.BestBid, size, top.Spread()); err != nil {
		ms.transition(StateIdle, now)
		return
	}

	_, err := mk.orders.PlaceBuy(ctx, ms.Asset, top.BestBid, top.BestAsk, size)
	switch {
	case err == nil:
		mk.risk.RecordBuyOrder(ms.Asset, top.BestBid, size)
		ms.transition(StateWaitBuyFill, now)
	case errors.Is(err, domain.ErrWouldCross):
		// The bid moved into the ask between quote and placement.
		ms.transition(StateIdle, now)
	case errors.Is(err, domain.ErrOrderExists):
		ms.transition(StateWaitBuyFill, now)
	default:
		mk.logger.Warn("buy placement failed",
			slog.String("asset", string(ms.Asset)),
			slog.Any("error", err))
		ms.transition(StateIdle, now)
	}
}

func (mk *Maker) placeSell(ctx context.Context, ms *marketState, top domain.TopOfBook, now time.Time) {
	if ms.flat() {
		// Position evaporated (reconciliation or over-reported fill).
		ms.transition(StateComplete, now)
		return
	}

	_, err := mk.orders.PlaceSell(ctx, ms.Asset, top.BestBid, top.BestAsk, ms.position)
	switch {
	case err == nil:
		ms.sellPrice = top.BestAsk
		mk.orders.StartChase(ms.Asset)
		ms.transition(StateAskChase, now)
	case errors.Is(err, domain.ErrWouldCross):
		// Ask moved under us; next tick re-reads the book.
	case errors.Is(err, domain.ErrOrderExists):
		mk.orders.StartChase(ms.Asset)
		ms.transition(StateAskChase, now)
	default:
		mk.logger.Warn("sell placement failed",
			slog.String("asset", string(ms.Asset)),
			slog.Any("error", err))
	}
}

// refreshOrder replaces the live order at the current best price when
// the TTL or drift threshold triggers. chasing consumes the ask-chase
// budget.
func (mk *Maker) refreshOrder(ctx context.Context, ms *marketState, bestPrice, tickSize float64, chasing bool) {
	if !mk.orders.ShouldReplace(ms.Asset, bestPrice, tickSize) {
		return
	}

	old, ok := mk.orders.Active(ms.Asset)
	if !ok {
		return
	}
	fresh, err := mk.orders.Replace(ctx, ms.Asset, bestPrice)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The order filled under the cancel; the fill event settles it.
			return
		}
		mk.logger.Warn("replace failed",
			slog.String("asset", string(ms.Asset)),
			slog.Any("error", err))
		return
	}

	if old.Side == domain.SideBuy {
		mk.risk.CancelBuyOrder(ms.Asset, old.Price, old.Size)
		mk.risk.RecordBuyOrder(ms.Asset, fresh.Price, fresh.Size)
	} else {
		ms.sellPrice = fresh.Price
	}
	if chasing {
		mk.orders.RecordChaseReplace(ms.Asset)
	}
}

func (mk *Maker) completeRoundTrip(ctx context.Context, ms *marketState, now time.Time) {
	ms.roundTrips++
	mk.logger.Info("round trip complete",
		slog.String("asset", string(ms.Asset)),
		slog.String("slug", ms.Slug),
		slog.Float64("gross_pnl", ms.grossPnL),
		slog.Int("round_trips", ms.roundTrips))

	if mk.journal != nil {
		rt := domain.RoundTrip{
			ID:          uuid.NewString(),
			Asset:       ms.Asset,
			Slug:        ms.Slug,
			BuyPrice:    ms.avgBuyPrice,
			SellPrice:   ms.sellPrice,
			Size:        ms.tripSize,
			GrossPnLUSD: (ms.sellPrice - ms.avgBuyPrice) * ms.tripSize,
			OpenedAt:    ms.openedAt,
			ClosedAt:    now,
		}
		if err := mk.journal.RecordRoundTrip(ctx, rt); err != nil {
			mk.logger.Warn("journal write failed", slog.Any("error", err))
		}
	}

	mk.publishEvent(ctx, "round_trip", map[string]any{
		"asset":     string(ms.Asset),
		"slug":      ms.Slug,
		"buy":       ms.avgBuyPrice,
		"sell":      ms.sellPrice,
		"gross_pnl": ms.grossPnL,
	})

	mk.risk.CleanMarket(ms.Asset)
	ms.position = 0
	ms.avgBuyPrice = 0
	ms.sellPrice = 0
	ms.transition(StateIdle, now)
}

// stepDeactivating unwinds one market: cancel any live order placed
// before deactivation, liquidate held shares with a fresh sell at the
// current best ask, and remove the market once flat.
func (mk *Maker) stepDeactivating(ctx context.Context, ms *marketState, top domain.TopOfBook, gate bool) {
	if o, ok := mk.orders.Active(ms.Asset); ok {
		if o.Side == domain.SideBuy {
			if err := mk.orders.Cancel(ctx, ms.Asset); err != nil && !errors.Is(err, domain.ErrNotFound) {
				mk.logger.Warn("deactivation cancel failed",
					slog.String("asset", string(ms.Asset)),
					slog.Any("error", err))
				return
			}
			mk.risk.CancelBuyOrder(ms.Asset, o.Price, o.Size)
			return
		}
		if ms.liquidated {
			// The liquidation sell; leave it to fill.
			return
		}
		// A sell from before deactivation may rest at a stale price.
		// Cancel it and re-quote at the current ask.
		if err := mk.orders.Cancel(ctx, ms.Asset); err != nil && !errors.Is(err, domain.ErrNotFound) {
			mk.logger.Warn("deactivation cancel failed",
				slog.String("asset", string(ms.Asset)),
				slog.Any("error", err))
			return
		}
		mk.orders.EndChase(ms.Asset)
	}

	if !ms.flat() {
		if !gate {
			return
		}
		fresh, err := mk.orders.PlaceSell(ctx, ms.Asset, top.BestBid, top.BestAsk, ms.position)
		if err != nil {
			if !errors.Is(err, domain.ErrWouldCross) {
				mk.logger.Warn("liquidation sell failed",
					slog.String("asset", string(ms.Asset)),
					slog.Any("error", err))
			}
			return
		}
		ms.sellPrice = fresh.Price
		ms.liquidated = true
		return
	}

	mk.removeMarket(ctx, ms)
}

func (mk *Maker) removeMarket(ctx context.Context, ms *marketState) {
	mk.prices.Unsubscribe(ms.Asset)
	mk.events.Unwatch(ms.ConditionID)
	mk.risk.CleanMarket(ms.Asset)
	delete(mk.markets, ms.Asset)
	mk.logger.Info("market removed",
		slog.String("asset", string(ms.Asset)),
		slog.String("slug", ms.Slug),
		slog.String("reason", ms.deactivateReason),
		slog.Int("round_trips", ms.roundTrips),
		slog.Float64("gross_pnl", ms.grossPnL))

	mk.publishEvent(ctx, "market_deactivated", map[string]any{
		"asset":       string(ms.Asset),
		"slug":        ms.Slug,
		"reason":      ms.deactivateReason,
		"round_trips": ms.roundTrips,
		"gross_pnl":   ms.grossPnL,
	})
}

// publishEvent forwards an engine event to the telemetry sink when one
// is configured.
func (mk *Maker) publishEvent(ctx context.Context, event string, payload map[string]any) {
	if mk.telemetry == nil {
		return
	}
	if err := mk.telemetry.PublishEvent(ctx, event, payload); err != nil {
		mk.logger.Debug("telemetry publish failed", slog.Any("error", err))
	}
}

// ---- Event handling ----

func (mk *Maker) handleFill(ctx context.Context, fill domain.Fill) {
	ms, ok := mk.markets[fill.Asset]
	if !ok {
		mk.logger.Debug("fill for unknown market",
			slog.String("asset", string(fill.Asset)),
			slog.String("order_id", fill.OrderID))
		return
	}
	now := mk.now()

	mk.logger.Info("fill",
		slog.String("asset", string(fill.Asset)),
		slog.String("side", string(fill.Side)),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size))

	if mk.journal != nil {
		rec := domain.FillRecord{
			ID:       uuid.NewString(),
			OrderID:  fill.OrderID,
			Asset:    fill.Asset,
			Side:     fill.Side,
			Price:    fill.Price,
			Size:     fill.Size,
			FilledAt: fill.Timestamp,
		}
		if err := mk.journal.RecordFill(ctx, rec); err != nil {
			mk.logger.Warn("journal write failed", slog.Any("error", err))
		}
	}

	switch fill.Side {
	case domain.SideBuy:
		// A partial buy is treated as the whole entry: the resting
		// remainder is released and the position moves on to the sell.
		if o, released := mk.orders.Release(fill.OrderID); released {
			mk.risk.CancelBuyOrder(fill.Asset, o.Price, o.Size)
		}
		mk.risk.RecordBuyOrder(fill.Asset, fill.Price, fill.Size)
		ms.recordBuyFill(fill.Price, fill.Size, now)
		if ms.state == StateWaitBuyFill || ms.state == StatePlaceBuy {
			ms.transition(StatePlaceSell, now)
		}

	case domain.SideSell:
		ms.recordSellFill(fill.Price, fill.Size)
		mk.risk.RecordSellFill(fill.Asset, ms.avgBuyPrice, fill.Size)
		if !ms.flat() {
			return
		}
		mk.orders.Release(fill.OrderID)
		mk.orders.EndChase(fill.Asset)
		if ms.state == StateAskChase || ms.state == StateWaitSellFill || ms.state == StatePlaceSell {
			ms.transition(StateComplete, now)
		}
		// A deactivating market just went flat; the next tick removes it.
	}
}

func (mk *Maker) handleOrderEvent(ev domain.OrderStatusEvent) {
	if ev.Status != domain.OrderStatusCancelled {
		return
	}

	o, ok := mk.orders.Release(ev.OrderID)
	if !ok {
		// Cancellation for an order we already replaced or released.
		mk.logger.Debug("stale cancellation",
			slog.String("order_id", ev.OrderID))
		return
	}
	ms, found := mk.markets[ev.Asset]
	if !found {
		return
	}
	now := mk.now()

	mk.logger.Info("order cancelled externally",
		slog.String("asset", string(ev.Asset)),
		slog.String("order_id", ev.OrderID),
		slog.String("side", string(o.Side)))

	if o.Side == domain.SideBuy {
		mk.risk.CancelBuyOrder(ev.Asset, o.Price, o.Size)
		if ms.state == StateWaitBuyFill || ms.state == StatePlaceBuy {
			ms.transition(StateIdle, now)
		}
		return
	}
	// Sell cancelled under us: re-place if the position survives.
	mk.orders.EndChase(ev.Asset)
	if ms.state == StateAskChase || ms.state == StateWaitSellFill {
		ms.transition(StatePlaceSell, now)
	}
}

// ---- Periodic tasks ----

// publishQuote forwards an accepted quote to the telemetry sink.
func (mk *Maker) publishQuote(ctx context.Context, asset domain.AssetID) {
	if mk.telemetry == nil {
		return
	}
	if top, ok := mk.prices.Top(asset); ok {
		if err := mk.telemetry.PublishTopOfBook(ctx, asset, top); err != nil {
			mk.logger.Debug("telemetry publish failed", slog.Any("error", err))
		}
	}
}

func (mk *Maker) logMetrics(ctx context.Context) {
	states := make(map[State]int)
	var trips int
	var pnl float64
	for _, ms := range mk.markets {
		states[ms.state]++
		trips += ms.roundTrips
		pnl += ms.grossPnL
	}

	mk.logger.Info("metrics",
		slog.Int("markets", len(mk.markets)),
		slog.Int("live_orders", len(mk.orders.ActiveOrders())),
		slog.Int("round_trips", trips),
		slog.Float64("gross_pnl", pnl),
		slog.Float64("notional_at_risk", mk.risk.TotalNotional()),
		slog.Any("states", states))

	mk.publishEvent(ctx, "metrics", map[string]any{
		"markets":          len(mk.markets),
		"round_trips":      trips,
		"gross_pnl":        pnl,
		"notional_at_risk": mk.risk.TotalNotional(),
	})
}

// reconcile trues up local order state against the venue: venue orders
// the engine does not know are cancelled, and local orders the venue no
// longer has are released as if cancelled externally.
func (mk *Maker) reconcile(ctx context.Context) {
	if mk.venue == nil || mk.cfg.DryRun {
		return
	}

	venueOrders, err := mk.venue.OpenOrders(ctx)
	if err != nil {
		mk.logger.Warn("reconcile: open orders query failed", slog.Any("error", err))
		return
	}

	local := make(map[string]domain.ActiveOrder)
	for _, o := range mk.orders.ActiveOrders() {
		local[o.OrderID] = o
	}

	venueSet := make(map[string]struct{}, len(venueOrders))
	for _, vo := range venueOrders {
		venueSet[vo.OrderID] = struct{}{}
		if _, known := local[vo.OrderID]; !known {
			mk.logger.Warn("reconcile: cancelling unknown venue order",
				slog.String("order_id", vo.OrderID),
				slog.String("asset", string(vo.Asset)))
			if err := mk.venue.CancelOrder(ctx, vo.OrderID); err != nil {
				mk.logger.Warn("reconcile: cancel failed", slog.Any("error", err))
			}
		}
	}

	for id, o := range local {
		if _, alive := venueSet[id]; alive {
			continue
		}
		mk.logger.Warn("reconcile: local order gone on venue",
			slog.String("order_id", id),
			slog.String("asset", string(o.Asset)))
		mk.handleOrderEvent(domain.OrderStatusEvent{
			OrderID: id,
			Asset:   o.Asset,
			Status:  domain.OrderStatusCancelled,
		})
	}
}

func (mk *Maker) healthCheck() {
	now := mk.now()
	stale := 0
	for asset := range mk.markets {
		last := mk.prices.LastUpdate(asset)
		if last.IsZero() || now.Sub(last) > time.Duration(mk.cfg.Engine.MarketInactiveTimeoutSec)*time.Second {
			stale++
		}
	}
	if stale > 0 && stale == len(mk.markets) && len(mk.markets) > 0 {
		mk.logger.Error("health: every market feed is stale")
		return
	}
	mk.logger.Info("health",
		slog.Int("markets", len(mk.markets)),
		slog.Int("stale_feeds", stale))
}

// priceSane gates the state machine on plausible quotes: extremes and
// degenerate spreads freeze trading for the asset.
func priceSane(top domain.TopOfBook) bool {
	if top.BestBid < minSaneBid || top.BestAsk > maxSaneAsk {
		return false
	}
	spread := top.Spread()
	return spread >= minSaneSpread && spread <= maxSaneSpread
}
