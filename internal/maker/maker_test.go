package maker

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/orders"
	"github.com/marketloop/spreadbot/internal/platform/polymarket"
	"github.com/marketloop/spreadbot/internal/risk"
)

// ---- Fakes ----

type fakePrices struct {
	tops         map[domain.AssetID]domain.TopOfBook
	lastUpdate   map[domain.AssetID]time.Time
	updates      chan domain.AssetID
	subscribed   []domain.AssetID
	unsubscribed []domain.AssetID
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		tops:       make(map[domain.AssetID]domain.TopOfBook),
		lastUpdate: make(map[domain.AssetID]time.Time),
		updates:    make(chan domain.AssetID, 16),
	}
}

func (f *fakePrices) Top(asset domain.AssetID) (domain.TopOfBook, bool) {
	t, ok := f.tops[asset]
	return t, ok
}

func (f *fakePrices) TickSize(asset domain.AssetID) float64 {
	if t, ok := f.tops[asset]; ok && t.TickSize > 0 {
		return t.TickSize
	}
	return 0.01
}

func (f *fakePrices) LastUpdate(asset domain.AssetID) time.Time { return f.lastUpdate[asset] }
func (f *fakePrices) Subscribe(assets ...domain.AssetID) {
	f.subscribed = append(f.subscribed, assets...)
}
func (f *fakePrices) Unsubscribe(assets ...domain.AssetID) {
	f.unsubscribed = append(f.unsubscribed, assets...)
}
func (f *fakePrices) Updates() <-chan domain.AssetID { return f.updates }

func (f *fakePrices) setTop(asset domain.AssetID, bid, ask float64, at time.Time) {
	f.tops[asset] = domain.TopOfBook{BestBid: bid, BestAsk: ask, TickSize: 0.01, UpdatedAt: at}
	f.lastUpdate[asset] = at
}

type fakeEvents struct {
	fills       chan domain.Fill
	orderEvents chan domain.OrderStatusEvent
	watched     []domain.ConditionID
	unwatched   []domain.ConditionID
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		fills:       make(chan domain.Fill, 16),
		orderEvents: make(chan domain.OrderStatusEvent, 16),
	}
}

func (f *fakeEvents) Fills() <-chan domain.Fill                    { return f.fills }
func (f *fakeEvents) OrderEvents() <-chan domain.OrderStatusEvent  { return f.orderEvents }
func (f *fakeEvents) Watch(conditions ...domain.ConditionID)       { f.watched = append(f.watched, conditions...) }
func (f *fakeEvents) Unwatch(conditions ...domain.ConditionID)     { f.unwatched = append(f.unwatched, conditions...) }

type fakeExchange struct {
	placeErr  error
	placeFail bool
	cancelErr error
	placed    []polymarket.PlaceOrderParams
	cancelled []string
	seq       int
}

func (f *fakeExchange) PlaceOrder(_ context.Context, p polymarket.PlaceOrderParams) (domain.OrderResult, error) {
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	f.placed = append(f.placed, p)
	if f.placeFail {
		return domain.OrderResult{Success: false, Message: "rejected"}, nil
	}
	f.seq++
	return domain.OrderResult{Success: true, OrderID: fmt.Sprintf("ord-%d", f.seq)}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

type fakeVenueOrders struct {
	open      []domain.OpenOrder
	openErr   error
	cancelled []string
	cancelAll int
}

func (f *fakeVenueOrders) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	return f.open, f.openErr
}
func (f *fakeVenueOrders) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeVenueOrders) CancelAll(context.Context) error {
	f.cancelAll++
	return nil
}

type fakePicker struct {
	candidates []domain.CandidateMarket
}

func (f *fakePicker) Select(context.Context) ([]domain.CandidateMarket, error) {
	return f.candidates, nil
}

// ---- Harness ----

type harness struct {
	mk       *Maker
	prices   *fakePrices
	events   *fakeEvents
	exchange *fakeExchange
	venue    *fakeVenueOrders
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Risk = config.RiskConfig{
		MaxSharesPerMarket:    100,
		MaxUSDCPerMarket:      100,
		MaxNotionalAtRiskUSDC: 1_000,
	}

	logger := slog.New(slog.DiscardHandler)
	h := &harness{
		prices:   newFakePrices(),
		events:   newFakeEvents(),
		exchange: &fakeExchange{},
		venue:    &fakeVenueOrders{},
		now:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	om := orders.NewManager(cfg.Orders, h.exchange, false, logger)
	rm := risk.NewManager(cfg.Sizing, cfg.Risk, logger)
	h.mk = New(&cfg, h.prices, h.events, om, rm, &fakePicker{}, h.venue, nil, nil, logger)
	h.mk.now = func() time.Time { return h.now }
	return h
}

// addMarket activates one market past its grace period with a sane book.
func (h *harness) addMarket(asset domain.AssetID, bid, ask float64) *marketState {
	ms := newMarketState(domain.CandidateMarket{
		Asset:       asset,
		ConditionID: domain.ConditionID("cond-" + string(asset)),
		Slug:        "mkt-" + string(asset),
		Side:        domain.OutcomeYes,
	}, h.now)
	h.mk.markets[asset] = ms
	h.prices.setTop(asset, bid, ask, h.now)
	return ms
}

func (h *harness) tick() {
	for _, ms := range h.mk.markets {
		h.mk.step(context.Background(), ms, h.now)
	}
}

// ---- Round trip ----

func TestHappyPathRoundTrip(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)

	// IDLE -> buy resting at the bid.
	h.tick()
	assert.Equal(t, StateWaitBuyFill, ms.state)
	require.Len(t, h.exchange.placed, 1)
	assert.Equal(t, domain.SideBuy, h.exchange.placed[0].Side)
	assert.Equal(t, 0.46, h.exchange.placed[0].Price)

	// Buy fills in full.
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})
	assert.Equal(t, StatePlaceSell, ms.state)
	assert.InDelta(t, 5.0, ms.position, 1e-9)

	// Next tick rests the sell at the ask and opens the chase.
	h.tick()
	assert.Equal(t, StateAskChase, ms.state)
	require.Len(t, h.exchange.placed, 2)
	assert.Equal(t, domain.SideSell, h.exchange.placed[1].Side)
	assert.Equal(t, 0.50, h.exchange.placed[1].Price)
	assert.Equal(t, 5.0, h.exchange.placed[1].Size)

	// Sell fills, the position flattens, the trip completes.
	sell, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: sell.OrderID, Asset: "a", Side: domain.SideSell,
		Price: 0.50, Size: 5, Timestamp: h.now,
	})
	assert.Equal(t, StateComplete, ms.state)

	h.tick()
	assert.Equal(t, StateIdle, ms.state)
	assert.Equal(t, 1, ms.roundTrips)
	assert.InDelta(t, 0.20, ms.grossPnL, 1e-9)
	assert.Zero(t, h.mk.risk.TotalNotional())
}

func TestPartialBuyFillMovesOn(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()

	// A 2-share fill of the 5-share buy releases the remainder and the
	// engine sells what it holds.
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 2, Timestamp: h.now,
	})
	assert.Equal(t, StatePlaceSell, ms.state)
	assert.InDelta(t, 2.0, ms.position, 1e-9)

	// Risk now reflects the filled size, not the original order.
	exp := h.mk.risk.Exposure("a")
	assert.InDelta(t, 2.0, exp.Shares, 1e-9)

	h.tick()
	require.Len(t, h.exchange.placed, 2)
	assert.Equal(t, 2.0, h.exchange.placed[1].Size)
}

func TestWouldCrossReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.exchange.placeErr = fmt.Errorf("venue: %w", domain.ErrWouldCross)

	h.tick()
	assert.Equal(t, StateIdle, ms.state)

	// Once the book settles the next tick tries again.
	h.exchange.placeErr = nil
	h.tick()
	assert.Equal(t, StateWaitBuyFill, ms.state)
}

func TestSellWouldCrossRetriesNextTick(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})

	h.exchange.placeErr = fmt.Errorf("venue: %w", domain.ErrWouldCross)
	h.tick()
	assert.Equal(t, StatePlaceSell, ms.state, "stays in PLACE_SELL on a cross")

	h.exchange.placeErr = nil
	h.tick()
	assert.Equal(t, StateAskChase, ms.state)
}

// ---- Replacement and chase ----

func TestBuyReplaceOnDriftResyncsRisk(t *testing.T) {
	h := newHarness(t)
	h.addMarket("a", 0.46, 0.50)
	h.tick()

	// Bid moves a full tick; the buy follows it.
	h.prices.setTop("a", 0.47, 0.50, h.now)
	h.tick()

	o, ok := h.mk.orders.Active("a")
	require.True(t, ok)
	assert.Equal(t, 0.47, o.Price)
	require.Len(t, h.exchange.cancelled, 1)

	exp := h.mk.risk.Exposure("a")
	assert.InDelta(t, 0.47*5, exp.Notional, 1e-9)
}

func TestChaseBudgetExhaustionHoldsSell(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})
	h.tick()
	require.Equal(t, StateAskChase, ms.state)

	// Each ask move burns one replace; the budget is 3.
	for i := 0; i < 3; i++ {
		h.prices.setTop("a", 0.46, 0.50+float64(i+1)*0.01, h.now)
		h.tick()
	}
	require.Equal(t, StateAskChase, ms.state)

	// Budget is spent: the next tick parks the order.
	h.prices.setTop("a", 0.46, 0.55, h.now)
	h.tick()
	assert.Equal(t, StateWaitSellFill, ms.state)

	// The resting sell stays at its last chased price.
	o, ok := h.mk.orders.Active("a")
	require.True(t, ok)
	assert.Equal(t, 0.53, o.Price)
}

// ---- External cancellation ----

func TestExternalBuyCancelReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")

	h.mk.handleOrderEvent(domain.OrderStatusEvent{
		OrderID: buy.OrderID, Asset: "a", Status: domain.OrderStatusCancelled,
	})
	assert.Equal(t, StateIdle, ms.state)
	assert.Zero(t, h.mk.risk.TotalNotional())
	_, ok := h.mk.orders.Active("a")
	assert.False(t, ok)
}

func TestExternalSellCancelReplacesSell(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})
	h.tick()
	sell, _ := h.mk.orders.Active("a")

	h.mk.handleOrderEvent(domain.OrderStatusEvent{
		OrderID: sell.OrderID, Asset: "a", Status: domain.OrderStatusCancelled,
	})
	assert.Equal(t, StatePlaceSell, ms.state)

	// Next tick rests a fresh sell for the held position.
	h.tick()
	assert.Equal(t, StateAskChase, ms.state)
}

func TestStaleCancellationIsIgnored(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()

	// A cancellation for an id we never tracked must not disturb state.
	h.mk.handleOrderEvent(domain.OrderStatusEvent{
		OrderID: "ancient", Asset: "a", Status: domain.OrderStatusCancelled,
	})
	assert.Equal(t, StateWaitBuyFill, ms.state)
	_, ok := h.mk.orders.Active("a")
	assert.True(t, ok)
}

// ---- Sanity gate and exit criteria ----

func TestInsaneQuotesFreezeMarket(t *testing.T) {
	tests := []struct {
		name     string
		bid, ask float64
	}{
		{"bid at floor", 0.0005, 0.05},
		{"ask at ceiling", 0.95, 0.9995},
		{"spread too thin", 0.5000, 0.5005},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ms := h.addMarket("a", tt.bid, tt.ask)
			h.tick()
			assert.Equal(t, StateIdle, ms.state)
			assert.Empty(t, h.exchange.placed)
		})
	}
}

func TestExitNoPricesAfterGrace(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)

	// Inside the grace period a silent feed is tolerated.
	h.now = h.now.Add(10 * time.Second)
	delete(h.prices.tops, "a")
	h.tick()
	assert.Equal(t, StateIdle, ms.state)

	h.now = h.now.Add(25 * time.Second)
	h.tick()
	assert.Equal(t, StateDeactivating, ms.state)
	assert.Equal(t, "no_prices", ms.deactivateReason)
}

func TestExitSpreadTooSmallAfterGrace(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.now = h.now.Add(35 * time.Second)

	// MinSpreadCents is 3; a 2-cent spread no longer pays.
	h.prices.setTop("a", 0.48, 0.50, h.now)
	h.tick()
	assert.Equal(t, StateDeactivating, ms.state)
	assert.Equal(t, "spread_too_small", ms.deactivateReason)
}

func TestDeactivationCancelsBuyAndRemoves(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	require.Equal(t, StateWaitBuyFill, ms.state)

	h.mk.deactivate(ms, "no_prices", h.now)

	// Tick one: cancel the resting buy and release risk.
	h.tick()
	require.Len(t, h.exchange.cancelled, 1)
	assert.Zero(t, h.mk.risk.TotalNotional())

	// Tick two: flat and orderless, the market is removed.
	h.tick()
	assert.NotContains(t, h.mk.markets, domain.AssetID("a"))
	assert.Contains(t, h.prices.unsubscribed, domain.AssetID("a"))
	assert.Contains(t, h.events.unwatched, domain.ConditionID("cond-a"))
}

func TestDeactivationLiquidatesPosition(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})

	h.mk.deactivate(ms, "spread_too_small", h.now)

	// Holding shares with no order: a liquidation sell goes to the ask.
	h.tick()
	sell, ok := h.mk.orders.Active("a")
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, 0.50, sell.Price)

	// Liquidation fills; the market leaves on the next tick.
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: sell.OrderID, Asset: "a", Side: domain.SideSell,
		Price: 0.50, Size: 5, Timestamp: h.now,
	})
	h.tick()
	assert.NotContains(t, h.mk.markets, domain.AssetID("a"))
}

func TestDeactivationRequotesStaleSell(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	buy, _ := h.mk.orders.Active("a")
	h.mk.handleFill(context.Background(), domain.Fill{
		OrderID: buy.OrderID, Asset: "a", Side: domain.SideBuy,
		Price: 0.46, Size: 5, Timestamp: h.now,
	})
	h.tick()
	require.Equal(t, StateAskChase, ms.state)
	sell, _ := h.mk.orders.Active("a")
	require.Equal(t, 0.50, sell.Price)

	// The ask walks away, then the market deactivates: the old sell
	// must not be left resting at an unreachable price.
	h.prices.setTop("a", 0.46, 0.55, h.now)
	h.mk.deactivate(ms, "spread_too_small", h.now)
	h.tick()

	assert.Contains(t, h.exchange.cancelled, sell.OrderID)
	fresh, ok := h.mk.orders.Active("a")
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, fresh.Side)
	assert.Equal(t, 0.55, fresh.Price)

	// Once re-quoted, the liquidation sell stays put.
	h.prices.setTop("a", 0.46, 0.60, h.now)
	h.tick()
	assert.Len(t, h.exchange.cancelled, 1)
	still, _ := h.mk.orders.Active("a")
	assert.Equal(t, fresh.OrderID, still.OrderID)
}

// ---- Reconciliation ----

func TestReconcileCancelsUnknownVenueOrders(t *testing.T) {
	h := newHarness(t)
	h.addMarket("a", 0.46, 0.50)
	h.tick()
	local, _ := h.mk.orders.Active("a")

	h.venue.open = []domain.OpenOrder{
		{OrderID: local.OrderID, Asset: "a", Side: domain.SideBuy, Price: 0.46, Size: 5},
		{OrderID: "ghost", Asset: "b", Side: domain.SideBuy, Price: 0.30, Size: 5},
	}
	h.mk.reconcile(context.Background())

	assert.Equal(t, []string{"ghost"}, h.venue.cancelled)
	_, ok := h.mk.orders.Active("a")
	assert.True(t, ok, "known order untouched")
}

func TestReconcileReleasesOrdersGoneOnVenue(t *testing.T) {
	h := newHarness(t)
	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()

	// The venue lost our buy (settlement, manual cancel). Treat it like
	// an external cancellation.
	h.venue.open = nil
	h.mk.reconcile(context.Background())

	_, ok := h.mk.orders.Active("a")
	assert.False(t, ok)
	assert.Equal(t, StateIdle, ms.state)
	assert.Zero(t, h.mk.risk.TotalNotional())
}

// ---- Risk integration ----

func TestRiskDenialKeepsIdle(t *testing.T) {
	h := newHarness(t)
	cfg := h.mk.cfg
	cfg.Sizing.MinExpectedProfitUSDC = 10 // unreachable

	rm := risk.NewManager(cfg.Sizing, cfg.Risk, slog.New(slog.DiscardHandler))
	h.mk.risk = rm

	ms := h.addMarket("a", 0.46, 0.50)
	h.tick()
	assert.Equal(t, StateIdle, ms.state)
	assert.Empty(t, h.exchange.placed)
}
