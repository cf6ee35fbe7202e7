package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketloop/spreadbot/internal/domain"
)

const (
	// resubscribeDebounce coalesces bursts of subscription changes into
	// one MARKET subscribe frame.
	resubscribeDebounce = 75 * time.Millisecond

	// defaultTickSize applies until the venue announces one.
	defaultTickSize = 0.01

	// updatesBuffer bounds the update notification channel. A full
	// buffer drops notifications, never blocks the read loop.
	updatesBuffer = 1024
)

// MarketFeed consumes the public market channel: full book snapshots,
// incremental price changes, and tick size changes. It maintains a
// per-asset depth book and a validated top-of-book cache, and notifies
// listeners which asset moved.
type MarketFeed struct {
	tr     *transport
	logger *slog.Logger

	mu         sync.RWMutex
	books      map[domain.AssetID]*bookState
	tops       map[domain.AssetID]domain.TopOfBook
	tickSizes  map[domain.AssetID]float64
	subscribed map[domain.AssetID]struct{}
	resubTimer *time.Timer

	updates chan domain.AssetID
	dropped int64
}

// bookState is the mutable full-depth book for one asset.
type bookState struct {
	bids map[float64]float64
	asks map[float64]float64
}

// NewMarketFeed creates a feed for the market WebSocket endpoint.
func NewMarketFeed(wsURL string, logger *slog.Logger) *MarketFeed {
	mf := &MarketFeed{
		logger:     logger.With(slog.String("component", "feed/market")),
		books:      make(map[domain.AssetID]*bookState),
		tops:       make(map[domain.AssetID]domain.TopOfBook),
		tickSizes:  make(map[domain.AssetID]float64),
		subscribed: make(map[domain.AssetID]struct{}),
		updates:    make(chan domain.AssetID, updatesBuffer),
	}
	mf.tr = newTransport(wsURL, "market", logger)
	mf.tr.onFrame = mf.handleFrame
	mf.tr.onConnect = mf.restoreSubscriptions
	return mf
}

// Run pumps the feed until ctx is cancelled or the transport's
// reconnect budget is exhausted.
func (mf *MarketFeed) Run(ctx context.Context) error {
	return mf.tr.Run(ctx)
}

// Updates delivers the asset id of every accepted top-of-book change.
// The channel is bounded; overflow is dropped with a warning.
func (mf *MarketFeed) Updates() <-chan domain.AssetID {
	return mf.updates
}

// Subscribe adds assets to the subscription set. The actual subscribe
// frame is debounced so a burst of additions becomes one frame.
func (mf *MarketFeed) Subscribe(assets ...domain.AssetID) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	for _, a := range assets {
		mf.subscribed[a] = struct{}{}
	}
	mf.scheduleResubscribe()
}

// Unsubscribe removes assets from the subscription set and drops their
// cached books.
func (mf *MarketFeed) Unsubscribe(assets ...domain.AssetID) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	for _, a := range assets {
		delete(mf.subscribed, a)
		delete(mf.books, a)
		delete(mf.tops, a)
		delete(mf.tickSizes, a)
	}
	mf.scheduleResubscribe()
}

// Top returns the last accepted top-of-book for asset.
func (mf *MarketFeed) Top(asset domain.AssetID) (domain.TopOfBook, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	top, ok := mf.tops[asset]
	return top, ok
}

// TickSize returns the venue tick for asset, defaulting until announced.
func (mf *MarketFeed) TickSize(asset domain.AssetID) float64 {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	if ts, ok := mf.tickSizes[asset]; ok && ts > 0 {
		return ts
	}
	return defaultTickSize
}

// Snapshot returns a best-first depth snapshot built from the feed's
// book state, false when no book has been received yet.
func (mf *MarketFeed) Snapshot(asset domain.AssetID) (domain.OrderbookSnapshot, bool) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	book, ok := mf.books[asset]
	if !ok {
		return domain.OrderbookSnapshot{}, false
	}
	snap := domain.OrderbookSnapshot{
		Asset:     asset,
		Bids:      levelsOf(book.bids),
		Asks:      levelsOf(book.asks),
		Timestamp: mf.tops[asset].UpdatedAt,
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap, true
}

// LastUpdate returns when asset's top-of-book last changed, zero when
// no valid update has been seen.
func (mf *MarketFeed) LastUpdate(asset domain.AssetID) time.Time {
	mf.mu.RLock()
	defer mf.mu.RUnlock()
	return mf.tops[asset].UpdatedAt
}

// ---- Wire messages ----

type wsSubscribe struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type wsEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBook struct {
	AssetID   string    `json:"asset_id"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Timestamp string    `json:"timestamp"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Changes []struct {
		Price string `json:"price"`
		Side  string `json:"side"`
		Size  string `json:"size"`
	} `json:"changes"`
	// Flat form for unbatched frames.
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

type wsTickSizeChange struct {
	AssetID     string `json:"asset_id"`
	NewTickSize string `json:"new_tick_size"`
}

// ---- Internal helpers ----

// scheduleResubscribe (re)arms the debounce timer. Caller holds mf.mu.
func (mf *MarketFeed) scheduleResubscribe() {
	if mf.resubTimer != nil {
		mf.resubTimer.Stop()
	}
	mf.resubTimer = time.AfterFunc(resubscribeDebounce, mf.sendSubscribe)
}

// sendSubscribe pushes the full current asset set in one MARKET frame.
// A send failure is tolerated: the post-connect hook replays the set
// after the transport redials.
func (mf *MarketFeed) sendSubscribe() {
	mf.mu.RLock()
	assets := make([]string, 0, len(mf.subscribed))
	for a := range mf.subscribed {
		assets = append(assets, string(a))
	}
	mf.mu.RUnlock()

	if len(assets) == 0 {
		return
	}
	sort.Strings(assets)

	frame, err := json.Marshal(wsSubscribe{Type: "MARKET", AssetsIDs: assets})
	if err != nil {
		return
	}
	if err := mf.tr.Send(frame); err != nil {
		mf.logger.Warn("subscribe send failed", slog.Any("error", err))
		return
	}
	mf.logger.Debug("subscribed", slog.Int("assets", len(assets)))
}

// restoreSubscriptions replays the subscription set on a fresh
// connection.
func (mf *MarketFeed) restoreSubscriptions(conn *websocket.Conn) error {
	mf.sendSubscribe()
	return nil
}

// handleFrame decodes one WebSocket frame. Frames arrive either as a
// JSON array of events or as a single event object.
func (mf *MarketFeed) handleFrame(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}
	for _, ev := range batch {
		mf.handleEvent(ev)
	}
}

func (mf *MarketFeed) handleEvent(raw json.RawMessage) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.EventType {
	case "book":
		var book wsBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		mf.applyBook(&book)

	case "price_change":
		var pc wsPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		mf.applyPriceChange(&pc)

	case "tick_size_change":
		var tc wsTickSizeChange
		if err := json.Unmarshal(raw, &tc); err != nil {
			return
		}
		mf.applyTickSizeChange(&tc)
	}
}

func (mf *MarketFeed) applyBook(book *wsBook) {
	asset := domain.AssetID(book.AssetID)

	state := &bookState{
		bids: make(map[float64]float64, len(book.Bids)),
		asks: make(map[float64]float64, len(book.Asks)),
	}
	for _, lvl := range book.Bids {
		if p, s, ok := parseLevel(lvl.Price, lvl.Size); ok && s > 0 {
			state.bids[p] = s
		}
	}
	for _, lvl := range book.Asks {
		if p, s, ok := parseLevel(lvl.Price, lvl.Size); ok && s > 0 {
			state.asks[p] = s
		}
	}

	mf.mu.Lock()
	if _, watching := mf.subscribed[asset]; !watching {
		mf.mu.Unlock()
		return
	}
	mf.books[asset] = state
	changed := mf.refreshTopLocked(asset)
	mf.mu.Unlock()

	if changed {
		mf.notify(asset)
	}
}

func (mf *MarketFeed) applyPriceChange(pc *wsPriceChange) {
	asset := domain.AssetID(pc.AssetID)

	mf.mu.Lock()
	book, ok := mf.books[asset]
	if !ok {
		// Deltas before the initial snapshot carry no usable state.
		mf.mu.Unlock()
		return
	}

	apply := func(side, price, size string) {
		p, s, valid := parseLevel(price, size)
		if !valid {
			return
		}
		levels := book.bids
		if side == string(domain.SideSell) {
			levels = book.asks
		}
		if s <= 0 {
			delete(levels, p)
		} else {
			levels[p] = s
		}
	}

	if len(pc.Changes) > 0 {
		for _, ch := range pc.Changes {
			apply(ch.Side, ch.Price, ch.Size)
		}
	} else {
		apply(pc.Side, pc.Price, pc.Size)
	}

	changed := mf.refreshTopLocked(asset)
	mf.mu.Unlock()

	if changed {
		mf.notify(asset)
	}
}

func (mf *MarketFeed) applyTickSizeChange(tc *wsTickSizeChange) {
	ts, err := strconv.ParseFloat(tc.NewTickSize, 64)
	if err != nil || ts <= 0 {
		return
	}
	asset := domain.AssetID(tc.AssetID)

	mf.mu.Lock()
	mf.tickSizes[asset] = ts
	mf.mu.Unlock()

	mf.logger.Info("tick size changed",
		slog.String("asset", string(asset)),
		slog.Float64("tick_size", ts))
	mf.notify(asset)
}

// refreshTopLocked recomputes the top-of-book from the depth state and
// stores it only when it satisfies the book invariant: 0 < bid < ask
// <= 1 and spread within bounds. Invalid quotes leave the previous top
// in place. Caller holds mf.mu. Reports whether the cache changed.
func (mf *MarketFeed) refreshTopLocked(asset domain.AssetID) bool {
	book, ok := mf.books[asset]
	if !ok {
		return false
	}

	var bestBid, bestAsk float64
	for p := range book.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range book.asks {
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}

	top := domain.TopOfBook{
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		TickSize:  mf.tickSizes[asset],
		UpdatedAt: time.Now(),
	}
	if !top.Valid() {
		mf.logger.Debug("dropping invalid quote",
			slog.String("asset", string(asset)),
			slog.Float64("bid", bestBid),
			slog.Float64("ask", bestAsk))
		return false
	}

	prev := mf.tops[asset]
	mf.tops[asset] = top
	return prev.BestBid != top.BestBid || prev.BestAsk != top.BestAsk || prev.UpdatedAt.IsZero()
}

// notify delivers an update without ever blocking the read loop.
func (mf *MarketFeed) notify(asset domain.AssetID) {
	select {
	case mf.updates <- asset:
	default:
		mf.mu.Lock()
		mf.dropped++
		n := mf.dropped
		mf.mu.Unlock()
		if n == 1 || n%100 == 0 {
			mf.logger.Warn("update channel full, dropping",
				slog.String("asset", string(asset)),
				slog.Int64("dropped_total", n))
		}
	}
}

func parseLevel(price, size string) (float64, float64, bool) {
	p, errP := strconv.ParseFloat(price, 64)
	s, errS := strconv.ParseFloat(size, 64)
	if errP != nil || errS != nil || p <= 0 {
		return 0, 0, false
	}
	return p, s, true
}

func levelsOf(m map[float64]float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for p, s := range m {
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}
