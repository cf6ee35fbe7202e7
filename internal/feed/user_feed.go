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

	"github.com/marketloop/spreadbot/internal/crypto"
	"github.com/marketloop/spreadbot/internal/domain"
)

const (
	fillsBuffer  = 256
	ordersBuffer = 256
)

// UserFeed consumes the authenticated user channel: fill notifications
// and order lifecycle events for the account's own orders. Events are
// delivered on bounded channels; overflow is dropped with a warning
// and repaired later by reconciliation.
type UserFeed struct {
	tr      *transport
	logger  *slog.Logger
	auth    *crypto.HMACAuth
	address string

	mu      sync.Mutex
	markets map[domain.ConditionID]struct{}
	// seenTrades filters the repeated status updates the venue sends
	// for one trade so each fill is emitted once.
	seenTrades map[string]struct{}

	fills       chan domain.Fill
	orderEvents chan domain.OrderStatusEvent
	dropped     int64
}

// NewUserFeed creates a feed for the user WebSocket endpoint. address
// is the funder address the credentials belong to.
func NewUserFeed(wsURL, address string, auth *crypto.HMACAuth, logger *slog.Logger) *UserFeed {
	uf := &UserFeed{
		logger:      logger.With(slog.String("component", "feed/user")),
		auth:        auth,
		address:     address,
		markets:     make(map[domain.ConditionID]struct{}),
		seenTrades:  make(map[string]struct{}),
		fills:       make(chan domain.Fill, fillsBuffer),
		orderEvents: make(chan domain.OrderStatusEvent, ordersBuffer),
	}
	uf.tr = newTransport(wsURL, "user", logger)
	uf.tr.onFrame = uf.handleFrame
	uf.tr.onConnect = uf.subscribe
	return uf
}

// Run pumps the feed until ctx is cancelled or the transport's
// reconnect budget is exhausted.
func (uf *UserFeed) Run(ctx context.Context) error {
	return uf.tr.Run(ctx)
}

// Fills delivers one event per fill of the account's orders.
func (uf *UserFeed) Fills() <-chan domain.Fill {
	return uf.fills
}

// OrderEvents delivers order lifecycle transitions.
func (uf *UserFeed) OrderEvents() <-chan domain.OrderStatusEvent {
	return uf.orderEvents
}

// Watch adds markets to the user subscription and resubscribes.
func (uf *UserFeed) Watch(conditions ...domain.ConditionID) {
	uf.mu.Lock()
	for _, c := range conditions {
		uf.markets[c] = struct{}{}
	}
	uf.mu.Unlock()
	uf.sendSubscribe()
}

// Unwatch removes markets from the user subscription.
func (uf *UserFeed) Unwatch(conditions ...domain.ConditionID) {
	uf.mu.Lock()
	for _, c := range conditions {
		delete(uf.markets, c)
	}
	uf.mu.Unlock()
	uf.sendSubscribe()
}

// ---- Wire messages ----

type wsUserSubscribe struct {
	Type    string         `json:"type"`
	Markets []string       `json:"markets"`
	Auth    crypto.WSAuth  `json:"auth"`
}

type wsUserTrade struct {
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	MakerOrders []struct {
		OrderID       string `json:"order_id"`
		AssetID       string `json:"asset_id"`
		MatchedAmount string `json:"matched_amount"`
		Price         string `json:"price"`
		Side          string `json:"side"`
	} `json:"maker_orders"`
}

type wsUserOrder struct {
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ---- Internal helpers ----

func (uf *UserFeed) subscribe(conn *websocket.Conn) error {
	uf.sendSubscribe()
	return nil
}

func (uf *UserFeed) sendSubscribe() {
	uf.mu.Lock()
	markets := make([]string, 0, len(uf.markets))
	for c := range uf.markets {
		markets = append(markets, string(c))
	}
	uf.mu.Unlock()
	sort.Strings(markets)

	frame, err := json.Marshal(wsUserSubscribe{
		Type:    "USER",
		Markets: markets,
		Auth:    uf.auth.WSUserAuth(uf.address),
	})
	if err != nil {
		return
	}
	if err := uf.tr.Send(frame); err != nil {
		uf.logger.Warn("subscribe send failed", slog.Any("error", err))
	}
}

func (uf *UserFeed) handleFrame(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}
	for _, ev := range batch {
		uf.handleEvent(ev)
	}
}

func (uf *UserFeed) handleEvent(raw json.RawMessage) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.EventType {
	case "trade":
		var trade wsUserTrade
		if err := json.Unmarshal(raw, &trade); err != nil {
			return
		}
		uf.handleTrade(&trade)

	case "order":
		var order wsUserOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			return
		}
		uf.handleOrder(&order)
	}
}

// handleTrade emits one Fill per maker order in a freshly matched
// trade. Later status updates for the same trade id (mined, confirmed)
// are ignored.
func (uf *UserFeed) handleTrade(trade *wsUserTrade) {
	if trade.Status != "" && trade.Status != "MATCHED" {
		return
	}

	uf.mu.Lock()
	if _, seen := uf.seenTrades[trade.ID]; seen {
		uf.mu.Unlock()
		return
	}
	uf.seenTrades[trade.ID] = struct{}{}
	// The seen set only needs to cover the venue's resend window.
	if len(uf.seenTrades) > 10_000 {
		uf.seenTrades = map[string]struct{}{trade.ID: {}}
	}
	uf.mu.Unlock()

	ts := parseWSTime(trade.Timestamp)

	if len(trade.MakerOrders) == 0 {
		// Unbatched form: the top-level fields describe our fill.
		uf.emitFill(domain.Fill{
			OrderID:   trade.ID,
			Asset:     domain.AssetID(trade.AssetID),
			Side:      domain.Side(trade.Side),
			Price:     parseFloat(trade.Price),
			Size:      parseFloat(trade.Size),
			Timestamp: ts,
		})
		return
	}

	for _, mo := range trade.MakerOrders {
		asset := mo.AssetID
		if asset == "" {
			asset = trade.AssetID
		}
		uf.emitFill(domain.Fill{
			OrderID:   mo.OrderID,
			Asset:     domain.AssetID(asset),
			Side:      domain.Side(mo.Side),
			Price:     parseFloat(mo.Price),
			Size:      parseFloat(mo.MatchedAmount),
			Timestamp: ts,
		})
	}
}

func (uf *UserFeed) handleOrder(order *wsUserOrder) {
	var status domain.OrderStatus
	switch order.Status {
	case "LIVE":
		status = domain.OrderStatusLive
	case "MATCHED":
		status = domain.OrderStatusMatched
	case "CANCELLED", "CANCELED":
		status = domain.OrderStatusCancelled
	default:
		if order.Type == "CANCELLATION" {
			status = domain.OrderStatusCancelled
		} else {
			return
		}
	}

	ev := domain.OrderStatusEvent{
		OrderID:   order.ID,
		Asset:     domain.AssetID(order.AssetID),
		Status:    status,
		Timestamp: parseWSTime(order.Timestamp),
	}
	select {
	case uf.orderEvents <- ev:
	default:
		uf.warnDrop("order event")
	}
}

func (uf *UserFeed) emitFill(fill domain.Fill) {
	if fill.Size <= 0 {
		return
	}
	select {
	case uf.fills <- fill:
	default:
		uf.warnDrop("fill")
	}
}

func (uf *UserFeed) warnDrop(kind string) {
	uf.mu.Lock()
	uf.dropped++
	n := uf.dropped
	uf.mu.Unlock()
	uf.logger.Warn("event channel full, dropping",
		slog.String("kind", kind),
		slog.Int64("dropped_total", n))
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseWSTime accepts Unix milliseconds, Unix seconds, or RFC3339.
func parseWSTime(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
