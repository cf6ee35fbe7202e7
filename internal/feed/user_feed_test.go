package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/spreadbot/internal/crypto"
	"github.com/marketloop/spreadbot/internal/domain"
)

func newTestUserFeed() *UserFeed {
	auth := &crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	return NewUserFeed("wss://example.invalid/ws/user", "0xabc", auth, discardLogger())
}

func TestTradeEmitsMakerFills(t *testing.T) {
	uf := newTestUserFeed()
	uf.handleFrame([]byte(`[{"event_type":"trade","id":"t1","asset_id":"111",` +
		`"status":"MATCHED","timestamp":"1700000000000",` +
		`"maker_orders":[{"order_id":"ord-1","asset_id":"111","matched_amount":"5","price":"0.46","side":"BUY"}]}]`))

	select {
	case fill := <-uf.Fills():
		assert.Equal(t, "ord-1", fill.OrderID)
		assert.Equal(t, domain.AssetID("111"), fill.Asset)
		assert.Equal(t, domain.SideBuy, fill.Side)
		assert.Equal(t, 0.46, fill.Price)
		assert.Equal(t, 5.0, fill.Size)
	default:
		t.Fatal("expected a fill")
	}
}

func TestTradeStatusUpdatesNotDoubleCounted(t *testing.T) {
	uf := newTestUserFeed()
	frame := []byte(`{"event_type":"trade","id":"t1","asset_id":"111","status":"MATCHED",` +
		`"maker_orders":[{"order_id":"ord-1","matched_amount":"5","price":"0.46","side":"BUY"}]}`)
	uf.handleFrame(frame)
	uf.handleFrame(frame)
	uf.handleFrame([]byte(`{"event_type":"trade","id":"t1","asset_id":"111","status":"CONFIRMED",` +
		`"maker_orders":[{"order_id":"ord-1","matched_amount":"5","price":"0.46","side":"BUY"}]}`))

	assert.Len(t, uf.fills, 1)
}

func TestTradeUnbatchedForm(t *testing.T) {
	uf := newTestUserFeed()
	uf.handleFrame([]byte(`{"event_type":"trade","id":"t2","asset_id":"222",` +
		`"side":"SELL","price":"0.52","size":"3","status":"MATCHED"}`))

	require.Len(t, uf.fills, 1)
	fill := <-uf.Fills()
	assert.Equal(t, domain.SideSell, fill.Side)
	assert.Equal(t, 3.0, fill.Size)
}

func TestTradeZeroSizeIgnored(t *testing.T) {
	uf := newTestUserFeed()
	uf.handleFrame([]byte(`{"event_type":"trade","id":"t3","asset_id":"111","status":"MATCHED",` +
		`"maker_orders":[{"order_id":"ord-1","matched_amount":"0","price":"0.46","side":"BUY"}]}`))
	assert.Empty(t, uf.fills)
}

func TestOrderEventMapping(t *testing.T) {
	uf := newTestUserFeed()
	uf.handleFrame([]byte(`[{"event_type":"order","id":"ord-1","asset_id":"111","status":"LIVE","type":"PLACEMENT"},` +
		`{"event_type":"order","id":"ord-1","asset_id":"111","status":"CANCELLED","type":"CANCELLATION"}]`))

	require.Len(t, uf.orderEvents, 2)
	ev := <-uf.OrderEvents()
	assert.Equal(t, domain.OrderStatusLive, ev.Status)
	ev = <-uf.OrderEvents()
	assert.Equal(t, domain.OrderStatusCancelled, ev.Status)
}

func TestOrderEventUnknownStatusIgnored(t *testing.T) {
	uf := newTestUserFeed()
	uf.handleFrame([]byte(`{"event_type":"order","id":"ord-1","asset_id":"111","status":"DELAYED","type":"UPDATE"}`))
	assert.Empty(t, uf.orderEvents)
}
