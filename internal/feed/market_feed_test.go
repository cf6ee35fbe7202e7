package feed

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/spreadbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestMarketFeed() *MarketFeed {
	mf := NewMarketFeed("wss://example.invalid/ws/market", discardLogger())
	mf.subscribed["111"] = struct{}{}
	return mf
}

func bookFrame(asset string, bids, asks []wsLevel) []byte {
	return []byte(`[{"event_type":"book","asset_id":"` + asset + `",` +
		`"bids":` + levelsJSON(bids) + `,"asks":` + levelsJSON(asks) + `}]`)
}

func levelsJSON(levels []wsLevel) string {
	out := "["
	for i, l := range levels {
		if i > 0 {
			out += ","
		}
		out += `{"price":"` + l.Price + `","size":"` + l.Size + `"}`
	}
	return out + "]"
}

func TestBookSnapshotSetsTop(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.44", "10"}, {"0.46", "5"}},
		[]wsLevel{{"0.50", "8"}, {"0.52", "2"}}))

	top, ok := mf.Top("111")
	require.True(t, ok)
	assert.Equal(t, 0.46, top.BestBid)
	assert.Equal(t, 0.50, top.BestAsk)

	select {
	case asset := <-mf.Updates():
		assert.Equal(t, domain.AssetID("111"), asset)
	default:
		t.Fatal("expected an update notification")
	}
}

func TestBookForUnsubscribedAssetIgnored(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("999",
		[]wsLevel{{"0.40", "1"}}, []wsLevel{{"0.45", "1"}}))

	_, ok := mf.Top("999")
	assert.False(t, ok)
}

func TestInvalidQuoteKeepsPreviousTop(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.46", "5"}}, []wsLevel{{"0.50", "8"}}))

	// Spread wider than the sanity bound must be dropped.
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.10", "5"}}, []wsLevel{{"0.90", "8"}}))

	top, ok := mf.Top("111")
	require.True(t, ok)
	assert.Equal(t, 0.46, top.BestBid)
	assert.Equal(t, 0.50, top.BestAsk)
}

func TestCrossedQuoteDropped(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.50", "5"}}, []wsLevel{{"0.50", "8"}}))

	_, ok := mf.Top("111")
	assert.False(t, ok)
}

func TestPriceChangeUpdatesTop(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.46", "5"}}, []wsLevel{{"0.50", "8"}}))
	drainUpdates(mf)

	// New best bid appears.
	mf.handleFrame([]byte(`[{"event_type":"price_change","asset_id":"111",` +
		`"changes":[{"price":"0.47","side":"BUY","size":"3"}]}]`))

	top, _ := mf.Top("111")
	assert.Equal(t, 0.47, top.BestBid)

	// Best ask removed, next level takes over.
	mf.handleFrame([]byte(`[{"event_type":"price_change","asset_id":"111",` +
		`"changes":[{"price":"0.50","side":"SELL","size":"0"},{"price":"0.51","side":"SELL","size":"4"}]}]`))

	top, _ = mf.Top("111")
	assert.Equal(t, 0.51, top.BestAsk)
}

func TestPriceChangeBeforeBookIgnored(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame([]byte(`[{"event_type":"price_change","asset_id":"111",` +
		`"changes":[{"price":"0.47","side":"BUY","size":"3"}]}]`))

	_, ok := mf.Top("111")
	assert.False(t, ok)
}

func TestTickSizeChange(t *testing.T) {
	mf := newTestMarketFeed()
	assert.Equal(t, defaultTickSize, mf.TickSize("111"))

	mf.handleFrame([]byte(`[{"event_type":"tick_size_change","asset_id":"111","new_tick_size":"0.001"}]`))
	assert.Equal(t, 0.001, mf.TickSize("111"))
}

func TestSnapshotBestFirst(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.44", "10"}, {"0.46", "5"}},
		[]wsLevel{{"0.52", "2"}, {"0.50", "8"}}))

	snap, ok := mf.Snapshot("111")
	require.True(t, ok)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, 0.46, snap.Bids[0].Price)
	assert.Equal(t, 0.50, snap.Asks[0].Price)
}

func TestUnsubscribeDropsState(t *testing.T) {
	mf := newTestMarketFeed()
	mf.handleFrame(bookFrame("111",
		[]wsLevel{{"0.46", "5"}}, []wsLevel{{"0.50", "8"}}))

	mf.Unsubscribe("111")
	_, ok := mf.Top("111")
	assert.False(t, ok)
	_, ok = mf.Snapshot("111")
	assert.False(t, ok)
}

func TestUpdatesChannelDropsWhenFull(t *testing.T) {
	mf := newTestMarketFeed()
	for i := 0; i < updatesBuffer+10; i++ {
		mf.notify("111")
	}
	assert.Equal(t, updatesBuffer, len(mf.updates))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(1))
	assert.Equal(t, 2*time.Second, backoffDelay(2))
	assert.Equal(t, 16*time.Second, backoffDelay(5))
	assert.Equal(t, 30*time.Second, backoffDelay(6))
	assert.Equal(t, 30*time.Second, backoffDelay(10))
}

func drainUpdates(mf *MarketFeed) {
	for {
		select {
		case <-mf.Updates():
		default:
			return
		}
	}
}
