package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/platform/polymarket"
)

type fakeVenue struct {
	placeResult domain.OrderResult
	placeErr    error
	cancelErr   error

	placed    []polymarket.PlaceOrderParams
	cancelled []string
	seq       int
}

func (f *fakeVenue) PlaceOrder(_ context.Context, p polymarket.PlaceOrderParams) (domain.OrderResult, error) {
	f.placed = append(f.placed, p)
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	if f.placeResult.OrderID == "" && f.placeResult.Success {
		f.seq++
		return domain.OrderResult{Success: true, OrderID: fmt.Sprintf("ord-%d", f.seq)}, nil
	}
	return f.placeResult, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func testOrdersConfig() config.OrdersConfig {
	return config.OrdersConfig{
		OrderTTLMS:          45_000,
		ReplacePriceTicks:   1,
		AskChaseWindowSec:   20,
		AskChaseMaxReplaces: 3,
	}
}

func newTestManager(venue *fakeVenue) (*Manager, *time.Time) {
	m := NewManager(testOrdersConfig(), venue, false, slog.New(slog.DiscardHandler))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestPlaceBuyTracksOrder(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	o, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, o.Side)

	got, ok := m.Active("a")
	require.True(t, ok)
	assert.Equal(t, o.OrderID, got.OrderID)
}

func TestSingleOrderLock(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)
	_, err = m.PlaceSell(context.Background(), "a", 0.46, 0.50, 5)
	require.ErrorIs(t, err, domain.ErrOrderExists)
	assert.Len(t, venue.placed, 1)
}

func TestPlaceRejectsCrossedBook(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.50, 0.50, 5)
	require.ErrorIs(t, err, domain.ErrWouldCross)
	_, err = m.PlaceSell(context.Background(), "a", 0.51, 0.50, 5)
	require.ErrorIs(t, err, domain.ErrWouldCross)
	assert.Empty(t, venue.placed)
}

func TestPlaceRejectionIsError(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: false, Message: "nope"}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.Error(t, err)
	_, ok := m.Active("a")
	assert.False(t, ok)
}

func TestDryRunSyntheticIDs(t *testing.T) {
	venue := &fakeVenue{}
	m := NewManager(testOrdersConfig(), venue, true, slog.New(slog.DiscardHandler))

	o, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(o.OrderID, "dry-"))
	assert.Empty(t, venue.placed)

	require.NoError(t, m.Cancel(context.Background(), "a"))
	assert.Empty(t, venue.cancelled)
}

func TestShouldReplaceTTL(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, now := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	assert.False(t, m.ShouldReplace("a", 0.46, 0.01))
	*now = now.Add(45 * time.Second)
	assert.True(t, m.ShouldReplace("a", 0.46, 0.01))
}

func TestShouldReplaceDrift(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	assert.False(t, m.ShouldReplace("a", 0.465, 0.01), "half a tick is not drift")
	assert.True(t, m.ShouldReplace("a", 0.47, 0.01), "one full tick is")
	assert.False(t, m.ShouldReplace("missing", 0.47, 0.01))
}

func TestReplaceCancelsThenPlaces(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	old, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	fresh, err := m.Replace(context.Background(), "a", 0.47)
	require.NoError(t, err)
	assert.Equal(t, []string{old.OrderID}, venue.cancelled)
	assert.Equal(t, 0.47, fresh.Price)
	assert.Equal(t, old.Side, fresh.Side)
	assert.Equal(t, old.Size, fresh.Size)
}

func TestReplaceOrderAlreadyGone(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	// The cancel races a fill: the venue no longer knows the order.
	venue.cancelErr = fmt.Errorf("gone: %w", domain.ErrNotFound)
	_, err = m.Replace(context.Background(), "a", 0.47)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing new was placed and the slot is free.
	assert.Len(t, venue.placed, 1)
	_, ok := m.Active("a")
	assert.False(t, ok)
}

func TestReplacePlaceFailureLeavesNoOrder(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	venue.placeResult = domain.OrderResult{Success: false, Message: "rejected"}
	_, err = m.Replace(context.Background(), "a", 0.47)
	require.Error(t, err)
	_, ok := m.Active("a")
	assert.False(t, ok)
}

func TestCancelClearsEvenWhenGone(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	_, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	venue.cancelErr = fmt.Errorf("gone: %w", domain.ErrNotFound)
	err = m.Cancel(context.Background(), "a")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, ok := m.Active("a")
	assert.False(t, ok)
}

func TestReleaseByOrderID(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, _ := newTestManager(venue)

	o, err := m.PlaceBuy(context.Background(), "a", 0.46, 0.50, 5)
	require.NoError(t, err)

	got, ok := m.Release(o.OrderID)
	require.True(t, ok)
	assert.Equal(t, o.OrderID, got.OrderID)

	_, ok = m.Release("unknown")
	assert.False(t, ok)
}

func TestChaseBudget(t *testing.T) {
	venue := &fakeVenue{placeResult: domain.OrderResult{Success: true}}
	m, now := newTestManager(venue)

	assert.True(t, m.ChaseExhausted("a"), "no open chase")

	m.StartChase("a")
	assert.False(t, m.ChaseExhausted("a"))

	m.RecordChaseReplace("a")
	m.RecordChaseReplace("a")
	m.RecordChaseReplace("a")
	assert.True(t, m.ChaseExhausted("a"), "replace budget spent")

	m.StartChase("a")
	*now = now.Add(20 * time.Second)
	assert.True(t, m.ChaseExhausted("a"), "window elapsed")

	m.EndChase("a")
	assert.True(t, m.ChaseExhausted("a"))
}
