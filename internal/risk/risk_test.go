package risk

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
)

func newTestManager() *Manager {
	return NewManager(
		config.SizingConfig{
			MinNotionalPerOrderUSDC: 1,
			MinExpectedProfitUSDC:   0.02,
			MinSizeShares:           5,
		},
		config.RiskConfig{
			MaxSharesPerMarket:    20,
			MaxUSDCPerMarket:      10,
			MaxNotionalAtRiskUSDC: 15,
		},
		slog.New(slog.DiscardHandler),
	)
}

func denyReason(t *testing.T, err error) string {
	t.Helper()
	var d *Denial
	require.True(t, errors.As(err, &d), "expected a *Denial, got %v", err)
	return d.Reason
}

func TestCanPlaceBuyAllows(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.CanPlaceBuy("a", 0.46, 5, 0.04))
}

func TestDenialOrdering(t *testing.T) {
	m := newTestManager()

	// A tiny order trips every floor; min_notional must win.
	err := m.CanPlaceBuy("a", 0.10, 1, 0.001)
	assert.Equal(t, DenyMinNotional, denyReason(t, err))

	// Enough notional but spread too thin.
	err = m.CanPlaceBuy("a", 0.50, 4, 0.001)
	assert.Equal(t, DenyExpectedProfitLow, denyReason(t, err))

	// Profitable enough but under the share floor.
	err = m.CanPlaceBuy("a", 0.50, 4, 0.01)
	assert.Equal(t, DenyMinSize, denyReason(t, err))
}

func TestExpectedProfitScalesWithPrice(t *testing.T) {
	m := newTestManager()

	// Spread times size alone (0.05) would clear the 0.02 floor, but
	// the profit is earned on notional: 0.01 * 5 * 0.30 = 0.015.
	err := m.CanPlaceBuy("a", 0.30, 5, 0.01)
	assert.Equal(t, DenyExpectedProfitLow, denyReason(t, err))

	// The same spread at a higher price clears the floor.
	require.NoError(t, m.CanPlaceBuy("a", 0.45, 5, 0.01))
}

func TestMinNotionalTolerance(t *testing.T) {
	m := newTestManager()
	// 0.995 of the 1 USDC floor passes; just below it does not.
	require.NoError(t, m.CanPlaceBuy("a", 0.199, 5, 0.05))
	err := m.CanPlaceBuy("a", 0.198, 5, 0.05)
	assert.Equal(t, DenyMinNotional, denyReason(t, err))
}

func TestSharesCap(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.40, 16)
	err := m.CanPlaceBuy("a", 0.40, 5, 0.05)
	assert.Equal(t, DenySharesCap, denyReason(t, err))
}

func TestMarketNotionalCap(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.60, 14) // 8.40 USDC, 14 shares
	err := m.CanPlaceBuy("a", 0.40, 5, 0.05)
	assert.Equal(t, DenyMarketNotionalCap, denyReason(t, err))
}

func TestGlobalNotionalCap(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.50, 19) // 9.50 USDC on a
	m.RecordBuyOrder("b", 0.40, 10) // 4.00 USDC on b
	// Another 2.50 USDC on b passes its market cap but breaks the
	// 15 USDC global cap.
	err := m.CanPlaceBuy("b", 0.50, 5, 0.05)
	assert.Equal(t, DenyGlobalNotionalCap, denyReason(t, err))
}

func TestCancelBuyOrderReleases(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.46, 5)
	m.CancelBuyOrder("a", 0.46, 5)
	assert.True(t, m.Exposure("a").IsZero())
	assert.Zero(t, m.TotalNotional())
}

func TestSellFillUnwinds(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.46, 5)
	m.RecordSellFill("a", 0.46, 2)

	e := m.Exposure("a")
	assert.InDelta(t, 3, e.Shares, 1e-9)
	assert.InDelta(t, 0.46*3, e.Notional, 1e-9)

	m.RecordSellFill("a", 0.46, 3)
	assert.True(t, m.Exposure("a").IsZero())
}

func TestUnwindClampsAtZero(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.46, 5)
	// Over-release must clamp, never go negative.
	m.RecordSellFill("a", 0.60, 10)
	assert.True(t, m.Exposure("a").IsZero())
}

func TestCleanMarket(t *testing.T) {
	m := newTestManager()
	m.RecordBuyOrder("a", 0.46, 5)
	m.CleanMarket("a")
	assert.True(t, m.Exposure("a").IsZero())
}

func TestExposureUnknownAsset(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, domain.Exposure{}, m.Exposure("missing"))
}
