// Package risk enforces per-market and global exposure limits on buy
// placement and tracks at-risk notional as orders fill and unwind.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
)

// Deny reasons, in the order CanPlaceBuy evaluates them.
const (
	DenyMinNotional       = "min_notional"
	DenyExpectedProfitLow = "expected_profit_low"
	DenyMinSize           = "min_size"
	DenySharesCap         = "shares_cap"
	DenyMarketNotionalCap = "market_notional_cap"
	DenyGlobalNotionalCap = "global_notional_cap"
)

// minNotionalTolerance lets quantization shave a fraction of a cent off
// the configured floor without denying the order.
const minNotionalTolerance = 0.995

// Denial is the typed rejection CanPlaceBuy returns. Reason is one of
// the Deny constants.
type Denial struct {
	Reason string
	Detail string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("risk: denied (%s): %s", d.Reason, d.Detail)
}

// Manager tracks exposure per asset and answers whether a prospective
// buy stays within limits. Methods are safe for concurrent use.
type Manager struct {
	sizing config.SizingConfig
	limits config.RiskConfig
	logger *slog.Logger

	mu       sync.Mutex
	exposure map[domain.AssetID]domain.Exposure
}

// NewManager creates a risk manager with empty exposure.
func NewManager(sizing config.SizingConfig, limits config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		sizing:   sizing,
		limits:   limits,
		logger:   logger.With(slog.String("component", "risk")),
		exposure: make(map[domain.AssetID]domain.Exposure),
	}
}

// CanPlaceBuy checks a prospective buy of size shares at price against
// the sizing floors and exposure caps. spread is the current bid-ask
// spread, used for the expected profit floor. Returns nil when the buy
// is allowed, otherwise a *Denial with the first failing check.
func (m *Manager) CanPlaceBuy(asset domain.AssetID, price, size, spread float64) error {
	notional := price * size

	if notional < m.sizing.MinNotionalPerOrderUSDC*minNotionalTolerance {
		return &Denial{
			Reason: DenyMinNotional,
			Detail: fmt.Sprintf("notional %.4f below floor %.4f", notional, m.sizing.MinNotionalPerOrderUSDC),
		}
	}
	if expected := spread * size * price; expected < m.sizing.MinExpectedProfitUSDC {
		return &Denial{
			Reason: DenyExpectedProfitLow,
			Detail: fmt.Sprintf("expected profit %.4f below floor %.4f", expected, m.sizing.MinExpectedProfitUSDC),
		}
	}
	if size < m.sizing.MinSizeShares {
		return &Denial{
			Reason: DenyMinSize,
			Detail: fmt.Sprintf("size %.2f below floor %.2f", size, m.sizing.MinSizeShares),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.exposure[asset]
	if current.Shares+size > m.limits.MaxSharesPerMarket {
		return &Denial{
			Reason: DenySharesCap,
			Detail: fmt.Sprintf("%.2f + %.2f shares exceeds cap %.2f", current.Shares, size, m.limits.MaxSharesPerMarket),
		}
	}
	if current.Notional+notional > m.limits.MaxUSDCPerMarket {
		return &Denial{
			Reason: DenyMarketNotionalCap,
			Detail: fmt.Sprintf("%.4f + %.4f USDC exceeds market cap %.4f", current.Notional, notional, m.limits.MaxUSDCPerMarket),
		}
	}
	if m.totalNotionalLocked()+notional > m.limits.MaxNotionalAtRiskUSDC {
		return &Denial{
			Reason: DenyGlobalNotionalCap,
			Detail: fmt.Sprintf("%.4f + %.4f USDC exceeds global cap %.4f", m.totalNotionalLocked(), notional, m.limits.MaxNotionalAtRiskUSDC),
		}
	}
	return nil
}

// RecordBuyOrder reserves exposure for a placed buy order. Call it on
// successful placement; the reservation survives the fill.
func (m *Manager) RecordBuyOrder(asset domain.AssetID, price, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.exposure[asset]
	e.Shares += size
	e.Notional += price * size
	m.exposure[asset] = e
}

// CancelBuyOrder releases the reservation of an unfilled buy order.
// Exposure never goes negative.
func (m *Manager) CancelBuyOrder(asset domain.AssetID, price, size float64) {
	m.adjust(asset, -size, -price*size)
}

// RecordSellFill unwinds exposure as the position is sold. The notional
// released is valued at the buy cost tracked for the asset, clamped so
// exposure never goes negative.
func (m *Manager) RecordSellFill(asset domain.AssetID, price, size float64) {
	m.adjust(asset, -size, -price*size)
}

// CleanMarket forgets all exposure for an asset. Used after a round
// trip completes or the market is deactivated flat.
func (m *Manager) CleanMarket(asset domain.AssetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exposure, asset)
}

// Exposure returns the tracked exposure for one asset.
func (m *Manager) Exposure(asset domain.AssetID) domain.Exposure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure[asset]
}

// TotalNotional returns the summed at-risk notional across assets.
func (m *Manager) TotalNotional() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalNotionalLocked()
}

// ---- Internal helpers ----

func (m *Manager) adjust(asset domain.AssetID, dShares, dNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.exposure[asset]
	e.Shares += dShares
	e.Notional += dNotional
	if e.Shares < 0 {
		e.Shares = 0
	}
	if e.Notional < 0 {
		e.Notional = 0
	}
	if e.IsZero() {
		delete(m.exposure, asset)
		return
	}
	m.exposure[asset] = e
}

func (m *Manager) totalNotionalLocked() float64 {
	var total float64
	for _, e := range m.exposure {
		total += e.Notional
	}
	return total
}
