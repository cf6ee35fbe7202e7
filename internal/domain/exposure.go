package domain

// Exposure is the per-asset committed risk: shares either resting in a
// buy order or held as inventory, and the USDC notional behind them.
// Both fields are always >= 0.
type Exposure struct {
	Shares   float64
	Notional float64
}

// IsZero reports whether no exposure is committed.
func (e Exposure) IsZero() bool {
	return e.Shares == 0 && e.Notional == 0
}
