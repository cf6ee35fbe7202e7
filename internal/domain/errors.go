package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrWouldCross    = errors.New("post-only order would cross")
	ErrOrderExists   = errors.New("market already has a live order")
	ErrNoActiveOrder = errors.New("no live order for market")
	ErrNoPrices      = errors.New("no prices for market")
	ErrSigningFailed = errors.New("signing failed")
)

// InvariantViolation reports a breach of one of the engine's hard
// invariants (side-lock, exposure caps, per-event cap) detected at a
// state transition. It is fatal: the orchestrator escalates it and the
// process exits with a diagnostic rather than trading on corrupt state.
type InvariantViolation struct {
	Asset  AssetID
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for asset %s: %s", e.Asset, e.Detail)
}

// IsInvariantViolation reports whether err wraps an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
