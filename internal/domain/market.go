package domain

import "time"

// AssetID is the venue's opaque identifier for one binary outcome token
// (an ERC-1155 token id rendered as a decimal string).
type AssetID string

// ConditionID groups the two outcome tokens of a single binary market.
// The engine uses it only to enforce the per-event market cap.
type ConditionID string

// Outcome identifies which side of a binary market an asset represents.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Market is the directory-level description of a binary market as
// returned by the venue's market listing.
type Market struct {
	ConditionID ConditionID
	EventID     string
	Question    string
	Slug        string
	YesAsset    AssetID
	NoAsset     AssetID
	Volume24h   float64
	EndDate     time.Time
	Active      bool
	Closed      bool
}

// HoursToClose returns the hours remaining until the market's end date,
// measured from now. Negative when the end date has passed.
func (m Market) HoursToClose(now time.Time) float64 {
	return m.EndDate.Sub(now).Hours()
}

// CandidateMarket is the selector's scored output: one outcome token
// chosen from a market, with the observations that qualified it.
type CandidateMarket struct {
	Asset        AssetID
	Side         Outcome
	ConditionID  ConditionID
	EventID      string
	Slug         string
	Spread       float64
	Depth        float64
	Volume24h    float64
	HoursToClose float64
	Score        float64
}

// ActiveMarket is a market the orchestrator is currently trading.
type ActiveMarket struct {
	Asset       AssetID
	ConditionID ConditionID
	Slug        string
	Side        Outcome
}
