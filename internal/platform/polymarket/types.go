package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marketloop/spreadbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") because
// the Gamma API is inconsistent about how it encodes boolean flags.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from JSON number or numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// gammaMarket is a market row from the Gamma directory API.
type gammaMarket struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	ConditionID  string    `json:"conditionId"`
	Slug         string    `json:"slug"`
	Active       flexBool  `json:"active"`
	Closed       bool      `json:"closed"`
	Volume24hr   flexFloat `json:"volume24hr"`
	EndDateISO   string    `json:"endDateIso"`
	ClobTokenIDs string    `json:"clobTokenIds"` // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Events       []struct {
		ID string `json:"id"`
	} `json:"events"`
}

// toDomain converts a gammaMarket into a domain.Market. ok is false when
// the row lacks the two outcome token ids and cannot be traded.
func (m *gammaMarket) toDomain() (domain.Market, bool) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return domain.Market{}, false
	}

	dm := domain.Market{
		ConditionID: domain.ConditionID(m.ConditionID),
		Question:    m.Question,
		Slug:        m.Slug,
		YesAsset:    domain.AssetID(tokenIDs[0]),
		NoAsset:     domain.AssetID(tokenIDs[1]),
		Volume24h:   float64(m.Volume24hr),
		Active:      bool(m.Active),
		Closed:      m.Closed,
	}
	if len(m.Events) > 0 {
		dm.EventID = m.Events[0].ID
	}
	if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
		dm.EndDate = t
	}
	return dm, true
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// apiOrderResult is the CLOB's response to an order submission.
type apiOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// apiOpenOrder is one row from the authenticated open-orders query.
type apiOpenOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

func (o *apiOpenOrder) toDomain() domain.OpenOrder {
	price, _ := strconv.ParseFloat(o.Price, 64)
	size, _ := strconv.ParseFloat(o.OriginalSize, 64)
	matched, _ := strconv.ParseFloat(o.SizeMatched, 64)
	return domain.OpenOrder{
		OrderID: o.ID,
		Asset:   domain.AssetID(o.AssetID),
		Side:    domain.Side(o.Side),
		Price:   price,
		Size:    size - matched,
	}
}

// apiLevel is a price level in REST and WebSocket book payloads.
type apiLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// apiBook is the REST /book response and the WebSocket "book" event body.
type apiBook struct {
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []apiLevel `json:"bids"`
	Asks      []apiLevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
}

// toSnapshot converts an apiBook to a best-first depth snapshot. The API
// does not guarantee level ordering, so both sides are sorted here.
func (b *apiBook) toSnapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		Asset:     domain.AssetID(b.AssetID),
		Bids:      parseLevels(b.Bids),
		Asks:      parseLevels(b.Asks),
		Timestamp: parseWSTimestamp(b.Timestamp),
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

func parseLevels(levels []apiLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseWSTimestamp accepts Unix milliseconds, Unix seconds, or RFC3339.
func parseWSTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 { // milliseconds
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
