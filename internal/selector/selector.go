// Package selector scans the venue's market directory and scores
// candidate markets for quoting.
package selector

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/domain"
)

// Deny codes logged when a market is rejected during evaluation.
const (
	denyNoBook       = "no_book"
	denySpreadNarrow = "spread_too_small"
	denySpreadWide   = "spread_too_wide"
	denyDepthLow     = "depth_too_low"
	denyCloseToEnd   = "too_close_to_end"
	denyProfitLow    = "expected_profit_low"
	denyEventCap     = "event_cap"
)

const (
	// warmupDefault is how long the selector lets the market feed
	// accumulate books before reading them.
	warmupDefault = 3 * time.Second

	// sizeNormalizeThreshold: venues occasionally report sizes in raw
	// micro units; anything above this is assumed micro and scaled down.
	sizeNormalizeThreshold = 100_000

	// maxLevelSize rejects obviously corrupt levels.
	maxLevelSize = 1_000_000

	// depthCapUSD bounds the depth term so one whale order cannot
	// dominate the score.
	depthCapUSD = 10_000

	// depthLevels is how many levels per side count toward depth.
	depthLevels = 2

	// wsDepthAssumedUSD is the depth assigned to feed-sourced books;
	// the stream prunes levels, so only REST books are summed.
	wsDepthAssumedUSD = 1_000
)

// MarketLister lists tradeable markets from the venue directory.
type MarketLister interface {
	ActiveMarkets(ctx context.Context, minVolume24h float64, maxPages int) ([]domain.Market, error)
}

// BookSource provides locally cached depth books, typically the market
// feed.
type BookSource interface {
	Subscribe(assets ...domain.AssetID)
	Unsubscribe(assets ...domain.AssetID)
	Snapshot(asset domain.AssetID) (domain.OrderbookSnapshot, bool)
}

// RestBooks fetches a depth snapshot over REST when the feed has none.
type RestBooks interface {
	OrderBook(ctx context.Context, asset domain.AssetID) (domain.OrderbookSnapshot, error)
}

// Selector scores and ranks markets for quoting.
type Selector struct {
	cfg    config.SelectorConfig
	sizing config.SizingConfig
	lister MarketLister
	books  BookSource
	rest   RestBooks
	logger *slog.Logger

	warmup time.Duration
	now    func() time.Time
}

// New creates a selector. The sizing floors feed the expected-profit
// eligibility filter.
func New(cfg config.SelectorConfig, sizing config.SizingConfig, lister MarketLister, books BookSource, rest RestBooks, logger *slog.Logger) *Selector {
	return &Selector{
		cfg:    cfg,
		sizing: sizing,
		lister: lister,
		books:  books,
		rest:   rest,
		logger: logger.With(slog.String("component", "selector")),
		warmup: warmupDefault,
		now:    time.Now,
	}
}

// Select runs the full pipeline: directory listing, volume and expiry
// pre-filters, book warm-up, per-market evaluation, per-event capping,
// and final ranking. It returns at most MaxMarkets candidates ordered
// by descending score.
func (s *Selector) Select(ctx context.Context) ([]domain.CandidateMarket, error) {
	markets, err := s.lister.ActiveMarkets(ctx, s.cfg.MinVolume24hUSD, 0)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prefiltered := markets[:0]
	for _, m := range markets {
		if !m.Active || m.Closed || m.Volume24h < s.cfg.MinVolume24hUSD {
			continue
		}
		if m.HoursToClose(now) < s.cfg.HoursToCloseMin {
			continue
		}
		prefiltered = append(prefiltered, m)
	}
	s.logger.Info("directory scanned",
		slog.Int("listed", len(markets)),
		slog.Int("prefiltered", len(prefiltered)))

	// Let the feed build books for every candidate before evaluating.
	assets := make([]domain.AssetID, 0, len(prefiltered)*2)
	for _, m := range prefiltered {
		assets = append(assets, m.YesAsset, m.NoAsset)
	}
	s.books.Subscribe(assets...)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.warmup):
	}

	var candidates []domain.CandidateMarket
	for _, m := range prefiltered {
		c, deny := s.evaluate(ctx, m, now)
		if deny != "" {
			s.logger.Debug("market rejected",
				slog.String("slug", m.Slug),
				slog.String("reason", deny))
			continue
		}
		candidates = append(candidates, c)
	}

	candidates = s.applyEventCap(candidates)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > s.cfg.MaxMarkets {
		candidates = candidates[:s.cfg.MaxMarkets]
	}

	// Drop feed state for everything that did not make the cut.
	selected := make(map[domain.AssetID]struct{}, len(candidates))
	for _, c := range candidates {
		selected[c.Asset] = struct{}{}
	}
	var unneeded []domain.AssetID
	for _, a := range assets {
		if _, keep := selected[a]; !keep {
			unneeded = append(unneeded, a)
		}
	}
	s.books.Unsubscribe(unneeded...)

	s.logger.Info("selection complete", slog.Int("selected", len(candidates)))
	return candidates, nil
}

// ---- Internal helpers ----

// evaluate scores one market or returns a deny code. The quoted side is
// whichever outcome token currently shows the wider spread.
func (s *Selector) evaluate(ctx context.Context, m domain.Market, now time.Time) (domain.CandidateMarket, string) {
	yesSpread, yesDepth, yesOK := s.measure(ctx, m.YesAsset)
	noSpread, noDepth, noOK := s.measure(ctx, m.NoAsset)
	if !yesOK && !noOK {
		return domain.CandidateMarket{}, denyNoBook
	}

	asset, side := m.YesAsset, domain.OutcomeYes
	spread, depth := yesSpread, yesDepth
	if !yesOK || (noOK && noSpread > yesSpread) {
		asset, side = m.NoAsset, domain.OutcomeNo
		spread, depth = noSpread, noDepth
	}

	if spread < s.cfg.MinSpreadCents/100 {
		return domain.CandidateMarket{}, denySpreadNarrow
	}
	if spread > s.cfg.MaxSpreadCents/100 {
		return domain.CandidateMarket{}, denySpreadWide
	}
	if depth < s.cfg.MinDepthTop2USD {
		return domain.CandidateMarket{}, denyDepthLow
	}
	hours := m.HoursToClose(now)
	if hours < s.cfg.HoursToCloseMin {
		return domain.CandidateMarket{}, denyCloseToEnd
	}
	if spread*s.sizing.MinNotionalPerOrderUSDC < s.sizing.MinExpectedProfitUSDC {
		return domain.CandidateMarket{}, denyProfitLow
	}

	return domain.CandidateMarket{
		Asset:        asset,
		Side:         side,
		ConditionID:  m.ConditionID,
		EventID:      m.EventID,
		Slug:         m.Slug,
		Spread:       spread,
		Depth:        depth,
		Volume24h:    m.Volume24h,
		HoursToClose: hours,
		Score:        score(spread, depth, m.Volume24h, hours),
	}, ""
}

// measure returns the spread and depth estimate for one asset,
// preferring the feed's book and falling back to REST. Feed books get
// the fixed depth constant; REST books are summed over the top levels.
func (s *Selector) measure(ctx context.Context, asset domain.AssetID) (spread, depth float64, ok bool) {
	snap, fromFeed := s.books.Snapshot(asset)
	if !fromFeed || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		fromFeed = false
		restSnap, err := s.rest.OrderBook(ctx, asset)
		if err != nil {
			return 0, 0, false
		}
		snap = restSnap
	}

	bids := sanitizeLevels(snap.Bids)
	asks := sanitizeLevels(snap.Asks)
	if len(bids) == 0 || len(asks) == 0 {
		return 0, 0, false
	}

	top := domain.TopOfBook{BestBid: bids[0].Price, BestAsk: asks[0].Price}
	if !top.Valid() {
		return 0, 0, false
	}

	if fromFeed {
		return top.Spread(), wsDepthAssumedUSD, true
	}
	depth = depthUSD(bids) + depthUSD(asks)
	if depth > depthCapUSD {
		depth = depthCapUSD
	}
	return top.Spread(), depth, true
}

// sanitizeLevels normalizes raw micro-unit sizes and drops levels that
// fail the sanity bounds 0 < price <= 1 and 0 < size < maxLevelSize.
func sanitizeLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		size := lvl.Size
		if size > sizeNormalizeThreshold {
			size /= 1e6
		}
		if lvl.Price <= 0 || lvl.Price > 1 || size <= 0 || size >= maxLevelSize {
			continue
		}
		out = append(out, domain.PriceLevel{Price: lvl.Price, Size: size})
	}
	return out
}

// depthUSD sums notional over the top depthLevels of one side.
func depthUSD(levels []domain.PriceLevel) float64 {
	var total float64
	for i, lvl := range levels {
		if i >= depthLevels {
			break
		}
		total += lvl.Price * lvl.Size
	}
	return total
}

// score ranks a candidate: spread dominates, then depth and volume on
// log scales, then time to expiry.
func score(spread, depth, volume, hours float64) float64 {
	timeTerm := hours / 24
	if timeTerm > 30 {
		timeTerm = 30
	}
	return 0.4*(spread*1000) +
		0.3*math.Log10(depth+1)*100 +
		0.2*math.Log10(volume+1)*50 +
		0.1*timeTerm
}

// applyEventCap keeps at most MaxMarketsPerEvent candidates per event,
// preferring higher scores. Directory rows without an event id group
// by condition id instead.
func (s *Selector) applyEventCap(candidates []domain.CandidateMarket) []domain.CandidateMarket {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	counts := make(map[string]int)
	out := candidates[:0]
	for _, c := range candidates {
		key := c.EventID
		if key == "" {
			key = string(c.ConditionID)
		}
		if counts[key] >= s.cfg.MaxMarketsPerEvent {
			s.logger.Debug("market rejected",
				slog.String("slug", c.Slug),
				slog.String("reason", denyEventCap))
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out
}
