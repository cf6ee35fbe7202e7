package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketloop/spreadbot/internal/domain"
)

// topKeyTTL expires stale quote hashes so the dashboard does not show
// prices from markets the engine no longer trades.
const topKeyTTL = 10 * time.Minute

// Telemetry implements domain.TelemetrySink on Redis. Quotes are kept
// in hashes at "top:{assetID}", engine events go to the
// "spreadbot:events:{name}" Pub/Sub channels. Strictly write-only for
// the engine; consumers are external dashboards.
type Telemetry struct {
	rdb *redis.Client
}

// NewTelemetry creates a Telemetry sink backed by the given Client.
func NewTelemetry(c *Client) *Telemetry {
	return &Telemetry{rdb: c.Underlying()}
}

func topKey(asset domain.AssetID) string {
	return "top:" + string(asset)
}

// PublishTopOfBook stores the latest accepted quote for an asset.
func (t *Telemetry) PublishTopOfBook(ctx context.Context, asset domain.AssetID, top domain.TopOfBook) error {
	key := topKey(asset)
	fields := map[string]interface{}{
		"bid":  strconv.FormatFloat(top.BestBid, 'f', -1, 64),
		"ask":  strconv.FormatFloat(top.BestAsk, 'f', -1, 64),
		"tick": strconv.FormatFloat(top.TickSize, 'f', -1, 64),
		"ts":   strconv.FormatInt(top.UpdatedAt.UnixNano(), 10),
	}

	pipe := t.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, topKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish top %s: %w", asset, err)
	}
	return nil
}

// PublishEvent broadcasts an engine event as JSON over Pub/Sub.
func (t *Telemetry) PublishEvent(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event, err)
	}
	channel := "spreadbot:events:" + event
	if err := t.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TelemetrySink = (*Telemetry)(nil)
