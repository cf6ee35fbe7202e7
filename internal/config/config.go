// Package config defines the configuration for the spread-capture market
// maker and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then overridden by the well-known environment variables.
type Config struct {
	Venue       VenueConfig     `toml:"venue"`
	Credentials CredsConfig     `toml:"credentials"`
	Selector    SelectorConfig  `toml:"selector"`
	Sizing      SizingConfig    `toml:"sizing"`
	Risk        RiskConfig      `toml:"risk"`
	Orders      OrdersConfig    `toml:"orders"`
	Engine      EngineConfig    `toml:"engine"`
	Journal     JournalConfig   `toml:"journal"`
	Telemetry   TelemetryConfig `toml:"telemetry"`
	Notify      NotifyConfig    `toml:"notify"`
	LogLevel    string          `toml:"log_level"`
	DryRun      bool            `toml:"dry_run"`
}

// VenueConfig holds venue endpoints and on-chain addresses.
type VenueConfig struct {
	ClobHost         string `toml:"clob_host"`
	GammaHost        string `toml:"gamma_host"`
	WSSURL           string `toml:"wss_url"`
	WSSUserURL       string `toml:"wss_user_url"`
	RPCURL           string `toml:"rpc_url"`
	ExchangeAddress  string `toml:"exchange_address"`
	USDCAddress      string `toml:"usdc_address"`
	PolyProxyAddress string `toml:"poly_proxy_address"`
	ChainID          int    `toml:"chain_id"`
}

// CredsConfig holds wallet and CLOB API credentials.
type CredsConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	APIKey           string `toml:"api_key"`
	APISecret        string `toml:"api_secret"`
	Passphrase       string `toml:"passphrase"`
}

// SelectorConfig holds market eligibility thresholds.
type SelectorConfig struct {
	MaxMarkets         int     `toml:"max_markets"`
	MinSpreadCents     float64 `toml:"min_spread_cents"`
	MaxSpreadCents     float64 `toml:"max_spread_cents"`
	MinVolume24hUSD    float64 `toml:"min_volume_24h_usd"`
	MinDepthTop2USD    float64 `toml:"min_depth_top2_usd"`
	HoursToCloseMin    float64 `toml:"hours_to_close_min"`
	MaxMarketsPerEvent int     `toml:"max_markets_per_event"`
}

// SizingConfig holds order sizing floors and the quote size.
type SizingConfig struct {
	OrderSizeShares         float64 `toml:"order_size_shares"`
	MinNotionalPerOrderUSDC float64 `toml:"min_notional_per_order_usdc"`
	MinExpectedProfitUSDC   float64 `toml:"min_expected_profit_usdc"`
	MinSizeShares           float64 `toml:"min_size_shares"`
}

// RiskConfig holds the hard exposure caps.
type RiskConfig struct {
	MaxSharesPerMarket    float64 `toml:"max_shares_per_market"`
	MaxUSDCPerMarket      float64 `toml:"max_usdc_per_market"`
	MaxNotionalAtRiskUSDC float64 `toml:"max_notional_at_risk_usdc"`
}

// OrdersConfig holds order replacement and ask-chase dynamics.
type OrdersConfig struct {
	OrderTTLMS          int64   `toml:"order_ttl_ms"`
	ReplacePriceTicks   float64 `toml:"replace_price_ticks"`
	AskChaseWindowSec   float64 `toml:"ask_chase_window_sec"`
	AskChaseMaxReplaces int     `toml:"ask_chase_max_replaces"`
}

// EngineConfig holds the orchestrator's loop and periodic task cadences.
type EngineConfig struct {
	TickIntervalMS           int64 `toml:"tick_interval_ms"`
	ReconcileIntervalMS      int64 `toml:"reconcile_interval_ms"`
	MetricsLogIntervalMS     int64 `toml:"metrics_log_interval_ms"`
	HealthCheckIntervalMS    int64 `toml:"health_check_interval_ms"`
	MarketInactiveTimeoutSec int64 `toml:"market_inactive_timeout_sec"`
	GracePeriodSec           int64 `toml:"grace_period_sec"`
}

// JournalConfig holds the optional Postgres trade journal settings.
// An empty DSN disables journaling.
type JournalConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int    `toml:"max_conns"`
}

// TelemetryConfig holds the optional Redis telemetry sink settings.
// An empty Addr disables telemetry.
type TelemetryConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// NotifyConfig holds the optional operator alert channels. Senders with
// empty credentials are not created.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the engine's default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			ClobHost:   "https://clob.polymarket.com",
			GammaHost:  "https://gamma-api.polymarket.com",
			WSSURL:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			WSSUserURL: "wss://ws-subscriptions-clob.polymarket.com/ws/user",
			RPCURL:     "https://polygon-rpc.com",
			ChainID:    137,
		},
		Selector: SelectorConfig{
			MaxMarkets:         10,
			MinSpreadCents:     3,
			MaxSpreadCents:     20,
			MinVolume24hUSD:    10_000,
			MinDepthTop2USD:    100,
			HoursToCloseMin:    12,
			MaxMarketsPerEvent: 1,
		},
		Sizing: SizingConfig{
			OrderSizeShares:         5,
			MinNotionalPerOrderUSDC: 1,
			MinExpectedProfitUSDC:   0.02,
			MinSizeShares:           5,
		},
		Risk: RiskConfig{
			MaxSharesPerMarket:    20,
			MaxUSDCPerMarket:      10,
			MaxNotionalAtRiskUSDC: 50,
		},
		Orders: OrdersConfig{
			OrderTTLMS:          45_000,
			ReplacePriceTicks:   1,
			AskChaseWindowSec:   20,
			AskChaseMaxReplaces: 3,
		},
		Engine: EngineConfig{
			TickIntervalMS:           500,
			ReconcileIntervalMS:      60_000,
			MetricsLogIntervalMS:     60_000,
			HealthCheckIntervalMS:    180_000,
			MarketInactiveTimeoutSec: 300,
			GracePeriodSec:           30,
		},
		Journal: JournalConfig{
			MaxConns: 4,
		},
		Notify: NotifyConfig{
			Events: []string{"round_trip", "market_deactivated"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for missing credentials and
// out-of-range numerics, returning a combined error describing every
// problem found. A failed validation is fatal at startup.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Venue.ClobHost == "" {
		errs = append(errs, "venue: clob_host must not be empty")
	}
	if c.Venue.GammaHost == "" {
		errs = append(errs, "venue: gamma_host must not be empty")
	}
	if c.Venue.WSSURL == "" {
		errs = append(errs, "venue: wss_url must not be empty")
	}
	if c.Venue.ChainID <= 0 {
		errs = append(errs, "venue: chain_id must be positive")
	}

	// Credentials are required for live trading; dry-run can do without.
	if !c.DryRun {
		if c.Credentials.PrivateKey == "" && c.Credentials.EncryptedKeyPath == "" {
			errs = append(errs, "credentials: either private_key or encrypted_key_path must be set")
		}
		if c.Credentials.EncryptedKeyPath != "" && c.Credentials.KeyPassword == "" {
			errs = append(errs, "credentials: key_password is required when encrypted_key_path is set")
		}
		if c.Credentials.APIKey == "" || c.Credentials.APISecret == "" || c.Credentials.Passphrase == "" {
			errs = append(errs, "credentials: api_key, api_secret, and passphrase must all be set")
		}
		if c.Venue.WSSUserURL == "" {
			errs = append(errs, "venue: wss_user_url must not be empty")
		}
	}

	if c.Selector.MaxMarkets < 1 {
		errs = append(errs, "selector: max_markets must be >= 1")
	}
	if c.Selector.MinSpreadCents <= 0 {
		errs = append(errs, "selector: min_spread_cents must be > 0")
	}
	if c.Selector.MaxSpreadCents <= c.Selector.MinSpreadCents {
		errs = append(errs, "selector: max_spread_cents must exceed min_spread_cents")
	}
	if c.Selector.MaxMarketsPerEvent < 1 {
		errs = append(errs, "selector: max_markets_per_event must be >= 1")
	}

	if c.Sizing.OrderSizeShares <= 0 {
		errs = append(errs, "sizing: order_size_shares must be > 0")
	}
	if c.Sizing.MinSizeShares <= 0 {
		errs = append(errs, "sizing: min_size_shares must be > 0")
	}
	if c.Sizing.MinNotionalPerOrderUSDC <= 0 {
		errs = append(errs, "sizing: min_notional_per_order_usdc must be > 0")
	}

	if c.Risk.MaxSharesPerMarket <= 0 {
		errs = append(errs, "risk: max_shares_per_market must be > 0")
	}
	if c.Risk.MaxUSDCPerMarket <= 0 {
		errs = append(errs, "risk: max_usdc_per_market must be > 0")
	}
	if c.Risk.MaxNotionalAtRiskUSDC < c.Risk.MaxUSDCPerMarket {
		errs = append(errs, "risk: max_notional_at_risk_usdc must be >= max_usdc_per_market")
	}

	if c.Orders.OrderTTLMS <= 0 {
		errs = append(errs, "orders: order_ttl_ms must be > 0")
	}
	if c.Orders.ReplacePriceTicks <= 0 {
		errs = append(errs, "orders: replace_price_ticks must be > 0")
	}
	if c.Orders.AskChaseWindowSec < 0 {
		errs = append(errs, "orders: ask_chase_window_sec must be >= 0")
	}
	if c.Orders.AskChaseMaxReplaces < 0 {
		errs = append(errs, "orders: ask_chase_max_replaces must be >= 0")
	}

	if c.Engine.TickIntervalMS <= 0 {
		errs = append(errs, "engine: tick_interval_ms must be > 0")
	}
	if c.Engine.ReconcileIntervalMS <= 0 {
		errs = append(errs, "engine: reconcile_interval_ms must be > 0")
	}
	if c.Engine.MetricsLogIntervalMS <= 0 {
		errs = append(errs, "engine: metrics_log_interval_ms must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
