package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is
// empty or the file does not exist), merges it on top of the built-in
// defaults, applies environment variable overrides, and returns the
// final Config. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the engine's well-known environment variables
// and overwrites the corresponding Config fields when a variable is set.
// This lets operators inject secrets and limits at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RPCURL, "RPC_URL")
	setStr(&cfg.Venue.WSSURL, "WSS_URL")
	setStr(&cfg.Venue.WSSUserURL, "WSS_USER_URL")
	setStr(&cfg.Venue.ClobHost, "CLOB_HOST")
	setStr(&cfg.Venue.GammaHost, "GAMMA_HOST")
	setStr(&cfg.Venue.ExchangeAddress, "EXCHANGE_ADDRESS")
	setStr(&cfg.Venue.USDCAddress, "USDC_ADDRESS")
	setStr(&cfg.Venue.PolyProxyAddress, "POLY_PROXY_ADDRESS")

	// ── Credentials ──
	setStr(&cfg.Credentials.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Credentials.EncryptedKeyPath, "ENCRYPTED_KEY_PATH")
	setStr(&cfg.Credentials.KeyPassword, "KEY_PASSWORD")
	setStr(&cfg.Credentials.APIKey, "CLOB_API_KEY")
	setStr(&cfg.Credentials.APISecret, "CLOB_API_SECRET")
	setStr(&cfg.Credentials.Passphrase, "CLOB_PASSPHRASE")

	// ── Selector ──
	setInt(&cfg.Selector.MaxMarkets, "MAX_MARKETS")
	setFloat64(&cfg.Selector.MinSpreadCents, "MIN_SPREAD_CENTS")
	setFloat64(&cfg.Selector.MaxSpreadCents, "MAX_SPREAD_CENTS")
	setFloat64(&cfg.Selector.MinVolume24hUSD, "MIN_VOLUME_24H_USD")
	setFloat64(&cfg.Selector.MinDepthTop2USD, "MIN_DEPTH_TOP2_USD")
	setFloat64(&cfg.Selector.HoursToCloseMin, "HOURS_TO_CLOSE_MIN")
	setInt(&cfg.Selector.MaxMarketsPerEvent, "MAX_MARKETS_PER_EVENT")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.OrderSizeShares, "ORDER_SIZE_SHARES")
	setFloat64(&cfg.Sizing.MinNotionalPerOrderUSDC, "MIN_NOTIONAL_PER_ORDER_USDC")
	setFloat64(&cfg.Sizing.MinExpectedProfitUSDC, "MIN_EXPECTED_PROFIT_USDC")
	setFloat64(&cfg.Sizing.MinSizeShares, "MIN_SIZE_SHARES")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxSharesPerMarket, "MAX_SHARES_PER_MARKET")
	setFloat64(&cfg.Risk.MaxUSDCPerMarket, "MAX_USDC_PER_MARKET")
	setFloat64(&cfg.Risk.MaxNotionalAtRiskUSDC, "MAX_NOTIONAL_AT_RISK_USDC")

	// ── Orders ──
	setInt64(&cfg.Orders.OrderTTLMS, "ORDER_TTL_MS")
	setFloat64(&cfg.Orders.ReplacePriceTicks, "REPLACE_PRICE_TICKS")
	setFloat64(&cfg.Orders.AskChaseWindowSec, "ASK_CHASE_WINDOW_SEC")
	setInt(&cfg.Orders.AskChaseMaxReplaces, "ASK_CHASE_MAX_REPLACES")

	// ── Engine ──
	setInt64(&cfg.Engine.TickIntervalMS, "TICK_INTERVAL_MS")
	setInt64(&cfg.Engine.ReconcileIntervalMS, "RECONCILE_INTERVAL_MS")
	setInt64(&cfg.Engine.MetricsLogIntervalMS, "METRICS_LOG_INTERVAL_MS")
	setInt64(&cfg.Engine.HealthCheckIntervalMS, "HEALTH_CHECK_INTERVAL_MS")
	setInt64(&cfg.Engine.MarketInactiveTimeoutSec, "MARKET_INACTIVE_TIMEOUT_SEC")
	setInt64(&cfg.Engine.GracePeriodSec, "GRACE_PERIOD_SEC")

	// ── Journal / telemetry ──
	setStr(&cfg.Journal.DSN, "POSTGRES_DSN")
	setInt(&cfg.Journal.MaxConns, "POSTGRES_MAX_CONNS")
	setStr(&cfg.Telemetry.Addr, "REDIS_ADDR")
	setStr(&cfg.Telemetry.Password, "REDIS_PASSWORD")
	setInt(&cfg.Telemetry.DB, "REDIS_DB")

	// ── Notifications ──
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setBool(&cfg.DryRun, "DRY_RUN")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
