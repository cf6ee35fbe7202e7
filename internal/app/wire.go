package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketloop/spreadbot/internal/cache/redis"
	"github.com/marketloop/spreadbot/internal/config"
	"github.com/marketloop/spreadbot/internal/crypto"
	"github.com/marketloop/spreadbot/internal/domain"
	"github.com/marketloop/spreadbot/internal/feed"
	"github.com/marketloop/spreadbot/internal/maker"
	"github.com/marketloop/spreadbot/internal/notify"
	"github.com/marketloop/spreadbot/internal/orders"
	"github.com/marketloop/spreadbot/internal/platform/polymarket"
	"github.com/marketloop/spreadbot/internal/risk"
	"github.com/marketloop/spreadbot/internal/selector"
	"github.com/marketloop/spreadbot/internal/store/postgres"
)

// zeroAddress stands in for the funder when running dry without a key.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Dependencies bundles everything the trading engine needs. Constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	MarketFeed *feed.MarketFeed
	UserFeed   *feed.UserFeed // nil in dry-run
	Maker      *maker.Maker
}

// Wire constructs the full dependency graph from the configuration and
// returns it with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Wallet and CLOB clients ---
	var signer *crypto.Signer
	funder := cfg.Venue.PolyProxyAddress
	sigType := polymarket.SigTypeEOA
	if funder != "" {
		sigType = polymarket.SigTypePolyProxy
	}

	if cfg.DryRun && cfg.Credentials.PrivateKey == "" && cfg.Credentials.EncryptedKeyPath == "" {
		// Dry-run without a wallet: the CLOB client only serves public
		// endpoints, so a placeholder funder is enough.
		if funder == "" {
			funder = zeroAddress
		}
	} else {
		keyHex, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Credentials.PrivateKey,
			EncryptedKeyPath: cfg.Credentials.EncryptedKeyPath,
			KeyPassword:      cfg.Credentials.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex, cfg.Venue.ChainID, cfg.Venue.ExchangeAddress)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
	}

	var hmacAuth *crypto.HMACAuth
	if cfg.Credentials.APIKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        cfg.Credentials.APIKey,
			Secret:     cfg.Credentials.APISecret,
			Passphrase: cfg.Credentials.Passphrase,
		}
	}

	clob := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       cfg.Venue.ClobHost,
		Funder:        funder,
		SignatureType: sigType,
	}, signer, hmacAuth)

	// Without pre-provisioned API credentials, derive them from the key.
	if !cfg.DryRun && hmacAuth == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}

	gamma := polymarket.NewGammaClient(cfg.Venue.GammaHost)

	// --- Feeds ---
	marketFeed := feed.NewMarketFeed(cfg.Venue.WSSURL, logger)

	var userFeed *feed.UserFeed
	if !cfg.DryRun {
		userFeed = feed.NewUserFeed(cfg.Venue.WSSUserURL, signer.Address().Hex(), clob.Auth(), logger)
	}

	// --- Engine ---
	riskMgr := risk.NewManager(cfg.Sizing, cfg.Risk, logger)
	orderMgr := orders.NewManager(cfg.Orders, clob, cfg.DryRun, logger)
	picker := selector.New(cfg.Selector, cfg.Sizing, gamma, marketFeed, clob, logger)

	// --- Optional journal and telemetry ---
	var journal domain.TradeJournal
	if cfg.Journal.DSN != "" {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			MaxConns: cfg.Journal.MaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal migrations: %w", err)
		}
		journal = postgres.NewJournal(pg.Pool())
	}

	var sinks []domain.TelemetrySink
	if cfg.Telemetry.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Telemetry.Addr,
			Password: cfg.Telemetry.Password,
			DB:       cfg.Telemetry.DB,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		sinks = append(sinks, redis.NewTelemetry(rc))
	}

	// --- Operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		sinks = append(sinks, notify.NewSink(notifier))
	}

	var telemetry domain.TelemetrySink
	switch len(sinks) {
	case 0:
	case 1:
		telemetry = sinks[0]
	default:
		telemetry = sinkFanOut(sinks)
	}

	var venue maker.VenueOrders
	var events maker.EventSource
	if userFeed != nil {
		venue = clob
		events = userFeed
	} else {
		events = noopEvents{}
	}

	mk := maker.New(cfg, marketFeed, events, orderMgr, riskMgr, picker, venue, journal, telemetry, logger)

	return &Dependencies{
		MarketFeed: marketFeed,
		UserFeed:   userFeed,
		Maker:      mk,
	}, cleanup, nil
}

// sinkFanOut delivers telemetry to several sinks, returning the first
// error after attempting all of them.
type sinkFanOut []domain.TelemetrySink

func (s sinkFanOut) PublishTopOfBook(ctx context.Context, asset domain.AssetID, top domain.TopOfBook) error {
	var first error
	for _, sink := range s {
		if err := sink.PublishTopOfBook(ctx, asset, top); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s sinkFanOut) PublishEvent(ctx context.Context, event string, payload any) error {
	var first error
	for _, sink := range s {
		if err := sink.PublishEvent(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// noopEvents satisfies the event source in dry-run, where no user feed
// exists and no fills ever arrive.
type noopEvents struct{}

func (noopEvents) Fills() <-chan domain.Fill                   { return nil }
func (noopEvents) OrderEvents() <-chan domain.OrderStatusEvent { return nil }
func (noopEvents) Watch(...domain.ConditionID)                 {}
func (noopEvents) Unwatch(...domain.ConditionID)               {}
