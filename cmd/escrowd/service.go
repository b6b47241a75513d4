package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"janus/config"
	"janus/core/events"
	"janus/core/state"
	"janus/crypto"
	gwconfig "janus/gateway/config"
	"janus/gateway/idempotency"
	"janus/gateway/middleware"
	"janus/gateway/routes"
	"janus/integrations/webhooks"
	"janus/native/escrow"
	"janus/observability"
	"janus/observability/logging"
	"janus/services/journal"
	"janus/storage"
)

// service holds every long-lived component of a running daemon.
type service struct {
	cfg     *config.Config
	gateway gwconfig.Config
	logger  *slog.Logger

	db          storage.Database
	engine      *escrow.Engine
	journal     *journal.Journal
	feed        *events.Feed
	idempotency idempotency.Store
	webhook     *webhooks.Dispatcher
	handler     http.Handler

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Database {
	case config.DatabaseMemory:
		return storage.NewMemDB(), nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		return storage.NewLevelDB(cfg.LedgerPath())
	}
}

func genesisFrom(cfg *config.Config) (escrow.Genesis, error) {
	if cfg.Owner == "" {
		return escrow.Genesis{}, errors.New("Owner is required to initialise the ledger")
	}
	owner, err := crypto.ParseAddress(cfg.Owner)
	if err != nil {
		return escrow.Genesis{}, fmt.Errorf("Owner: %w", err)
	}
	genesis := escrow.Genesis{
		Owner: owner,
		Policy: escrow.Policy{
			FeeBps:           cfg.Policy.FeeBps,
			AcceptanceWindow: cfg.Policy.AcceptanceWindowSeconds,
			WarrantyWindow:   cfg.Policy.WarrantyWindowSeconds,
		},
	}
	if cfg.FeeTreasury != "" {
		if genesis.FeeTreasury, err = crypto.ParseAddress(cfg.FeeTreasury); err != nil {
			return escrow.Genesis{}, fmt.Errorf("FeeTreasury: %w", err)
		}
	}
	return genesis, nil
}

func openIdempotency(cfg *config.Config) (idempotency.Store, error) {
	switch cfg.Idempotency.Driver {
	case config.IdempotencyPostgres:
		return idempotency.OpenPostgres(cfg.Idempotency.DSN)
	case config.IdempotencyBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		return idempotency.OpenBolt(cfg.IdempotencyPath(), nil)
	default:
		return nil, nil
	}
}

// newService opens storage, bootstraps the ledger and assembles the HTTP
// handler. On error every component opened so far is closed.
func newService(ctx context.Context, cfg *config.Config, gw gwconfig.Config, logger *slog.Logger) (_ *service, err error) {
	svc := &service{cfg: cfg, gateway: gw, logger: logger, feed: events.NewFeed()}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	genesis, err := genesisFrom(cfg)
	if err != nil {
		return nil, err
	}

	if svc.db, err = openDatabase(cfg); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db := svc.db
	svc.closers = append(svc.closers, closerFunc(func() error { db.Close(); return nil }))

	svc.engine = escrow.NewEngine(state.NewEscrowBackend(state.NewManager(svc.db)))
	svc.engine.SetPauseBlocksReads(cfg.PauseBlocksReads)

	emitters := events.Multi{}
	if !cfg.Journal.Disabled {
		if svc.journal, err = journal.Open(cfg.JournalPath(), journal.WithLogger(logger)); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		svc.closers = append(svc.closers, svc.journal)
		checked, verr := svc.journal.Verify(ctx)
		if verr != nil {
			return nil, fmt.Errorf("verify journal: %w", verr)
		}
		logger.Info("journal verified", "entries", checked)
		emitters = append(emitters, svc.journal)
	}
	emitters = append(emitters, svc.feed, observability.Escrow())

	if cfg.Webhook.Endpoint != "" {
		opts := []webhooks.Option{webhooks.WithLogger(logger), webhooks.WithTopics(cfg.Webhook.Topics...)}
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		if cfg.Webhook.QueueSize > 0 {
			opts = append(opts, webhooks.WithQueueSize(cfg.Webhook.QueueSize))
		}
		if svc.webhook, err = webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret), opts...); err != nil {
			return nil, err
		}
		logger.Info("webhook delivery enabled", logging.MaskField("endpoint", cfg.Webhook.Endpoint))
		dispatcher := svc.webhook
		svc.closers = append(svc.closers, closerFunc(func() error { dispatcher.Close(); return nil }))
		emitters = append(emitters, svc.webhook)
	}
	svc.engine.SetEmitter(emitters)

	settings, err := svc.engine.Bootstrap(genesis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap ledger: %w", err)
	}
	logger.Info("ledger ready",
		"owner", crypto.FormatAddress(settings.Owner),
		"feeBps", settings.Policy.FeeBps,
		"paused", settings.Paused,
		"newOrdersPaused", settings.NewOrdersPaused)

	if svc.idempotency, err = openIdempotency(cfg); err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	if svc.idempotency != nil {
		svc.closers = append(svc.closers, svc.idempotency)
		logger.Info("idempotency store ready", "driver", cfg.Idempotency.Driver, logging.MaskField("dsn", cfg.Idempotency.DSN))
	}

	if svc.handler, err = svc.buildHandler(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *service) buildHandler() (http.Handler, error) {
	gw := s.gateway
	rateLimits := make(map[string]middleware.RateLimit, len(gw.RateLimits))
	for _, entry := range gw.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{RequestsPerMinute: entry.RequestsPerMinute, Burst: entry.Burst}
	}
	cfg := routes.Config{
		Engine: s.engine,
		Feed:   s.feed,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    gw.Auth.Enabled,
			HMACSecret: gw.Auth.HMACSecret,
			Issuer:     gw.Auth.Issuer,
			Audience:   gw.Auth.Audience,
			ScopeClaim: gw.Auth.ScopeClaim,
			ClockSkew:  gw.Auth.ClockSkew,
		}, s.logger),
		RateLimiter: middleware.NewRateLimiter(rateLimits, s.logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   gw.Observability.ServiceName,
			MetricsPrefix: gw.Observability.MetricsPrefix,
			LogRequests:   gw.Observability.LogRequests,
			Metrics:       gw.Observability.Metrics,
			Tracing:       gw.Observability.Tracing,
		}, s.logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   gw.CORS.AllowedOrigins,
			AllowedMethods:   gw.CORS.AllowedMethods,
			AllowedHeaders:   gw.CORS.AllowedHeaders,
			AllowCredentials: gw.CORS.AllowCredentials,
		},
		Stream: routes.StreamOptions{
			Buffer:       gw.Stream.Buffer,
			Backlog:      gw.Stream.Backlog,
			WriteTimeout: gw.Stream.WriteTimeout,
		},
		MaxBodyBytes: gw.MaxBodyBytes,
		Ready:        s.ready,
		Logger:       s.logger,
	}
	if s.journal != nil {
		cfg.Journal = s.journal
	}
	if s.idempotency != nil {
		ttl := time.Duration(s.cfg.Idempotency.TTLSeconds) * time.Second
		cfg.Idempotency = middleware.NewIdempotency(s.idempotency, ttl, s.logger)
	}
	if !gw.Auth.Enabled {
		s.logger.Warn("gateway auth disabled; callers are taken from the " + middleware.CallerHeader + " header")
	}
	return routes.New(cfg)
}

// ready reports whether the ledger can serve requests.
func (s *service) ready(context.Context) error {
	_, err := s.engine.Settings()
	return err
}

// purgeIdempotency drops expired replay records until ctx is cancelled.
func (s *service) purgeIdempotency(ctx context.Context, every time.Duration) error {
	purger, ok := s.idempotency.(idempotency.Purger)
	if !ok || every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed, err := purger.Purge(ctx, now)
			if err != nil {
				s.logger.Warn("idempotency purge failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Debug("idempotency records purged", "removed", removed)
			}
		}
	}
}

// Close releases components in reverse opening order.
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
