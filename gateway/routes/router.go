package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"janus/core/events"
	"janus/gateway/middleware"
	"janus/native/escrow"
	"janus/services/journal"
)

// ScopeDeposit gates the payment-rail deposit endpoint.
const ScopeDeposit = "escrow:deposit"

// Rate limit ids looked up in the gateway configuration.
const (
	LimitMutations = "mutations"
	LimitReads     = "reads"
	LimitExports   = "exports"
)

// Journal is the read side of the event journal used by the gateway.
type Journal interface {
	List(ctx context.Context, after uint64, limit int) ([]journal.Entry, error)
	PendingRefunds(ctx context.Context) ([]journal.PendingRefund, error)
	Verify(ctx context.Context) (uint64, error)
	Head() (uint64, string)
	Cursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, sequence uint64) error
}

type StreamOptions struct {
	Buffer       int
	Backlog      int
	WriteTimeout time.Duration
}

type Config struct {
	Engine        *escrow.Engine
	Journal       Journal
	Feed          *events.Feed
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *middleware.Idempotency
	CORS          middleware.CORSConfig
	Stream        StreamOptions
	MaxBodyBytes  int64
	Ready         func(context.Context) error
	Logger        *slog.Logger
}

type server struct {
	engine       *escrow.Engine
	journal      Journal
	feed         *events.Feed
	stream       StreamOptions
	maxBodyBytes int64
	logger       *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: engine is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Stream.WriteTimeout <= 0 {
		cfg.Stream.WriteTimeout = 10 * time.Second
	}
	s := &server{
		engine:       cfg.Engine,
		journal:      cfg.Journal,
		feed:         cfg.Feed,
		stream:       cfg.Stream,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "not_ready", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}
	idempotent := func(next http.Handler) http.Handler {
		if cfg.Idempotency == nil {
			return next
		}
		return cfg.Idempotency.Middleware(next)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(cfg.Authenticator.Middleware())

		v1.Group(func(mut chi.Router) {
			mut.Use(limit(LimitMutations))
			mut.Use(idempotent)
			mut.Post("/orders", s.buy)
			mut.Post("/orders/accept", s.sell)
			mut.Post("/orders/withdraw", s.withdrawOrder)
			mut.Post("/refunds/request", s.requestRefund)
			mut.Post("/refunds/revoke", s.revokeRefund)
			mut.Post("/refunds/resolve", s.resolveRefund)
			mut.Post("/refunds/withdraw", s.withdrawRefund)
			mut.Post("/admin/pause", s.pause)
			mut.Post("/admin/unpause", s.unpause)
			mut.Post("/admin/new-orders/pause", s.pauseNewOrders)
			mut.Post("/admin/new-orders/unpause", s.unpauseNewOrders)
			mut.Post("/admin/owner", s.updateOwner)
			mut.Post("/admin/renounce", s.renounceOwnership)
			mut.With(cfg.Authenticator.Middleware(ScopeDeposit)).Post("/deposits", s.deposit)
		})

		v1.Group(func(read chi.Router) {
			read.Use(limit(LimitReads))
			read.Get("/policy", s.policy)
			read.Get("/orders/{buyer}/{seller}/{id}", s.getOrder)
			read.Get("/orders/{buyer}/{seller}/{id}/custody", s.custody)
			read.Get("/parties/{party}/orders", s.ordersFor)
			read.Get("/parties/{party}/orders/count", s.countFor)
			read.Get("/parties/{party}/orders/{index}", s.orderAt)
			read.Get("/accounts/{account}/balance", s.balance)
			read.Get("/admin/disputes", s.disputes)
			read.Get("/admin/events", s.listEvents)
			read.Get("/admin/journal/verify", s.verifyJournal)
			read.Get("/stream", s.streamEvents)
		})

		v1.With(limit(LimitExports)).Get("/admin/export", s.export)
	})

	return r, nil
}

// requireArbiter fails with ErrUnauthorized unless caller is the current owner.
func (s *server) requireArbiter(caller [20]byte) error {
	owner, err := s.engine.Owner()
	if err != nil {
		return err
	}
	if owner != caller {
		return escrow.ErrUnauthorized
	}
	return nil
}

func (s *server) caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", errors.New("caller unknown"))
		return [20]byte{}, false
	}
	return caller, true
}
