package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"daopresale/core/events"
	"daopresale/native/presale"
	"daopresale/services/presaled/middleware"
)

// Route groups used as rate limit keys.
const (
	RoutePurchase = "purchase"
	RouteQuery    = "query"
	RouteAdmin    = "admin"
)

// ScopeSettle grants access to the payment intake endpoints.
const ScopeSettle = "presale:settle"

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
}

// Server exposes the presale engine over HTTP.
type Server struct {
	cfg         Config
	engine      *presale.Engine
	logger      *slog.Logger
	auth        *middleware.Authenticator
	limiter     *middleware.RateLimiter
	idempotency *middleware.Idempotency
	stream      *events.Broadcaster
	obs         *middleware.Observability
	handler     http.Handler
}

// Option customises optional server dependencies.
type Option func(*Server)

// WithIdempotency replays responses for repeated Idempotency-Key headers on
// the payment endpoints.
func WithIdempotency(idem *middleware.Idempotency) Option {
	return func(s *Server) { s.idempotency = idem }
}

// New wires the router. auth is required because every mutation runs on
// behalf of an authenticated operator; limiter may be nil.
func New(cfg Config, engine *presale.Engine, auth *middleware.Authenticator, limiter *middleware.RateLimiter, logger *slog.Logger, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("presale engine required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	srv := &Server{
		cfg:     cfg,
		engine:  engine,
		logger:  logger,
		auth:    auth,
		limiter: limiter,
		obs:     middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "presaled", LogRequests: true}, logger),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.handler = srv.routes()
	return srv, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			s.use(q, RouteQuery)
			q.Get("/config", s.handleConfig)
			q.Get("/state", s.handleState)
			q.Get("/participants", s.handleParticipants)
			q.Get("/participants/{address}", s.handleParticipant)
			q.Get("/receipts", s.handleReceipts)
			q.Get("/receipts/{sequence}", s.handleReceipt)
			q.Get("/admissions/{sequence}", s.handleAdmission)
			q.Post("/quote", s.handleQuote)
			if s.stream != nil {
				q.Get("/events", s.handleEvents)
			}
		})
		v1.Group(func(p chi.Router) {
			s.use(p, RoutePurchase)
			p.Use(s.auth.Middleware(ScopeSettle))
			if s.idempotency != nil {
				p.Use(s.idempotency.Middleware)
			}
			p.Post("/purchase", s.handlePurchase)
			p.Post("/admit", s.handleAdmit)
			p.Post("/settle", s.handleSettle)
		})
		v1.Group(func(a chi.Router) {
			s.use(a, RouteAdmin)
			a.Use(s.auth.Middleware(middleware.ScopeAdmin))
			a.Post("/admin/initialize", s.handleInitialize)
			a.Post("/admin/upgrade", s.handleUpgrade)
		})
	})
	return otelhttp.NewHandler(r, "presaled")
}

func (s *Server) use(r chi.Router, route string) {
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(route))
	}
	r.Use(s.obs.Middleware(route))
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then drains
// in-flight requests within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.stream != nil {
		srv.RegisterOnShutdown(s.stream.Close)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http server listening", "component", "presaled", "path", listener.Addr().String())
	err := srv.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-done
	return nil
}
