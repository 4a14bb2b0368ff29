package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"daopresale/config"
	"daopresale/core/events"
	"daopresale/core/state"
	"daopresale/integrations/webhooks"
	"daopresale/native/presale"
	"daopresale/observability/logging"
	telemetry "daopresale/observability/otel"
	presaledconfig "daopresale/services/presaled/config"
	"daopresale/services/presaled/middleware"
	"daopresale/services/presaled/server"
	"daopresale/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/presaled/config.yaml", "path to presaled configuration file")
	flag.Parse()

	cfg, err := presaledconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("presaled: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("PRESALE_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "presaled",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("presaled", env))
	if err != nil {
		log.Fatalf("presaled: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ledgerCfg, err := config.Load(cfg.LedgerConfig)
	if err != nil {
		log.Fatalf("presaled: load ledger config: %v", err)
	}
	db, err := storage.Open(ledgerCfg.Backend, ledgerCfg.DataDir)
	if err != nil {
		log.Fatalf("presaled: open ledger: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(false); err != nil {
		log.Fatalf("presaled: %v", err)
	}
	engine, err := presale.Attach(manager)
	if err != nil {
		log.Fatalf("presaled: attach ledger: %v", err)
	}
	engine.SetPauses(ledgerCfg.Pauses)

	stream := events.NewBroadcaster(cfg.EventStream.History)
	emitters := events.MultiEmitter{events.LogEmitter{Logger: logger.With("component", "ledger")}, stream}
	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		dispatcher, err := webhooks.NewDispatcher(url, []byte(presaledconfig.Secret(cfg.Webhook.SecretEnv)),
			webhooks.WithLogger(logger.With("component", "webhook")),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
		)
		if err != nil {
			log.Fatalf("presaled: webhook dispatcher: %v", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}
	engine.SetEmitter(emitters)

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: presaledconfig.Secret(cfg.Auth.HMACSecretEnv),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		log.Fatalf("presaled: configure auth: %v", err)
	}
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}

	opts := []server.Option{server.WithEventStream(stream)}
	if dsn := strings.TrimSpace(cfg.Idempotency.DSN); dsn != "" {
		store, err := middleware.OpenIdempotencyStore(dsn)
		if err != nil {
			log.Fatalf("presaled: %v", err)
		}
		opts = append(opts, server.WithIdempotency(middleware.NewIdempotency(store, cfg.Idempotency.TTL.Duration, logger)))
	}

	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration,
	}, engine, auth, middleware.NewRateLimiter(limits, logger), logger, opts...)
	if err != nil {
		log.Fatalf("presaled: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}
