package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-relay/internal/archive"
	appcfg "github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/events"
	"github.com/park285/cheese-relay/internal/httpapi"
	"github.com/park285/cheese-relay/internal/journal"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/notify"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/render"
	"github.com/park285/cheese-relay/internal/rules"
	"github.com/park285/cheese-relay/internal/session"
	"github.com/park285/cheese-relay/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	engine, err := rules.NewEngine(cfg.InitialFEN)
	if err != nil {
		logger.Fatal("rules_init_error", zap.Error(err))
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_init_error", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := events.NewDispatcher(events.WithLogger(logger))
	var jr *journal.Journal
	if cfg.RedisURL != "" {
		jr, err = journal.Open(rootCtx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("journal_init_error", zap.Error(err))
		}
		defer func() { _ = jr.Close() }()
		dispatcher.Add("journal", jr)
	}
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		sctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		err = repo.EnsureSchema(sctx)
		cancel()
		if err != nil {
			logger.Fatal("archive_schema_error", zap.Error(err))
		}
		dispatcher.Add("archive", archive.NewArchiver(repo))
	}
	if cfg.WebhookURL != "" {
		hook, err := notify.NewWebhook(cfg.WebhookURL, notify.WithCatalog(catalog))
		if err != nil {
			logger.Fatal("webhook_init_error", zap.Error(err))
		}
		dispatcher.Add("notify", hook)
	}

	// Sinks outlive the relay so the final events still get delivered.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	go dispatcher.Run(sinkCtx)

	rl := relay.New(rootCtx, session.New(engine), relay.Options{
		RejectNotices: cfg.RejectNotices,
		Catalog:       catalog,
		Events:        dispatcher,
		Logger:        logger,
	})

	deps := httpapi.Deps{
		Relay: rl,
		WS: ws.NewHandler(rl, ws.Options{
			OutboxSize:     cfg.OutboxSize,
			PingInterval:   cfg.PingInterval,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
		Renderer:   render.New(),
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	}
	if jr != nil {
		deps.Journal = jr
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay_start",
			zap.String("addr", cfg.Addr),
			zap.Bool("reject_notices", cfg.RejectNotices),
			zap.Duration("idle_timeout", cfg.IdleTimeout),
			zap.Int("sinks", dispatcher.Len()),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_error", zap.Error(err))
		}
	}

	// Closing the relay first closes every outbox, which ends the
	// hijacked WebSocket handlers that Shutdown does not wait for.
	rl.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	stopSinks()
	select {
	case <-dispatcher.Done():
	case <-shutdownCtx.Done():
		logger.Warn("sink_flush_timeout", zap.Uint64("dropped", dispatcher.Dropped()))
	}
	logger.Info("relay_exit")
}
