// Command veriserved runs the asset storage server: the chunked upload
// API, the certification tree, and the routing-aware serving surface.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veriserve/veriserve/pkg/api"
	"github.com/veriserve/veriserve/pkg/auth"
	"github.com/veriserve/veriserve/pkg/blobsink"
	"github.com/veriserve/veriserve/pkg/certification"
	"github.com/veriserve/veriserve/pkg/config"
	"github.com/veriserve/veriserve/pkg/observability"
	"github.com/veriserve/veriserve/pkg/storage"
	"github.com/veriserve/veriserve/pkg/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("veriserved: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "veriserved",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Storage policy (rewrites, redirects, headers). Optional; an absent
	// file means bare defaults.
	policy := &config.Storage{}
	if cfg.StorageConfigPath != "" {
		policy, err = config.LoadStorage(cfg.StorageConfigPath)
		if err != nil {
			return err
		}
		logger.Info("storage policy loaded", "path", cfg.StorageConfigPath)
	}

	records, err := openRecordStore(cfg)
	if err != nil {
		return err
	}
	defer records.Close()

	tree := certification.New()
	opts := []storage.Option{
		storage.WithBatchTTL(cfg.BatchTTL),
		storage.WithLogger(logger),
		storage.WithObserver(store.NewRecorder(records, logger)),
	}

	sink, err := blobsink.NewFromEnv(ctx)
	if err != nil {
		return err
	}
	if sink != nil {
		opts = append(opts, storage.WithObserver(blobsink.NewArchiver(sink, logger)))
	}

	engine := storage.NewEngine(tree, opts...)

	restored, err := store.RestoreAssets(ctx, records, engine)
	if err != nil {
		return err
	}
	logger.Info("assets restored", "count", restored, "root", tree.Len())

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go engine.RunGC(gcCtx, cfg.GCInterval)

	svc := &api.Service{
		Engine:  engine,
		Tree:    tree,
		Policy:  policy,
		Logger:  logger,
		Metrics: obs.Metrics(),
	}

	mux := http.NewServeMux()
	svc.Routes(mux, api.RequireUpload(auth.NewValidator(cfg.JWTSecret)))

	var limiter api.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiterStore(cfg.RedisAddr, cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiter", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		limiter = api.NewLocalLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	var handler http.Handler = mux
	handler = api.RateLimitMiddleware(limiter, logger)(handler)
	handler = api.LoggingMiddleware(logger)(handler)
	handler = auth.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	stopGC()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func openRecordStore(cfg *config.Config) (store.RecordStore, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return store.OpenPostgres(cfg.DatabaseURL)
	case "sqlite", "":
		return store.OpenSQLite(cfg.DatabaseURL)
	default:
		return nil, errors.New("unknown DATABASE_DRIVER " + cfg.DatabaseDriver)
	}
}
