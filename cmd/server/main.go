package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"reconcile/internal/identity/handler"
	"reconcile/internal/identity/lock"
	identityMetrics "reconcile/internal/identity/metrics"
	"reconcile/internal/identity/service"
	"reconcile/internal/identity/store"
	"reconcile/internal/platform/config"
	"reconcile/internal/platform/httpserver"
	"reconcile/internal/platform/logger"
	"reconcile/internal/platform/metrics"
	redisClient "reconcile/internal/platform/redis"
	"reconcile/internal/ratelimit"
	httptransport "reconcile/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/identity.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	backend, closeStore, err := store.Open(ctx, cfg.Database,
		store.WithTxTimeout(cfg.Reconcile.Timeout),
		store.WithMaxRetries(cfg.Reconcile.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("open contact store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("failed to close contact store", "error", err)
		}
	}()
	log.Info("contact store ready", "dialect", cfg.Database.Dialect)

	checks := map[string]httptransport.HealthCheck{"database": backend.Ping}

	rc, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var locker service.IdentifierLocker = lock.NewLocal()
	if rc != nil {
		defer rc.Close()
		checks["redis"] = rc.Health
		locker = lock.NewFailover(lock.NewRedis(rc.Client, lock.WithTTL(cfg.Lock.TTL), lock.WithWait(cfg.Lock.Wait)), log)
		log.Info("identifier locks held in redis", "ttl", cfg.Lock.TTL, "wait", cfg.Lock.Wait)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.New(backend, backend,
		service.WithLogger(log),
		service.WithMetrics(identityMetrics.New(registry)),
		service.WithLocker(locker),
	)

	var handlerOpts []handler.Option
	if cfg.RateLimit.Requests > 0 {
		var window ratelimit.Store = ratelimit.NewInMemory()
		if rc != nil {
			window = ratelimit.NewRedis(rc.Client)
		}
		limiter := ratelimit.New(window, cfg.RateLimit.Requests, cfg.RateLimit.Window, ratelimit.WithLogger(log))
		handlerOpts = append(handlerOpts, handler.WithIdentifyMiddleware(ratelimit.Middleware(limiter, "identify", log)))
		log.Info("identify rate limit enabled", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Metrics:        metrics.New(registry),
		Gatherer:       registry,
		RequestTimeout: cfg.RequestTimeout,
		Checks:         checks,
		Handlers:       []httptransport.Registrar{handler.New(svc, log, handlerOpts...)},
		AllowedOrigins: cfg.CORSOrigins,
	})
	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout+5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting identity reconciliation service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
