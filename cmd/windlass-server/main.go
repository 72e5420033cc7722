// Command windlass-server runs the workflow engine's HTTP façade: it loads
// config, opens the selected store backend, and serves rpc.Router until an
// interrupt signal (os.Interrupt) arrives, then drains in-flight requests
// before exiting. Grounded on oasis cmd/oasis/main.go's
// option-construction-then-signal.NotifyContext shutdown shape, extended
// with an explicit http.Server.Shutdown drain (xentoshi-lake's api/main.go
// pattern) since oasis's agent.Run has no listener to drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/windlass-dev/windlass"
	"github.com/windlass-dev/windlass/expr"
	"github.com/windlass-dev/windlass/httpcall"
	"github.com/windlass-dev/windlass/internal/config"
	"github.com/windlass-dev/windlass/observer"
	"github.com/windlass-dev/windlass/rpc"
	"github.com/windlass-dev/windlass/store/memory"
	"github.com/windlass-dev/windlass/store/postgres"
	"github.com/windlass-dev/windlass/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("windlass-server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load(os.Getenv("WINDLASS_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeRepo()

	if err := repo.Init(ctx); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}

	var tracer windlass.Tracer
	var metrics windlass.Metrics
	var shutdownObserver func(context.Context) error
	if cfg.Observer.Enabled {
		instruments, shutdown, err := observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		tracer = observer.NewTracer()
		metrics = observer.NewMetrics(instruments)
		shutdownObserver = shutdown
	}

	eval := expr.New()
	cache := windlass.NewResponseCache()
	callerOpts := []httpcall.Option{httpcall.WithLogger(logger), httpcall.WithCache(cache)}
	if metrics != nil {
		callerOpts = append(callerOpts, httpcall.WithMetrics(metrics))
	}
	caller := httpcall.New(eval, callerOpts...)

	executorOpts := []windlass.ExecutorOption{}
	if metrics != nil {
		executorOpts = append(executorOpts, windlass.WithMetrics(metrics))
	}
	executor := windlass.NewExecutor(caller, eval, tracer, executorOpts...)

	facade := rpc.New(repo, executor, rpc.WithLogger(logger))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      rpc.Router(facade),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disabled: the logs subscription streams indefinitely
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("windlass-server listening", "addr", cfg.Server.Addr, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if shutdownObserver != nil {
		if err := shutdownObserver(shutdownCtx); err != nil {
			logger.Error("observer shutdown failed", "error", err)
		}
	}
	return nil
}

// openRepository builds the Repository for cfg.Backend and a func that
// releases its pooled resources. Missing backend-specific configuration is
// a startup failure with a precise diagnostic, per SPEC_FULL.md §6.
func openRepository(ctx context.Context, cfg config.StoreConfig) (*windlass.Repository, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		repo := memory.New()
		return repo, func() {}, nil

	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, nil, errors.New("WINDLASS_SQLITE_PATH is required when store backend is sqlite")
		}
		repo, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("WINDLASS_POSTGRES_DSN is required when store backend is postgres")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := postgres.New(pool)
		return repo, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
