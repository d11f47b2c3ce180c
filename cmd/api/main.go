package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kbstack/kbsearch/internal/adapters/http"
	"github.com/kbstack/kbsearch/internal/bootstrap"
	"github.com/kbstack/kbsearch/internal/config"
	"github.com/kbstack/kbsearch/internal/observability/logging"
	"github.com/kbstack/kbsearch/internal/observability/metrics"
)

const serviceName = "api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	serverMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(app.Search, app.Status, app.Queue, logger, httpadapter.RateLimitConfig{
		RequestsPerSecond: cfg.SearchRateLimitRPS,
		Burst:             cfg.SearchRateLimitBurst,
	}).WithMetrics(serverMetrics, serviceName)

	mux := http.NewServeMux()
	mux.Handle("/metrics", serverMetrics.Handler())
	mux.Handle("/", router.Handler())

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("listen failed", slog.String("port", cfg.APIPort), slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Cap accepted connections so a traffic spike degrades into queuing at
	// the listener instead of exhausting file descriptors.
	listener = netutil.LimitListener(listener, cfg.MaxConcurrentConns)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("port", cfg.APIPort))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("api stopped")
}
