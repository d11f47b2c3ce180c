package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbstack/kbsearch/internal/bootstrap"
	"github.com/kbstack/kbsearch/internal/config"
	"github.com/kbstack/kbsearch/internal/observability/logging"
	"github.com/kbstack/kbsearch/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		Observer: &metricsObserver{metrics: workerMetrics},
	})
	if err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:         ":" + cfg.WorkerMetricsPort,
		Handler:      metricsHandler(workerMetrics),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", slog.String("port", cfg.WorkerMetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("worker consuming jobs")
	if err := app.Queue.ConsumeIngestionJobs(ctx, app.Ingestion.Run); err != nil {
		logger.Error("consume jobs", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("worker stopped")
}

func metricsHandler(m *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// metricsObserver bridges pipeline events onto the Prometheus collectors.
type metricsObserver struct {
	metrics *metrics.WorkerMetrics
}

func (o *metricsObserver) DocumentStarted() {
	o.metrics.StartDocument()
}

func (o *metricsObserver) DocumentFinished(outcome string) {
	o.metrics.FinishDocument(serviceName, outcome)
}

func (o *metricsObserver) StageObserved(stage string, duration time.Duration) {
	o.metrics.ObserveStage(serviceName, stage, duration)
}

func (o *metricsObserver) ChunksIndexed(model string, count int) {
	o.metrics.AddChunksIndexed(serviceName, model, count)
}

func (o *metricsObserver) RunFinished(stage string) {
	o.metrics.FinishRun(serviceName, stage)
}
