package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	documentTotal    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	documentInFlight prometheus.Gauge
	chunksIndexed    *prometheus.CounterVec
	runTotal         *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	documentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbs",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total processed documents by outcome.",
		},
		[]string{"service", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbs",
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Per-document pipeline stage duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "stage"},
	)
	documentInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kbs",
			Subsystem: "ingest",
			Name:      "documents_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksIndexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbs",
			Subsystem: "ingest",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks written to the vector index.",
		},
		[]string{"service", "model"},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbs",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total ingestion runs by final stage.",
		},
		[]string{"service", "stage"},
	)
	registry.MustRegister(documentTotal, stageDuration, documentInFlight, chunksIndexed, runTotal)

	return &WorkerMetrics{
		registry:         registry,
		documentTotal:    documentTotal,
		stageDuration:    stageDuration,
		documentInFlight: documentInFlight,
		chunksIndexed:    chunksIndexed,
		runTotal:         runTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.documentInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service, outcome string) {
	m.documentInFlight.Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.documentTotal.WithLabelValues(service, outcome).Inc()
}

func (m *WorkerMetrics) ObserveStage(service, stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddChunksIndexed(service, model string, chunks int) {
	if chunks <= 0 {
		return
	}
	m.chunksIndexed.WithLabelValues(service, model).Add(float64(chunks))
}

func (m *WorkerMetrics) FinishRun(service, stage string) {
	m.runTotal.WithLabelValues(service, stage).Inc()
}
