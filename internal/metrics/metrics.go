// Package metrics exports ingestion cycle counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duiwatch/internal/models"
)

// Namespace prefixes every metric.
const Namespace = "duiwatch"

// Metrics holds the cycle metrics.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	SourcesTotal         *prometheus.CounterVec
	DocumentsTotal       *prometheus.CounterVec
	RecordsTotal         *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec
	AIFallbacksTotal     prometheus.Counter
	CycleRunning         prometheus.Gauge
	LastSuccess          prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates and registers the metrics on reg. A nil reg uses a fresh
// registry so tests and repeated constructions do not collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Ingestion cycles by result",
		}, []string{"result"}),
		CycleDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one ingestion cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		SourcesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sources_total",
			Help:      "Sources processed by result",
		}, []string{"result"}),
		DocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "documents_total",
			Help:      "Documents fetched by result",
		}, []string{"result"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Records by pipeline stage outcome",
		}, []string{"outcome"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Errors by category",
		}, []string{"category"}),
		AIFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ai_fallbacks_total",
			Help:      "Documents structured by the AI adapter",
		}),
		CycleRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cycle_running",
			Help:      "1 while a cycle is running",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that finished without a failed source",
		}),
	}
}

// ObserveCycle adds the counters of one finished cycle.
func (m *Metrics) ObserveCycle(stats *models.CycleStats) {
	if m == nil || stats == nil {
		return
	}

	result := "ok"
	if stats.SourcesFailed > 0 {
		result = "partial"
	}

	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDurationSeconds.Observe(stats.Duration().Seconds())

	m.SourcesTotal.WithLabelValues("processed").Add(float64(stats.SourcesProcessed))
	m.SourcesTotal.WithLabelValues("failed").Add(float64(stats.SourcesFailed))
	m.DocumentsTotal.WithLabelValues("fetched").Add(float64(stats.DocumentsFetched))
	m.DocumentsTotal.WithLabelValues("failed").Add(float64(stats.DocumentsFailed))

	m.RecordsTotal.WithLabelValues("parsed").Add(float64(stats.RecordsParsed))
	m.RecordsTotal.WithLabelValues("created").Add(float64(stats.RecordsCreated))
	m.RecordsTotal.WithLabelValues("updated").Add(float64(stats.RecordsUpdated))
	m.RecordsTotal.WithLabelValues("rejected").Add(float64(stats.RecordsRejected))
	m.RecordsTotal.WithLabelValues("simulated").Add(float64(stats.SimulatedExtracted))

	m.AIFallbacksTotal.Add(float64(stats.AIFallbacks))

	for category, n := range stats.ErrorsByCategory {
		m.ErrorsTotal.WithLabelValues(category).Add(float64(n))
	}

	if stats.SourcesFailed == 0 {
		m.LastSuccess.Set(float64(stats.FinishedAt.Unix()))
	}
}

// SetRunning flips the running gauge.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}

	if running {
		m.CycleRunning.Set(1)
	} else {
		m.CycleRunning.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
