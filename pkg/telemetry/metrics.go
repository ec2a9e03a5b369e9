package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for recipe processing.
// A Metrics built from a disabled config is a no-op; every recorder is nil-guarded.
type Metrics struct {
	config MetricsConfig

	recipesStarted   *prometheus.CounterVec
	recipesCompleted *prometheus.CounterVec
	recipeDuration   *prometheus.HistogramVec

	phaseRuns     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec

	downloadsDetected  *prometheus.CounterVec
	trustVerifications *prometheus.CounterVec
	cacheSaves         *prometheus.CounterVec
	errors             *prometheus.CounterVec

	activeRecipes prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		recipesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_started_total",
				Help:      "Total number of recipe runs started",
			},
			[]string{"recipe"},
		),
		recipesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_completed_total",
				Help:      "Total number of recipe runs completed",
			},
			[]string{"status"},
		),
		recipeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recipe_duration_seconds",
				Help:      "Duration of a complete recipe pipeline in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		phaseRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_runs_total",
				Help:      "Total number of autopkg invocations by phase and exit status",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of autopkg invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		downloadsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_detected_total",
				Help:      "Total number of new artifacts reported by check phases",
			},
			[]string{"recipe"},
		),
		trustVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trust_verifications_total",
				Help:      "Total number of trust info verifications by outcome",
			},
			[]string{"state"},
		),
		cacheSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_saves_total",
				Help:      "Total number of metadata cache writes by backend and status",
			},
			[]string{"backend", "status"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of recipe errors by kind",
			},
			[]string{"kind"},
		),
		activeRecipes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_recipes",
				Help:      "Current number of recipes being processed",
			},
		),
	}

	registry.MustRegister(
		m.recipesStarted,
		m.recipesCompleted,
		m.recipeDuration,
		m.phaseRuns,
		m.phaseDuration,
		m.downloadsDetected,
		m.trustVerifications,
		m.cacheSaves,
		m.errors,
		m.activeRecipes,
	)

	return m, nil
}

// RecordRecipeStarted increments the started counter and the active gauge.
func (m *Metrics) RecordRecipeStarted(recipe string) {
	if m == nil || m.recipesStarted == nil {
		return
	}
	m.recipesStarted.WithLabelValues(recipe).Inc()
	m.activeRecipes.Inc()
}

// RecordRecipeCompleted records a finished recipe pipeline.
func (m *Metrics) RecordRecipeCompleted(status string, duration time.Duration) {
	if m == nil || m.recipesCompleted == nil {
		return
	}
	m.recipesCompleted.WithLabelValues(status).Inc()
	m.recipeDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRecipes.Dec()
}

// RecordPhase records one autopkg invocation.
func (m *Metrics) RecordPhase(phase string, exitCode int, duration time.Duration) {
	if m == nil || m.phaseRuns == nil {
		return
	}
	status := "success"
	if exitCode != 0 {
		status = "failure"
	}
	m.phaseRuns.WithLabelValues(phase, status).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordDownloads adds n newly detected artifacts for recipe.
func (m *Metrics) RecordDownloads(recipe string, n int) {
	if m == nil || m.downloadsDetected == nil || n == 0 {
		return
	}
	m.downloadsDetected.WithLabelValues(recipe).Add(float64(n))
}

// RecordTrustVerification records the resulting trust state.
func (m *Metrics) RecordTrustVerification(state string) {
	if m == nil || m.trustVerifications == nil {
		return
	}
	m.trustVerifications.WithLabelValues(state).Inc()
}

// RecordCacheSave records a metadata cache write.
func (m *Metrics) RecordCacheSave(backend string, err error) {
	if m == nil || m.cacheSaves == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.cacheSaves.WithLabelValues(backend, status).Inc()
}

// RecordError records a recipe error by kind (lookup, format, contents, policy, ...).
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
