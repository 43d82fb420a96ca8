package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-eligibility-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	validationTotal    *prometheus.CounterVec
	validationDuration prometheus.Observer
	exceptionsApplied  *prometheus.CounterVec
	setupIssues        prometheus.Counter
	scanTotal          *prometheus.CounterVec
	scanDuration       prometheus.Observer

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	validationTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eligibility_validations_total",
		Help: "Validations by overall status",
	}, []string{"status"})

	validationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eligibility_validation_duration_seconds",
		Help:    "End-to-end duration of a validation including persistence",
		Buckets: prometheus.DefBuckets,
	})

	exceptionsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eligibility_exceptions_applied_total",
		Help: "Overrides and waivers that changed a validation outcome",
	}, []string{"kind"})

	setupIssues := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eligibility_setup_issues_total",
		Help: "Rule configuration problems found while validating",
	})

	scanTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eligibility_dependency_scans_total",
		Help: "Circular dependency detections by outcome",
	}, []string{"outcome"})

	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eligibility_dependency_scan_duration_seconds",
		Help:    "Duration of circular dependency detections",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		validationTotal, validationDuration, exceptionsApplied, setupIssues, scanTotal, scanDuration, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		validationTotal:    validationTotal,
		validationDuration: validationDuration,
		exceptionsApplied:  exceptionsApplied,
		setupIssues:        setupIssues,
		scanTotal:          scanTotal,
		scanDuration:       scanDuration,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveValidation records one persisted validation.
func (m *MetricsService) ObserveValidation(result *models.PrerequisiteValidationResult, duration time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.validationTotal.WithLabelValues(string(result.OverallStatus)).Inc()
	m.validationDuration.Observe(duration.Seconds())
	if n := len(result.Overrides); n > 0 {
		m.exceptionsApplied.WithLabelValues(string(models.ExceptionOverride)).Add(float64(n))
	}
	if n := len(result.Waivers); n > 0 {
		m.exceptionsApplied.WithLabelValues(string(models.ExceptionWaiver)).Add(float64(n))
	}
	if n := len(result.SetupIssues); n > 0 {
		m.setupIssues.Add(float64(n))
	}
}

// ObserveDependencyScan records one detection; a nil result means it failed.
func (m *MetricsService) ObserveDependencyScan(result *models.CircularDependencyResult, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	switch {
	case result == nil:
	case result.HasCircularDependency:
		outcome = "cycle"
	default:
		outcome = "clean"
	}
	m.scanTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(duration.Seconds())
}
