// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TriggersFired     prometheus.Counter
	ClipsCreated      prometheus.Counter
	ClipsFailed       prometheus.Counter
	ChatReconnects    prometheus.Counter
	ThumbnailFailures prometheus.Counter
	EnrichFailures    prometheus.Counter
	UploadsSucceeded  prometheus.Counter
	UploadsFailed     prometheus.Counter

	// Histograms (seconds)
	ResolveDuration prometheus.Observer
	ExtractDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TriggersFired = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_triggers_fired_total", Help: "Number of viral triggers fired"})
		ClipsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_extractions_succeeded_total", Help: "Number of clip extractions succeeded"})
		ClipsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_extractions_failed_total", Help: "Number of clip extractions failed"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of chat reconnect attempts after a dropped connection"})
		ThumbnailFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "thumbnail_failed_cycles_total", Help: "Number of thumbnail refresh cycles that exhausted all attempts"})
		EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "enrich_failures_total", Help: "Number of enrichment calls that fell back to unenriched data"})
		UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "storage_uploads_succeeded_total", Help: "Number of artifact uploads succeeded"})
		UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "storage_uploads_failed_total", Help: "Number of artifact uploads failed"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_resolve_duration_seconds", Help: "Stream URL resolution duration seconds", Buckets: prometheus.DefBuckets})
		ExtractDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_extract_duration_seconds", Help: "Clip extraction duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "monitor_active_sessions", Help: "Current number of active monitoring sessions"})
	})
}

// SetActiveSessions records the current active session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// Inc bumps a counter, tolerating uninitialized metrics in tests.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
