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
	MessagesProcessed   prometheus.Counter
	MessagesBlocked     prometheus.Counter
	MessagesIntercepted prometheus.Counter
	CommandsExecuted    prometheus.Counter
	CommandsDenied      *prometheus.CounterVec
	CommandsFailed      prometheus.Counter
	BansLapsed          prometheus.Counter
	PremiumDemotions    prometheus.Counter
	ThresholdRemovals   prometheus.Counter

	// Histograms (seconds)
	HandlerDuration  prometheus.Observer
	DispatchDuration prometheus.Observer

	// Gauges
	InFlightGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_messages_processed_total", Help: "Inbound messages entering the dispatch loop"})
		MessagesBlocked = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_messages_blocked_total", Help: "Messages dropped because the sender is banned"})
		MessagesIntercepted = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_messages_intercepted_total", Help: "Messages intercepted by the moderation engine"})
		CommandsExecuted = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_commands_executed_total", Help: "Command handlers invoked"})
		CommandsDenied = promauto.NewCounterVec(prometheus.CounterOpts{Name: "warden_commands_denied_total", Help: "Commands denied before dispatch"}, []string{"reason"})
		CommandsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_commands_failed_total", Help: "Command handlers that returned an internal error"})
		BansLapsed = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_bans_lapsed_total", Help: "Time-boxed bans cleared on read"})
		PremiumDemotions = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_premium_demotions_total", Help: "Premium subscriptions demoted to basic on expiry"})
		ThresholdRemovals = promauto.NewCounter(prometheus.CounterOpts{Name: "warden_threshold_removals_total", Help: "Users removed from a room after crossing the warning threshold"})
		HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "warden_handler_duration_seconds", Help: "Command handler duration seconds", Buckets: prometheus.DefBuckets})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "warden_dispatch_duration_seconds", Help: "Full dispatch pass duration seconds", Buckets: prometheus.DefBuckets})
		InFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "warden_messages_in_flight", Help: "Messages currently inside the dispatch loop"})
	})
}

// DenyReason labels for CommandsDenied.
const (
	DenyPermission = "permission"
	DenyQuota      = "quota"
	DenyNotFound   = "not_found"
	DenyValidation = "validation"
)

// CountDenied increments the denial counter for a reason, tolerating
// uninitialized metrics in tests.
func CountDenied(reason string) {
	if CommandsDenied != nil {
		CommandsDenied.WithLabelValues(reason).Inc()
	}
}

// Inc increments a counter if metrics are initialized.
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
