package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	RelayReasonDeadlineExceeded     = "deadline_exceeded"
	RelayReasonDBLockTimeout        = "db_lock_timeout"
	RelayReasonSerializationFailure = "serialization_failure"
	RelayReasonUniqueViolation      = "unique_violation"
	RelayReasonPublish              = "publish"
	RelayReasonUnknown              = "unknown"
)

// RelayMetrics captures outbox relay health: runs, latency, failures and backlog.
type RelayMetrics struct {
	runs      prometheus.Counter
	duration  prometheus.Histogram
	errors    *prometheus.CounterVec
	published *prometheus.CounterVec
	backlog   prometheus.Gauge
}

func NewRelayMetrics(cfg Config) *RelayMetrics {
	return newRelayMetrics(prometheus.DefaultRegisterer, cfg)
}

func newRelayMetrics(registerer prometheus.Registerer, cfg Config) *RelayMetrics {
	constLabels := serviceLabels(cfg)

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "escrow_outbox_relay_runs_total",
		Help:        "Outbox relay ticks.",
		ConstLabels: constLabels,
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "escrow_outbox_relay_duration_seconds",
		Help:        "Outbox relay batch latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "escrow_outbox_relay_errors_total",
		Help:        "Outbox relay errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "escrow_outbox_published_total",
		Help:        "Outbox events handed to publishers by topic.",
		ConstLabels: constLabels,
	}, []string{"topic"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "escrow_outbox_backlog",
		Help:        "Unpublished outbox events seen on the last relay tick.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, duration, errs, published, backlog)

	return &RelayMetrics{
		runs:      runs,
		duration:  duration,
		errors:    errs,
		published: published,
		backlog:   backlog,
	}
}

func (m *RelayMetrics) ObserveRun(d time.Duration, backlog int) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.duration.Observe(d.Seconds())
	m.backlog.Set(float64(backlog))
}

func (m *RelayMetrics) IncPublished(topic string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
}

func (m *RelayMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(ClassifyRelayReason(err)).Inc()
}

// ErrPublish marks failures returned by a publisher rather than the store.
var ErrPublish = errors.New("publish_failed")

// ClassifyRelayReason maps relay errors to low-cardinality reasons.
func ClassifyRelayReason(err error) string {
	switch {
	case err == nil:
		return RelayReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return RelayReasonDeadlineExceeded
	case errors.Is(err, ErrPublish):
		return RelayReasonPublish
	case hasPGCode(err, "55P03"):
		return RelayReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return RelayReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return RelayReasonUniqueViolation
	default:
		return RelayReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
