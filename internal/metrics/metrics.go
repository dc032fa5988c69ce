// Package metrics holds the Prometheus collectors for review mutations,
// aggregate maintenance, the outbox relay and the HTTP layer.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Clark-Hu/game-reviews/internal/domain"
)

var (
	ReviewMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_mutations_total",
			Help: "Review create/update/delete calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AggregateRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregate_refresh_duration_seconds",
			Help:    "Time spent reading a game's reviews and writing its average",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecomputeEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recompute_entities_total",
			Help: "Games processed by the bulk recompute job",
		},
		[]string{"result"}, // "updated", "refreshed", "failed"
	)

	RecomputeSkippedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recompute_skipped_records_total",
			Help: "Reviews ignored by the bulk job because they carry no stored average",
		},
	)

	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recompute_duration_seconds",
			Help:    "Wall time of a full bulk recompute run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Review events published to NATS",
		},
	)

	OutboxPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Review events that failed to publish",
		},
	)

	OutboxBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_circuit_breaker_state",
			Help: "Publish circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Outcome classifies an error from the review service into a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func RecordReviewMutation(operation string, err error) {
	ReviewMutations.WithLabelValues(operation, Outcome(err)).Inc()
}

func ObserveAggregateRefresh(d time.Duration) {
	AggregateRefreshDuration.Observe(d.Seconds())
}

func RecordRecomputeEntity(result string) {
	RecomputeEntities.WithLabelValues(result).Inc()
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
