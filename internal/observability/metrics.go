package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_http_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookings_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	WorkflowOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_workflow_ops_total",
			Help: "Workflow operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	WaitlistPromotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_waitlist_promotions_total",
			Help: "Waitlist entries promoted to confirmed bookings",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookings_outbox_lag_seconds",
			Help: "Age of the oldest outbox record in the last published batch",
		},
	)

	RabbitPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			DBTxDuration,
			DBTxRetries,
			WorkflowOps,
			WaitlistPromotions,
			OutboxLag,
			RabbitPublishFailures,
			RateLimitExceeded,
		)
	})
}
