package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Broker deliveries by queue and the ack decision taken for them.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "induction_sync_deliveries_total",
		Help: "Queue deliveries handled, by queue and decision (ack, reject, requeue)",
	}, []string{"queue", "decision"})

	EmployeeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "induction_sync_employee_outcomes_total",
		Help: "Employees processed, by outcome",
	}, []string{"outcome"})

	ExternalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "induction_sync_external_calls_total",
		Help: "Outbound HikCentral calls, by operation and result",
	}, []string{"operation", "result"})

	ExternalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "induction_sync_external_call_duration_seconds",
		Help:    "Latency of single outbound HikCentral attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	PhotoDownloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "induction_sync_photo_download_failures_total",
		Help: "Photo downloads that fell back to empty face data",
	})

	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "induction_sync_published_messages_total",
		Help: "Messages published to the broker, by queue and result",
	}, []string{"queue", "result"})
)
