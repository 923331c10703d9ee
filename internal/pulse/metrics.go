package pulse

import (
	"github.com/HerbHall/pulsewatch/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus engine metrics.
var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_probes_total",
			Help: "Total number of health probes by protocol and result.",
		},
		[]string{"protocol", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsewatch_probe_duration_seconds",
			Help:    "Health probe response time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_transitions_total",
			Help: "Total number of service status transitions by new status.",
		},
		[]string{"status"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_notifications_total",
			Help: "Total notification deliveries by channel type and result.",
		},
		[]string{"type", "result"},
	)
	persistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsewatch_persistence_errors_total",
			Help: "Total failed durable writes by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(probesTotal)
	prometheus.MustRegister(probeDuration)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(persistenceErrors)
}

func observeProbe(protocol models.Protocol, r models.HealthCheckResult) {
	result := "success"
	if !r.Success {
		result = "failure"
	}
	probesTotal.WithLabelValues(string(protocol), result).Inc()
	probeDuration.WithLabelValues(string(protocol)).Observe(r.ResponseTimeMs / 1000)
}
