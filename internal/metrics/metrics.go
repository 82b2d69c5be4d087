// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parkmate",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	AuthRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "auth_rejections_total",
			Help:      "Total number of rejected admin requests",
		},
		[]string{"reason"},
	)

	CodesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "activation_codes_generated_total",
			Help:      "Activation codes created by administrators",
		},
	)
	Redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "code_redemptions_total",
			Help:      "Activation code redemptions by outcome",
		},
		[]string{"outcome"},
	)
	TrialsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "trials_total",
			Help:      "Free trial requests by outcome",
		},
		[]string{"outcome"},
	)
	SMSSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "sms_messages_total",
			Help:      "SMS messages dispatched by trigger and status",
		},
		[]string{"trigger", "status"},
	)
	SMSAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "parkmate",
			Name:      "sms_delivery_attempts",
			Help:      "Gateway attempts needed per SMS",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)
	AutomationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parkmate",
			Name:      "automation_runs_total",
			Help:      "Automation triggers handled by result",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Call this from main.go
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthRejections,
			CodesGenerated,
			Redemptions,
			TrialsStarted,
			SMSSent,
			SMSAttempts,
			AutomationRuns,
		)
	})
}
