// Package metrics holds the Prometheus collectors for dispatches and the
// conversation store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeOK = "ok"

var (
	dispatchesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trichat_dispatches_total",
		Help: "Number of user messages fanned out, by primary model",
	}, []string{"primary"})
	providerOutcomesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trichat_provider_outcomes_total",
		Help: "Provider outcomes by result (ok, missing-credential, transport-error, provider-error)",
	}, []string{"provider", "result"})
	providerLatencyMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trichat_provider_latency_seconds",
		Help:    "Time taken by a single provider generation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})
	dispatchLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trichat_dispatch_latency_seconds",
		Help:    "Time from fan-out start to join",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	conversationsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trichat_conversations",
		Help: "Number of conversations currently held in memory",
	})
	evictionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trichat_conversation_evictions_total",
		Help: "Number of conversations evicted for inactivity",
	})
)

func ObserveDispatch(primary string, took time.Duration) {
	dispatchesMetric.WithLabelValues(primary).Inc()
	dispatchLatencyMetric.Observe(took.Seconds())
}

// ObserveOutcome records one provider result. failure is empty on success.
func ObserveOutcome(provider, failure string, took time.Duration) {
	result := failure
	if result == "" {
		result = outcomeOK
	}
	providerOutcomesMetric.WithLabelValues(provider, result).Inc()
	providerLatencyMetric.WithLabelValues(provider).Observe(took.Seconds())
}

func SetConversations(n int) {
	conversationsMetric.Set(float64(n))
}

func AddEvictions(n int) {
	if n > 0 {
		evictionsMetric.Add(float64(n))
	}
}
