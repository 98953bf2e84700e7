package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "endpoint_calls_total",
			Help:      "Number of calls per endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "endpoint_call_duration_seconds",
			Help:      "Duration of calls per endpoint.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"endpoint"},
	)

	rpcEndpointHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "endpoint_healthy",
			Help:      "1 when the endpoint is considered healthy.",
		},
		[]string{"endpoint"},
	)

	rpcRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per endpoint rate limiter.",
		},
		[]string{"endpoint"},
	)

	rpcFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "fallbacks_total",
			Help:      "Calls served by an endpoint other than the first ranked one.",
		},
	)

	rpcCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "rpc",
			Name:      "cache_requests_total",
			Help:      "Request cache lookups by result (hit, miss, shared).",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(rpcCalls, rpcDuration, rpcEndpointHealthy, rpcRateLimited, rpcFallbacks, rpcCache)
}

// RPCCall records one attempt against an endpoint. outcome is one of
// success, error or rate_limited.
func RPCCall(endpoint, outcome string, d time.Duration) {
	rpcCalls.WithLabelValues(endpoint, outcome).Inc()
	if d > 0 {
		rpcDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

func RPCEndpointHealth(endpoint string, healthy bool) {
	rpcEndpointHealthy.WithLabelValues(endpoint).Set(boolToFloat(healthy))
}

func RPCCache(result string) {
	rpcCache.WithLabelValues(result).Inc()
}

func RPCRateLimited(endpoint string) {
	rpcRateLimited.WithLabelValues(endpoint).Inc()
}

func RPCFallback() {
	rpcFallbacks.Inc()
}
