package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	walletConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "connections_total",
			Help:      "Number of wallet connections.",
		},
		[]string{"source"},
	)

	walletDisconnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "disconnections_total",
			Help:      "Number of wallet disconnections.",
		},
		[]string{"source"},
	)

	walletReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "reconnect_attempts_total",
			Help:      "Number of automatic reconnect attempts.",
		},
	)

	walletErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "errors_total",
			Help:      "Number of wallet connection errors.",
		},
	)

	walletConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "connected",
			Help:      "1 when a wallet is connected.",
		},
	)

	walletHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "healthy",
			Help:      "Result of the last connection health check.",
		},
	)

	walletConnectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "walletd",
			Subsystem: "wallet",
			Name:      "connect_duration_seconds",
			Help:      "Time from connecting to connected.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)
)

func init() {
	Registry.MustRegister(
		walletConnections,
		walletDisconnections,
		walletReconnectAttempts,
		walletErrors,
		walletConnected,
		walletHealthy,
		walletConnectDuration,
	)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func WalletConnected(source string, connectSeconds float64) {
	walletConnections.WithLabelValues(source).Inc()
	walletConnected.Set(1)
	if connectSeconds > 0 {
		walletConnectDuration.Observe(connectSeconds)
	}
}

func WalletDisconnected(source string) {
	walletDisconnections.WithLabelValues(source).Inc()
	walletConnected.Set(0)
}

func WalletReconnectAttempt() {
	walletReconnectAttempts.Inc()
}

func WalletError() {
	walletErrors.Inc()
}

func WalletHealth(healthy bool) {
	walletHealthy.Set(boolToFloat(healthy))
}
