package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnet_delegation_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subnet_delegation_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subnet_delegation_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	StakeRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnet_delegation_stake_refresh_total",
			Help: "Total number of stake refresh runs",
		},
		[]string{"status"},
	)

	StakeRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subnet_delegation_stake_refresh_duration_seconds",
			Help:    "Duration of stake refresh runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~410s
		},
	)

	StakeRefreshAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subnet_delegation_stake_refresh_accounts",
			Help: "Number of accounts processed by the last stake refresh",
		},
	)

	ChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnet_delegation_chain_requests_total",
			Help: "Total number of chain RPC calls",
		},
		[]string{"method", "status"},
	)

	PriceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnet_delegation_price_fetch_total",
			Help: "Total number of price feed fetches",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStakeRefresh records metrics for a completed stake refresh run.
func RecordStakeRefresh(duration time.Duration, accounts int, err error) {
	StakeRefreshTotal.WithLabelValues(status(err)).Inc()
	StakeRefreshDuration.Observe(duration.Seconds())
	StakeRefreshAccounts.Set(float64(accounts))
}

func RecordChainRequest(method string, err error) {
	ChainRequestsTotal.WithLabelValues(method, status(err)).Inc()
}

func RecordPriceFetch(err error) {
	PriceFetchTotal.WithLabelValues(status(err)).Inc()
}
