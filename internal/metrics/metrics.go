// Package metrics exposes Prometheus collectors for the watcher daemon.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal            *prometheus.CounterVec
	recordsFetchedTotal   prometheus.Counter
	recordsDeliveredTotal *prometheus.CounterVec
	sessionReconnects     prometheus.Counter
	ledgerSize            prometheus.Gauge
	fetchDurationSeconds  prometheus.Histogram

	once sync.Once
)

// Poll result labels.
const (
	PollOK                 = "ok"
	PollSkipped            = "skipped"
	PollSessionUnavailable = "session_unavailable"
	PollError              = "error"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smswatch_polls_total",
				Help: "Total number of polling ticks, labeled by result.",
			},
			[]string{"result"},
		)

		recordsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smswatch_records_fetched_total",
				Help: "Total number of records returned by the fetcher.",
			},
		)

		recordsDeliveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smswatch_records_delivered_total",
				Help: "Total number of channel deliveries, labeled by channel and result.",
			},
			[]string{"channel", "result"},
		)

		sessionReconnects = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "smswatch_session_reconnects_total",
				Help: "Total number of session reconnection attempts.",
			},
		)

		ledgerSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "smswatch_ledger_size",
				Help: "Current number of fingerprints in the dedup ledger.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smswatch_fetch_duration_seconds",
				Help:    "Histogram of fetch round-trip durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll increments the tick counter for the given result.
func ObservePoll(result string) {
	pollsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records one fetch round trip.
func ObserveFetch(records int, duration time.Duration) {
	recordsFetchedTotal.Add(float64(records))
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveDelivery increments the delivery counter for one channel outcome.
func ObserveDelivery(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	recordsDeliveredTotal.WithLabelValues(channel, result).Inc()
}

// ObserveReconnect counts one session reconnection attempt.
func ObserveReconnect() {
	sessionReconnects.Inc()
}

// SetLedgerSize updates the ledger size gauge.
func SetLedgerSize(n int) {
	ledgerSize.Set(float64(n))
}
