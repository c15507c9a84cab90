// Package metrics exposes Prometheus instrumentation for the control loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridloop_cycles_total",
		Help: "Control cycles fired, labelled by outcome.",
	}, []string{"outcome"})

	decisionTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridloop_decision_timeouts_total",
		Help: "Remote decision invocations that produced no result in time.",
	})

	writeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridloop_device_write_errors_total",
		Help: "Failed device writes during actuation, labelled by device.",
	}, []string{"device"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridloop_cycle_duration_seconds",
		Help:    "Wall-clock duration of one full cycle.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	cadenceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridloop_cadence_seconds",
		Help: "Configured cycle length in simulated seconds.",
	})

	speedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridloop_speed_factor",
		Help: "Configured time-dilation factor.",
	})

	storageSOCGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridloop_storage_soc_percent",
		Help: "Storage state of charge observed by the last snapshot.",
	})
)

// IncCycle counts one fired cycle with the given outcome.
func IncCycle(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

// IncDecisionTimeout counts a remote invocation that timed out or was
// rejected.
func IncDecisionTimeout() {
	decisionTimeoutsTotal.Inc()
}

// IncWriteError counts a failed actuation write for the given device label.
func IncWriteError(dev string) {
	writeErrorsTotal.WithLabelValues(dev).Inc()
}

// ObserveCycleDuration records the wall-clock duration of one cycle.
func ObserveCycleDuration(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// SetCadence records the configured cadence in simulated seconds.
func SetCadence(seconds float64) {
	cadenceGauge.Set(seconds)
}

// SetSpeed records the configured speed multiplier.
func SetSpeed(speed float64) {
	speedGauge.Set(speed)
}

// SetStorageSOC records the storage charge level from the latest snapshot.
func SetStorageSOC(soc float64) {
	storageSOCGauge.Set(soc)
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
