// Package metrics provides Prometheus metrics for discovery scans and stream
// sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation labels.
const (
	OperationProbe    = "probe"
	OperationDownload = "download"
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

var (
	discoveryProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgrab",
		Subsystem: "discovery",
		Name:      "probes_total",
		Help:      "HTTP probes issued during subnet scans",
	}, []string{"outcome"})

	discoveryScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgrab",
		Subsystem: "discovery",
		Name:      "scans_total",
		Help:      "Completed subnet scans by result",
	}, []string{"result"})

	sessionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgrab",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Probe and download operations by outcome",
	}, []string{"operation", "outcome"})

	sessionActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamgrab",
		Subsystem: "session",
		Name:      "active",
		Help:      "1 while a probe or download subprocess is running",
	}, []string{"operation"})

	probeRealFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgrab",
		Subsystem: "probe",
		Name:      "real_fps",
		Help:      "Average non-zero fps observed by the last successful probe",
	})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamgrab",
		Name:      "build_info",
		Help:      "Build metadata, always 1",
	}, []string{"version", "commit"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamgrab",
		Subsystem: "download",
		Name:      "duration_seconds",
		Help:      "Wall time of finished downloads",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	})
)

// ObserveProbe records one discovery probe.
func ObserveProbe(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	discoveryProbes.WithLabelValues(outcome).Inc()
}

// ObserveScan records a finished scan. result is "found", "not_found" or "error".
func ObserveScan(result string) {
	discoveryScans.WithLabelValues(result).Inc()
}

// ObserveOperation records the outcome of a probe or download.
func ObserveOperation(operation, outcome string) {
	sessionOperations.WithLabelValues(operation, outcome).Inc()
}

// SetActive marks an operation as running or idle.
func SetActive(operation string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	sessionActive.WithLabelValues(operation).Set(v)
}

// SetProbeFPS records the real fps of the last successful probe.
func SetProbeFPS(fps float64) {
	probeRealFPS.Set(fps)
}

// ObserveDownloadDuration records how long a download ran.
func ObserveDownloadDuration(seconds float64) {
	downloadDuration.Observe(seconds)
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
