// Package metrics is the Prometheus-backed reporter server.HTTPServer
// exposes for its connection and request lifecycle: a connection gauge,
// a request counter broken down by status group, and a request-latency
// histogram. Grounded on the Capture*-per-metric facade style of
// cloudfoundry-gorouter's metrics_prometheus.Metrics, rebuilt directly on
// github.com/prometheus/client_golang (the pack's actual Prometheus
// dependency) instead of code.cloudfoundry.org/go-metric-registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter is the set of metrics server.HTTPServer updates over a
// connection's lifetime. A nil *Reporter is safe to call methods on:
// every method is a no-op, so wiring it is optional.
type Reporter struct {
	connections     prometheus.Gauge
	connectionsOpen prometheus.Counter
	connectionsOver prometheus.Counter
	requests        *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	upgrades        prometheus.Counter
	upgradeFailures prometheus.Counter
}

// NewReporter constructs a Reporter and registers its collectors against
// reg. namespace/subsystem follow the usual Prometheus convention
// ("nio_http", "server" by default when both are empty).
func NewReporter(reg prometheus.Registerer, namespace, subsystem string) *Reporter {
	if namespace == "" {
		namespace = "nio_http"
	}
	if subsystem == "" {
		subsystem = "server"
	}

	r := &Reporter{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_open", Help: "Number of currently open connections.",
		}),
		connectionsOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_accepted_total", Help: "Total connections accepted.",
		}),
		connectionsOver: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_rejected_total", Help: "Total connections rejected for exceeding the configured limit or failing the TLS handshake.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "requests_total", Help: "Total requests dispatched, by response status group.",
		}, []string{"status_group"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "request_duration_seconds", Help: "Time from dispatch start to response end.",
			Buckets: prometheus.DefBuckets,
		}),
		upgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "upgrades_total", Help: "Total successful protocol upgrades.",
		}),
		upgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "upgrade_failures_total", Help: "Total rejected upgrade requests.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.connections, r.connectionsOpen, r.connectionsOver,
			r.requests, r.requestLatency, r.upgrades, r.upgradeFailures)
	}
	return r
}

// CaptureConnectionOpened records a newly accepted connection.
func (r *Reporter) CaptureConnectionOpened() {
	if r == nil {
		return
	}
	r.connections.Inc()
	r.connectionsOpen.Inc()
}

// CaptureConnectionClosed records a connection going inactive.
func (r *Reporter) CaptureConnectionClosed() {
	if r == nil {
		return
	}
	r.connections.Dec()
}

// CaptureConnectionRejected records a connection turned away, either for
// exceeding ServerOptions.ConnectionLimit or for failing its TLS
// handshake.
func (r *Reporter) CaptureConnectionRejected() {
	if r == nil {
		return
	}
	r.connectionsOver.Inc()
}

// CaptureRequest records one completed dispatch: its status code and the
// wall-clock time from dispatch start to response end.
func (r *Reporter) CaptureRequest(statusCode int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(statusGroupName(statusCode)).Inc()
	r.requestLatency.Observe(d.Seconds())
}

// CaptureUpgrade records a successful protocol upgrade.
func (r *Reporter) CaptureUpgrade() {
	if r == nil {
		return
	}
	r.upgrades.Inc()
}

// CaptureUpgradeFailure records a rejected upgrade request.
func (r *Reporter) CaptureUpgradeFailure() {
	if r == nil {
		return
	}
	r.upgradeFailures.Inc()
}

func statusGroupName(statusCode int) string {
	group := statusCode / 100
	if group >= 1 && group <= 5 {
		return string(rune('0'+group)) + "xx"
	}
	return "xxx"
}
