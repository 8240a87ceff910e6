package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"

	"github.com/badu/nio-http/metrics"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestConnectionGaugeTracksOpenAndClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewReporter(reg, "test", "server")

	r.CaptureConnectionOpened()
	r.CaptureConnectionOpened()
	r.CaptureConnectionClosed()

	f := gather(t, reg, "test_server_connections_open")
	require.NotNil(t, f)
	require.Len(t, f.Metric, 1)
	require.Equal(t, 1.0, f.Metric[0].GetGauge().GetValue())
}

func TestRequestCounterBucketsByStatusGroup(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewReporter(reg, "test", "server")

	r.CaptureRequest(200, 10*time.Millisecond)
	r.CaptureRequest(204, 5*time.Millisecond)
	r.CaptureRequest(503, time.Millisecond)

	f := gather(t, reg, "test_server_requests_total")
	require.NotNil(t, f)

	totals := map[string]float64{}
	for _, m := range f.Metric {
		for _, lbl := range m.Label {
			if lbl.GetName() == "status_group" {
				totals[lbl.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 2.0, totals["2xx"])
	require.Equal(t, 1.0, totals["5xx"])
}

func TestNilReporterMethodsAreNoOps(t *testing.T) {
	var r *metrics.Reporter
	require.NotPanics(t, func() {
		r.CaptureConnectionOpened()
		r.CaptureConnectionClosed()
		r.CaptureConnectionRejected()
		r.CaptureRequest(200, time.Millisecond)
		r.CaptureUpgrade()
		r.CaptureUpgradeFailure()
	})
}
