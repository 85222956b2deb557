package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestProcHelpersIncrementLabeledCounters(t *testing.T) {
	before := counterValue(t, ProcTerminateTotal.WithLabelValues("sigterm", "ok"))
	IncProcTerminate("sigterm", "ok")
	assert.Equal(t, before+1, counterValue(t, ProcTerminateTotal.WithLabelValues("sigterm", "ok")))

	before = counterValue(t, ProcWaitTotal.WithLabelValues("exited"))
	IncProcWait("exited")
	assert.Equal(t, before+1, counterValue(t, ProcWaitTotal.WithLabelValues("exited")))
}

func TestGaugesTrackInflight(t *testing.T) {
	base := gaugeValue(t, DownloadsInflight)
	DownloadsInflight.Inc()
	assert.Equal(t, base+1, gaugeValue(t, DownloadsInflight))
	DownloadsInflight.Dec()
	assert.Equal(t, base, gaugeValue(t, DownloadsInflight))
}
