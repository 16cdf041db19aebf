package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.HedgesConfirmed.Inc()
	prom.Metrics.PartialOpens.Inc()
	prom.Metrics.Evaluations.Inc()
	prom.Metrics.Evaluations.Inc()

	assertCounter(t, prom.Metrics.OrdersPlaced, 1)
	assertCounter(t, prom.Metrics.HedgesConfirmed, 1)
	assertCounter(t, prom.Metrics.PartialOpens, 1)
	assertCounter(t, prom.Metrics.OrdersFailed, 0)
	assertCounter(t, prom.Metrics.Evaluations, 2)
}

func assertCounter(t *testing.T, counter Counter, expected float64) {
	t.Helper()
	pc, ok := counter.(promCounter)
	if !ok {
		t.Fatalf("expected prometheus-backed counter, got %T", counter)
	}
	if got := testutil.ToFloat64(prometheus.Counter(pc.counter)); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
