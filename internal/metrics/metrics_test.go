package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestIncClaim(t *testing.T) {
	c := claimsTotalMetric.With(prometheus.Labels{outcomeLabel: ClaimConflict})
	before := counterValue(t, c)
	IncClaim(ClaimConflict)
	if got := counterValue(t, c); got != before+1 {
		t.Errorf("conflict counter = %v, want %v", got, before+1)
	}
}

func TestIncAction(t *testing.T) {
	c := actionsTotalMetric.With(prometheus.Labels{"type": "decide", outcomeLabel: "error"})
	before := counterValue(t, c)
	IncAction("decide", false)
	if got := counterValue(t, c); got != before+1 {
		t.Errorf("action error counter = %v, want %v", got, before+1)
	}
}
