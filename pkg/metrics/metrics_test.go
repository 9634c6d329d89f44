package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/fiatescrow/coordinator/pkg/tailer"
)

// compile-time assertion that *Registry satisfies pkg/tailer.Metrics.
var _ tailer.Metrics = (*Registry)(nil)

func TestObserveCursorSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCursor("0xabc", 42)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !metricExists(families, "coordinator_tailer_cursor_next_block", 42) {
		t.Errorf("expected cursor gauge set to 42")
	}
}

func TestObserveDeepReorgSuspectedIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDeepReorgSuspected("0xabc")
	m.ObserveDeepReorgSuspected("0xabc")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !metricExists(families, "coordinator_tailer_deep_reorg_suspected_total", 2) {
		t.Errorf("expected deep reorg counter at 2")
	}
}

func metricExists(families []*dto.MetricFamily, name string, want float64) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			var got float64
			switch {
			case m.GetGauge() != nil:
				got = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got = m.GetCounter().GetValue()
			}
			if got == want {
				return true
			}
		}
	}
	return false
}
