package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEngineMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngine(reg)
	m.IncPosted("post")
	m.IncPosted("post")
	m.IncFailure("post", "validation")
	m.ObserveLockWait(20 * time.Millisecond)
	m.AddResequenced(3)
	m.AddRecalculated(1, 4)
	m.SetDrift(2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"ledger_vouchers_posted_total", "operation", "post", 2},
		{"ledger_operation_failures_total", "kind", "validation", 1},
		{"ledger_entries_resequenced_total", "", "", 3},
		{"ledger_recalculation_updates_total", "target", "entry", 4},
		{"ledger_recalculation_updates_total", "target", "account", 1},
		{"ledger_balance_drift_rows", "", "", 2},
	}
	for _, c := range checks {
		got, err := fetchValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s{%s=%q}: expected %v, got %v", c.name, c.label, c.value, c.want, got)
		}
	}
}

func TestNilEngineIsNoop(t *testing.T) {
	var m *Engine
	m.IncPosted("post")
	m.IncFailure("post", "state")
	m.ObserveLockWait(time.Second)
	m.AddResequenced(1)
	m.AddRecalculated(1, 1)
	m.SetDrift(1)
	NewEngine(nil).IncPosted("post")
}

func fetchValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" && !hasLabel(metric, label, value) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), nil
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), nil
			}
		}
		return 0, fmt.Errorf("no sample with %s=%q", label, value)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
