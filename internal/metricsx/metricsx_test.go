package metricsx

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterOrReuse_ReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Namespace: Namespace, Name: "test_total", Help: "test"}

	first := prometheus.NewCounter(opts)
	got := RegisterOrReuse(reg, first)
	if got != first {
		t.Fatalf("expected first registration to return the same collector")
	}
	second := prometheus.NewCounter(opts)
	got = RegisterOrReuse(reg, second)
	if got != first {
		t.Fatalf("expected re-registration to reuse the existing collector")
	}
}
