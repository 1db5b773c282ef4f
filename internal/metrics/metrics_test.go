package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PhaseTransitions.WithLabelValues("VOLUNTEER").Inc()
	m.Commits.WithLabelValues("ok").Inc()
	m.Connections.Inc()
	m.Connections.Inc()
	m.Connections.Dec()

	if got := testutil.ToFloat64(m.PhaseTransitions.WithLabelValues("VOLUNTEER")); got != 1 {
		t.Errorf("phase transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Errorf("connections = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"roomleader_phase_transitions_total", "roomleader_leader_commits_total", "roomleader_websocket_connections"} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	New(reg)
}
