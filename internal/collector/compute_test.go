package collector

import (
	"testing"
	"time"

	"fsmharness/internal/core"
)

func TestComputeMetrics_EmptyEvents(t *testing.T) {
	m := ComputeMetrics(nil, 10*time.Second)

	if m.TotalStates != 0 {
		t.Errorf("expected 0 states, got %d", m.TotalStates)
	}
	if m.TestDuration != 10*time.Second {
		t.Errorf("expected 10s duration, got %v", m.TestDuration)
	}
	if m.Workloads == nil {
		t.Error("expected Workloads map to be initialized")
	}
}

func TestComputeMetrics_SuccessRate(t *testing.T) {
	events := make([]core.Event, 0)
	// 7 successes, 3 failures
	for i := 0; i < 7; i++ {
		events = append(events, core.Event{Workload: "w", State: "s", Success: true, Duration: time.Millisecond})
	}
	for i := 0; i < 3; i++ {
		events = append(events, core.Event{Workload: "w", State: "s", Success: false, Duration: time.Millisecond})
	}

	m := ComputeMetrics(events, 1*time.Second)

	if m.SuccessRate != 70.0 {
		t.Errorf("expected 70%% success rate, got %.1f%%", m.SuccessRate)
	}
	if m.StatesPerSec != 10.0 {
		t.Errorf("expected 10 states/sec, got %.1f", m.StatesPerSec)
	}
}

func TestComputeMetrics_ByWorkloadAndState(t *testing.T) {
	events := []core.Event{
		{TID: 0, Workload: "update_array", State: "push", Success: true, Duration: 10 * time.Millisecond},
		{TID: 0, Workload: "update_array", State: "push", Success: true, Duration: 30 * time.Millisecond},
		{TID: 1, Workload: "update_array", State: "pull", Success: false, Duration: 20 * time.Millisecond},
		{TID: 2, Workload: "insert_count", State: "insert", Success: true, Duration: 5 * time.Millisecond},
	}

	m := ComputeMetrics(events, time.Second)

	if len(m.Workloads) != 2 {
		t.Fatalf("expected 2 workloads, got %d", len(m.Workloads))
	}
	ua := m.Workloads["update_array"]
	if ua.Count != 3 || ua.Success != 2 || ua.Failed != 1 {
		t.Errorf("unexpected update_array totals: %+v", ua.StateMetrics)
	}
	push := ua.States["push"]
	if push == nil || push.Count != 2 {
		t.Fatalf("expected 2 push executions, got %+v", push)
	}
	if push.Duration.Avg != 20*time.Millisecond {
		t.Errorf("expected push avg 20ms, got %v", push.Duration.Avg)
	}
	if ua.States["pull"].Failed != 1 {
		t.Errorf("expected 1 failed pull, got %d", ua.States["pull"].Failed)
	}
	if m.Units != 3 {
		t.Errorf("expected 3 units, got %d", m.Units)
	}
	if m.Duration.Max != 30*time.Millisecond {
		t.Errorf("expected max 30ms, got %v", m.Duration.Max)
	}
}

func TestStateMetrics_SuccessRate(t *testing.T) {
	if (&StateMetrics{}).SuccessRate() != 0 {
		t.Error("expected 0 for empty state metrics")
	}
	s := &StateMetrics{Count: 4, Success: 3, Failed: 1}
	if s.SuccessRate() != 75 {
		t.Errorf("expected 75, got %v", s.SuccessRate())
	}
}

func TestComputePercentile(t *testing.T) {
	durations := []time.Duration{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 10},
		{0.5, 50},
		{0.9, 90},
		{1, 100},
	}
	for _, tt := range tests {
		if got := ComputePercentile(durations, tt.p); got != tt.want {
			t.Errorf("p%.0f: expected %d, got %d", tt.p*100, tt.want, got)
		}
	}
	if ComputePercentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestComputeDurationMetrics(t *testing.T) {
	result := ComputeDurationMetrics([]time.Duration{
		300 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		400 * time.Millisecond,
	})

	if result.Min != 100*time.Millisecond {
		t.Errorf("Min: expected 100ms, got %v", result.Min)
	}
	if result.Max != 500*time.Millisecond {
		t.Errorf("Max: expected 500ms, got %v", result.Max)
	}
	if result.Avg != 300*time.Millisecond {
		t.Errorf("Avg: expected 300ms, got %v", result.Avg)
	}
	if result.P50 != 300*time.Millisecond {
		t.Errorf("P50: expected 300ms, got %v", result.P50)
	}

	if empty := ComputeDurationMetrics(nil); empty != (DurationMetrics{}) {
		t.Errorf("expected zero metrics for empty input, got %+v", empty)
	}
}
