package collector

import (
	"sort"
	"time"

	"fsmharness/internal/core"
)

// Metrics summarizes a run.
type Metrics struct {
	TotalStates  int
	SuccessCount int
	FailureCount int
	SuccessRate  float64
	StatesPerSec float64
	TestDuration time.Duration
	Duration     DurationMetrics
	// Units counts distinct thread ids that reported at least one event.
	Units     int
	Workloads map[string]*WorkloadMetrics
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration
	Max time.Duration
	Avg time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

type StateMetrics struct {
	Count    int
	Success  int
	Failed   int
	Duration DurationMetrics
}

type WorkloadMetrics struct {
	StateMetrics
	States map[string]*StateMetrics
}

func (s *StateMetrics) add(e core.Event) {
	s.Count++
	if e.Success {
		s.Success++
	} else {
		s.Failed++
	}
}

// SuccessRate is the percentage of successful executions.
func (s *StateMetrics) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Count) * 100
}

// ComputeMetrics computes metrics from events. Pure function, no side effects.
func ComputeMetrics(events []core.Event, testDuration time.Duration) *Metrics {
	m := &Metrics{
		Workloads:    make(map[string]*WorkloadMetrics),
		TestDuration: testDuration,
	}
	if len(events) == 0 {
		return m
	}

	all := make([]time.Duration, 0, len(events))
	byWorkload := make(map[string][]time.Duration)
	byState := make(map[string]map[string][]time.Duration)
	units := make(map[int]struct{})

	for _, e := range events {
		m.TotalStates++
		if e.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
		}
		units[e.TID] = struct{}{}
		all = append(all, e.Duration)

		wm, ok := m.Workloads[e.Workload]
		if !ok {
			wm = &WorkloadMetrics{States: make(map[string]*StateMetrics)}
			m.Workloads[e.Workload] = wm
			byState[e.Workload] = make(map[string][]time.Duration)
		}
		wm.add(e)
		byWorkload[e.Workload] = append(byWorkload[e.Workload], e.Duration)

		sm, ok := wm.States[e.State]
		if !ok {
			sm = &StateMetrics{}
			wm.States[e.State] = sm
		}
		sm.add(e)
		byState[e.Workload][e.State] = append(byState[e.Workload][e.State], e.Duration)
	}

	m.Units = len(units)
	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalStates) * 100
	if m.TestDuration > 0 {
		m.StatesPerSec = float64(m.TotalStates) / m.TestDuration.Seconds()
	}
	m.Duration = ComputeDurationMetrics(all)
	for name, wm := range m.Workloads {
		wm.Duration = ComputeDurationMetrics(byWorkload[name])
		for state, sm := range wm.States {
			sm.Duration = ComputeDurationMetrics(byState[name][state])
		}
	}
	return m
}

// ComputePercentile returns the nearest-rank percentile of an ascending
// slice. p is in [0, 1].
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
