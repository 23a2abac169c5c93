package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FormatText writes metrics in human-readable form.
func FormatText(w io.Writer, m *Metrics) {
	if m.TotalStates == 0 {
		fmt.Fprintln(w, "No states executed")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "State Executions")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:       %v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Units:          %d\n", m.Units)
	fmt.Fprintf(w, "Total States:   %s\n", formatNumber(m.TotalStates))
	fmt.Fprintf(w, "Success Rate:   %.1f%% (%s / %s)\n",
		m.SuccessRate, formatNumber(m.SuccessCount), formatNumber(m.TotalStates))
	fmt.Fprintf(w, "States/sec:     %.1f\n", m.StatesPerSec)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Duration.Min))
	fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.Duration.Avg))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Duration.P50))
	fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.Duration.P95))
	fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.Duration.P99))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Duration.Max))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Workload:")
	for _, name := range sortedNames(m.Workloads) {
		wm := m.Workloads[name]
		fmt.Fprintf(w, "  %-24s %s states  ok=%.1f%%  avg=%s  p95=%s\n",
			name, formatNumber(wm.Count), wm.SuccessRate(),
			FormatDuration(wm.Duration.Avg), FormatDuration(wm.Duration.P95))
		for _, state := range sortedNames(wm.States) {
			sm := wm.States[state]
			fmt.Fprintf(w, "    %-22s %s  failed=%d  avg=%s  p99=%s\n",
				state, formatNumber(sm.Count), sm.Failed,
				FormatDuration(sm.Duration.Avg), FormatDuration(sm.Duration.P99))
		}
	}
}

// JSONMetrics is the serialized form of Metrics.
type JSONMetrics struct {
	Duration     string                         `json:"duration"`
	Units        int                            `json:"units"`
	TotalStates  int                            `json:"totalStates"`
	SuccessCount int                            `json:"successCount"`
	FailureCount int                            `json:"failureCount"`
	SuccessRate  float64                        `json:"successRate"`
	StatesPerSec float64                        `json:"statesPerSec"`
	Durations    jsonDurationMetrics            `json:"durations"`
	Workloads    map[string]jsonWorkloadMetrics `json:"workloads"`
}

type jsonDurationMetrics struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonStateMetrics struct {
	Count       int                 `json:"count"`
	Success     int                 `json:"success"`
	Failed      int                 `json:"failed"`
	SuccessRate float64             `json:"successRate"`
	Durations   jsonDurationMetrics `json:"durations"`
}

type jsonWorkloadMetrics struct {
	jsonStateMetrics
	States map[string]jsonStateMetrics `json:"states"`
}

// ToJSON converts metrics to their serialized form.
func ToJSON(m *Metrics) *JSONMetrics {
	out := &JSONMetrics{
		Duration:     m.TestDuration.Round(time.Millisecond).String(),
		Units:        m.Units,
		TotalStates:  m.TotalStates,
		SuccessCount: m.SuccessCount,
		FailureCount: m.FailureCount,
		SuccessRate:  m.SuccessRate,
		StatesPerSec: m.StatesPerSec,
		Durations:    toJSONDurationMetrics(m.Duration),
		Workloads:    make(map[string]jsonWorkloadMetrics, len(m.Workloads)),
	}
	for name, wm := range m.Workloads {
		jw := jsonWorkloadMetrics{
			jsonStateMetrics: toJSONStateMetrics(&wm.StateMetrics),
			States:           make(map[string]jsonStateMetrics, len(wm.States)),
		}
		for state, sm := range wm.States {
			jw.States[state] = toJSONStateMetrics(sm)
		}
		out.Workloads[name] = jw
	}
	return out
}

// FormatJSON writes metrics as indented JSON.
func FormatJSON(w io.Writer, m *Metrics) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(ToJSON(m)) // stdout errors are unrecoverable
}

func toJSONStateMetrics(s *StateMetrics) jsonStateMetrics {
	return jsonStateMetrics{
		Count:       s.Count,
		Success:     s.Success,
		Failed:      s.Failed,
		SuccessRate: s.SuccessRate(),
		Durations:   toJSONDurationMetrics(s.Duration),
	}
}

func toJSONDurationMetrics(d DurationMetrics) jsonDurationMetrics {
	return jsonDurationMetrics{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

// FormatDuration prints a duration with a unit suited to its size.
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d,%03d", n/1000, n%1000)
}
