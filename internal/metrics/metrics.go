// Package metrics exposes harness activity to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fsmharness/internal/core"
)

const MetricPrefix = "fsmharness_"

type FailureKind string

const (
	FailureSpawn FailureKind = "spawn"
	FailureRun   FailureKind = "run"
)

var unitsSpawned = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "units_spawned_total",
		Help: "Number of worker units started",
	},
)

var unitFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "unit_failures_total",
		Help: "Number of worker units that failed, by whether they failed before or after the start barrier",
	},
	[]string{"kind"},
)

var threadsScheduled = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "threads_scheduled",
		Help: "Thread count assigned to each workload in the current round",
	},
	[]string{"workload"},
)

var barrierWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "barrier_wait_seconds",
		Help:    "Time units spent waiting for their siblings at the start barrier",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	},
)

var stateDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "state_duration_seconds",
		Help:    "Duration of state function executions",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
	},
	[]string{"workload", "state", "result"},
)

func RecordUnitSpawned() {
	unitsSpawned.Inc()
}

func RecordUnitFailure(kind FailureKind) {
	unitFailures.With(map[string]string{"kind": string(kind)}).Inc()
}

// RecordThreadCounts replaces the scheduled thread counts with those of the
// round being started.
func RecordThreadCounts(counts map[string]int) {
	threadsScheduled.Reset()
	for workload, n := range counts {
		threadsScheduled.With(map[string]string{"workload": workload}).Set(float64(n))
	}
}

func RecordBarrierWait(d time.Duration) {
	barrierWait.Observe(d.Seconds())
}

// Reporter records every event in the state duration histogram before
// passing it on.
type Reporter struct {
	next core.Reporter
}

func NewReporter(next core.Reporter) *Reporter {
	if next == nil {
		next = core.NullReporter
	}
	return &Reporter{next: next}
}

func (r *Reporter) Report(e core.Event) {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	stateDuration.With(map[string]string{
		"workload": e.Workload,
		"state":    e.State,
		"result":   result,
	}).Observe(e.Duration.Seconds())
	r.next.Report(e)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
