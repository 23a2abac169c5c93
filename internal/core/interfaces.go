// Package core defines the types shared by the FSM engine, the workers and
// the reporting pipeline.
package core

import (
	"time"
)

// Event is a single state execution by one worker unit.
type Event struct {
	TID       int
	Timestamp time.Time
	Workload  string
	State     string
	Duration  time.Duration
	Success   bool
	Error     string
}

// Reporter receives events from worker units. Implementations must be safe
// for concurrent use.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// MultiReporter fans an event out to every reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}
