// Package collector aggregates state execution events into a run summary.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"fsmharness/internal/core"
)

const bufferSize = 4096

// Collector gathers events from every unit of a run.
type Collector struct {
	events    []core.Event
	ch        chan core.Event
	done      chan struct{}
	mu        sync.Mutex
	dropped   atomic.Int64
	closed    atomic.Bool
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a Collector and starts its collection goroutine.
func NewCollector() *Collector {
	c := &Collector{
		events:    make([]core.Event, 0),
		ch:        make(chan core.Event, bufferSize),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for event := range c.ch {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report hands an event to the collector without blocking the unit. Events
// that do not fit in the buffer are counted as dropped.
func (c *Collector) Report(event core.Event) {
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- event:
	default:
		c.dropped.Add(1)
	}
}

// Close stops the collector. Every unit must have exited before Close is
// called.
func (c *Collector) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.endTime = time.Now()
	close(c.ch)
	<-c.done
}

// Events returns a copy of the events collected so far.
func (c *Collector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Event, len(c.events))
	copy(result, c.events)
	return result
}

func (c *Collector) DroppedEvents() int64 {
	return c.dropped.Load()
}

// Duration is the time from creation to Close, or to now while running.
func (c *Collector) Duration() time.Duration {
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Compute summarizes the events collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Events(), c.Duration())
}
