// Package latch provides the countdown barrier units rendezvous on before
// running their state machines.
package latch

import (
	"context"
	"sync"
)

// Latch is a one-shot countdown gate. Done is closed once the count reaches
// zero; further CountDown calls are ignored.
type Latch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// New creates a latch expecting n CountDown calls. n <= 0 yields an open latch.
func New(n int) *Latch {
	l := &Latch{count: n, done: make(chan struct{})}
	if n <= 0 {
		l.count = 0
		close(l.done)
	}
	return l
}

// CountDown decrements the count, opening the gate when it hits zero.
func (l *Latch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// Count returns the number of outstanding CountDown calls.
func (l *Latch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Done returns a channel closed when the count reaches zero.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the gate opens or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
