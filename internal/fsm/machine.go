package fsm

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"fsmharness/internal/core"
)

// ErrMaxIterationsReached indicates the machine ran all of its iterations.
var ErrMaxIterationsReached = errors.New("max iterations reached")

// Machine drives one workload's state machine for one unit.
// A Machine is NOT safe for concurrent use; each unit builds its own.
type Machine struct {
	cfg       *Config
	thread    *Thread
	reporter  core.Reporter
	current   string
	iteration int
}

func NewMachine(cfg *Config, tid int, rng *rand.Rand, reporter core.Reporter) *Machine {
	if reporter == nil {
		reporter = core.NullReporter
	}
	return &Machine{
		cfg: cfg,
		thread: &Thread{
			TID:         tid,
			Workload:    cfg.Workload,
			Data:        cfg.Data,
			DB:          cfg.DB,
			CollName:    cfg.CollName,
			Rand:        rng,
			AssertLevel: cfg.AssertLevel,
		},
		reporter: reporter,
		current:  cfg.StartState,
	}
}

// Current returns the state the next Step will execute.
func (m *Machine) Current() string {
	return m.current
}

// Iteration returns how many states have been executed.
func (m *Machine) Iteration() int {
	return m.iteration
}

// Step executes the current state and moves to the next one.
// Returns ErrMaxIterationsReached once Iterations states have run.
func (m *Machine) Step(ctx context.Context) error {
	if m.iteration >= m.cfg.Iterations {
		return ErrMaxIterationsReached
	}
	err := m.execute(ctx)
	m.iteration++
	if err != nil {
		return err
	}
	return m.advance()
}

// Run steps until the iteration budget is spent, a state fails, or ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := m.Step(ctx)
		if errors.Is(err, ErrMaxIterationsReached) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *Machine) execute(ctx context.Context) error {
	fn, ok := m.cfg.States[m.current]
	if !ok {
		return errors.Errorf("workload %s: unknown state %q", m.cfg.Workload, m.current)
	}
	if err := m.cfg.Limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "workload %s: waiting for rate limiter", m.cfg.Workload)
	}

	start := time.Now()
	err := fn(ctx, m.thread)
	event := core.Event{
		TID:       m.thread.TID,
		Timestamp: start,
		Workload:  m.cfg.Workload,
		State:     m.current,
		Duration:  time.Since(start),
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.reporter.Report(event)

	if err != nil {
		return errors.Wrapf(err, "workload %s: state %s", m.cfg.Workload, m.current)
	}
	return nil
}

func (m *Machine) advance() error {
	next, err := WeightedChoice(m.cfg.Transitions[m.current], m.thread.Rand.Float64())
	if err != nil {
		return errors.Wrapf(err, "workload %s: leaving state %s", m.cfg.Workload, m.current)
	}
	m.current = next
	return nil
}

func (m *Machine) jump(state string) {
	m.current = state
}
