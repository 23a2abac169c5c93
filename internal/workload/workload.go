// Package workload defines workload descriptors: the declarative form of an
// FSM workload together with its scheduling hints and lifecycle hooks.
package workload

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"fsmharness/internal/cluster"
	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/store"
)

// HookContext is handed to setup and teardown. Data is the workload's
// template data; setup may add to it and every unit will see the result.
type HookContext struct {
	Workload    string
	DB          store.DB
	CollName    string
	Cluster     cluster.Cluster
	Data        core.Data
	AssertLevel fsm.AssertLevel
}

// OwnColl reports whether no other workload writes to the hook's collection.
func (h *HookContext) OwnColl() bool {
	return h.AssertLevel <= fsm.AssertOwnColl
}

type HookFunc func(ctx context.Context, h *HookContext) error

func noopHook(context.Context, *HookContext) error { return nil }

type Descriptor struct {
	Name        string
	ThreadCount int
	Iterations  int
	StartState  string
	States      map[string]fsm.StateFunc
	Transitions fsm.Transitions
	Data        core.Data
	Setup       HookFunc
	Teardown    HookFunc
	// Base is the descriptor this one was derived from, if any.
	Base *Descriptor
}

// ValidationError lists everything wrong with a descriptor.
type ValidationError struct {
	Workload string
	Errs     *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workload %q: %s", e.Workload, e.Errs.Error())
}

func (e *ValidationError) Unwrap() error {
	return e.Errs
}

// Normalize fills defaults (no-op hooks, empty data) and validates the
// descriptor. It returns a *ValidationError listing every problem found.
func (d *Descriptor) Normalize() error {
	if d.Setup == nil {
		d.Setup = noopHook
	}
	if d.Teardown == nil {
		d.Teardown = noopHook
	}
	if d.Data == nil {
		d.Data = core.Data{}
	}

	var errs *multierror.Error
	if d.Name == "" {
		errs = multierror.Append(errs, errors.New("name is empty"))
	}
	if d.ThreadCount <= 0 {
		errs = multierror.Append(errs, errors.Errorf("threadCount must be positive, got %d", d.ThreadCount))
	}
	if d.Iterations <= 0 {
		errs = multierror.Append(errs, errors.Errorf("iterations must be positive, got %d", d.Iterations))
	}
	for _, err := range fsm.CheckShape(d.StartState, d.States, d.Transitions) {
		errs = multierror.Append(errs, err)
	}
	if errs.ErrorOrNil() != nil {
		return errors.WithStack(&ValidationError{Workload: d.Name, Errs: errs})
	}
	return nil
}

// Clone returns a copy whose maps can be modified without touching d.
// Base is shared.
func (d *Descriptor) Clone() *Descriptor {
	out := *d
	out.States = make(map[string]fsm.StateFunc, len(d.States))
	for name, fn := range d.States {
		out.States[name] = fn
	}
	out.Transitions = d.Transitions.Clone()
	out.Data = d.Data.Copy()
	return &out
}

// Super returns the named state as defined by the nearest base descriptor.
// The returned function fails if no base defines the state.
func (d *Descriptor) Super(state string) fsm.StateFunc {
	for b := d.Base; b != nil; b = b.Base {
		if fn, ok := b.States[state]; ok && fn != nil {
			return fn
		}
	}
	return func(context.Context, *fsm.Thread) error {
		return errors.Errorf("workload %s: no base defines state %q", d.Name, state)
	}
}

// SuperSetup returns the nearest base's setup hook, or a no-op.
func (d *Descriptor) SuperSetup() HookFunc {
	for b := d.Base; b != nil; b = b.Base {
		if b.Setup != nil {
			return b.Setup
		}
	}
	return noopHook
}

// Extend derives a workload from base. The derived descriptor starts as a
// deep copy of base, keeps a reference to it, and is then modified by
// override. Data set by override wins over data inherited from base.
func Extend(base *Descriptor, name string, override func(d *Descriptor)) *Descriptor {
	d := base.Clone()
	d.Name = name
	d.Base = base
	if override != nil {
		override(d)
	}
	return d
}

// Resolve builds the FSM config one unit runs from a normalized descriptor.
func (d *Descriptor) Resolve(data core.Data, db store.DB, collName string) *fsm.Config {
	return &fsm.Config{
		Workload:    d.Name,
		Data:        data,
		DB:          db,
		CollName:    collName,
		StartState:  d.StartState,
		States:      d.States,
		Transitions: d.Transitions,
		Iterations:  d.Iterations,
	}
}
