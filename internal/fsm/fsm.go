// Package fsm executes workload state machines: a start state, named state
// functions and a weighted transition table, run for a fixed number of
// iterations by one worker unit.
package fsm

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"fsmharness/internal/core"
	"fsmharness/internal/ratelimit"
	"fsmharness/internal/store"
)

// StateFunc is one state of a workload. It runs against the unit's thread
// context and returns an error to fail the unit.
type StateFunc func(ctx context.Context, t *Thread) error

// Transitions maps a state to the weights of its successor states.
type Transitions map[string]map[string]float64

// Clone returns a copy that shares no rows with t.
func (t Transitions) Clone() Transitions {
	out := make(Transitions, len(t))
	for from, row := range t {
		r := make(map[string]float64, len(row))
		for to, w := range row {
			r[to] = w
		}
		out[from] = r
	}
	return out
}

// AssertLevel says how much of its database a workload has to itself, and
// so which of its checks can hold.
type AssertLevel int

const (
	// AssertOwnDB: the workload is alone in its database. Every check runs.
	AssertOwnDB AssertLevel = iota
	// AssertOwnColl: other workloads share the database but not the
	// collection.
	AssertOwnColl
	// AssertAlways: the collection is shared. Only checks that hold whatever
	// other workloads do run.
	AssertAlways
)

func (l AssertLevel) String() string {
	switch l {
	case AssertOwnDB:
		return "ownDB"
	case AssertOwnColl:
		return "ownColl"
	case AssertAlways:
		return "always"
	default:
		return "unknown"
	}
}

// Thread is what a state function sees: the unit's identity, its private
// copy of the workload data, and its database handle.
type Thread struct {
	TID         int
	Workload    string
	Data        core.Data
	DB          store.DB
	CollName    string
	Rand        *rand.Rand
	AssertLevel AssertLevel
}

// OwnColl reports whether no other workload writes to the thread's
// collection.
func (t *Thread) OwnColl() bool {
	return t.AssertLevel <= AssertOwnColl
}

// OwnDB reports whether no other workload uses the thread's database.
func (t *Thread) OwnDB() bool {
	return t.AssertLevel == AssertOwnDB
}

// Collection returns the collection the workload was assigned.
func (t *Thread) Collection() store.Collection {
	return t.DB.Collection(t.CollName)
}

// Config is a fully resolved workload as one unit runs it.
type Config struct {
	Workload    string
	Data        core.Data
	DB          store.DB
	CollName    string
	StartState  string
	States      map[string]StateFunc
	Transitions Transitions
	Iterations  int
	Limiter     *ratelimit.RateLimiter
	AssertLevel AssertLevel
}

// CheckShape returns every structural problem with a state machine.
func CheckShape(start string, states map[string]StateFunc, transitions Transitions) []error {
	var errs []error
	if len(states) == 0 {
		errs = append(errs, errors.New("no states defined"))
	}
	if start == "" {
		errs = append(errs, errors.New("start state is empty"))
	} else if _, ok := states[start]; !ok {
		errs = append(errs, errors.Errorf("start state %q is not a state", start))
	}
	for _, name := range sortedKeys(states) {
		if states[name] == nil {
			errs = append(errs, errors.Errorf("state %q has no function", name))
		}
		if _, ok := transitions[name]; !ok {
			errs = append(errs, errors.Errorf("state %q has no transitions", name))
		}
	}
	for _, from := range sortedKeys(transitions) {
		row := transitions[from]
		if _, ok := states[from]; !ok {
			errs = append(errs, errors.Errorf("transition source %q is not a state", from))
		}
		total := 0.0
		for _, to := range sortedKeys(row) {
			w := row[to]
			if _, ok := states[to]; !ok {
				errs = append(errs, errors.Errorf("transition %q -> %q targets an unknown state", from, to))
			}
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				errs = append(errs, errors.Errorf("transition %q -> %q has invalid weight %v", from, to, w))
				continue
			}
			total += w
		}
		if total <= 0 {
			errs = append(errs, errors.Errorf("transitions from %q have no positive weight", from))
		}
	}
	return errs
}

// WeightedChoice picks a successor from row. r must be in [0, 1). States are
// visited in name order so the same r always yields the same state.
func WeightedChoice(row map[string]float64, r float64) (string, error) {
	names := sortedKeys(row)
	total := 0.0
	for _, name := range names {
		total += row[name]
	}
	if total <= 0 {
		return "", errors.New("no positive transition weight")
	}
	target := r * total
	last := ""
	for _, name := range names {
		w := row[name]
		if w <= 0 {
			continue
		}
		if target < w {
			return name, nil
		}
		target -= w
		last = name
	}
	// r*total rounded up past the final bucket
	return last, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
