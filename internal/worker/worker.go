// Package worker runs a single unit: it resolves the unit's workloads, meets
// its siblings at the start barrier, then drives the state machines.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"fsmharness/internal/cluster"
	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/latch"
	"fsmharness/internal/metrics"
	"fsmharness/internal/ratelimit"
	"fsmharness/internal/store"
	"fsmharness/internal/workload"
)

// Spec is everything one unit needs. It is built by the thread manager and
// owned by the unit for its lifetime.
type Spec struct {
	TID       int
	Workloads []string
	Seed      int64
	DBName    string
	CollName  string
	// Host is dialed by units of non-standalone clusters. Empty means the
	// cluster's default host.
	Host    string
	Cluster cluster.Cluster
	// Data is the template data of every workload in the round, as left by
	// setup.
	Data     map[string]core.Data
	Latch    *latch.Latch
	Loader   workload.Loader
	Reporter core.Reporter
	Limiters ratelimit.Set
	// AssertLevel tells the unit's states which checks can hold given how
	// its database and collection are shared.
	AssertLevel fsm.AssertLevel
}

// Unit is what a RunFunc drives once every sibling is ready.
type Unit struct {
	TID       int
	Workloads []string
	Configs   map[string]*fsm.Config
	Rand      *rand.Rand
	Reporter  core.Reporter
}

type RunFunc func(ctx context.Context, u *Unit) error

// Result is the outcome of one unit.
type Result struct {
	TID   int
	OK    bool
	Err   string
	Stack string
	// SpawnFailure marks a unit that failed before reaching the barrier.
	SpawnFailure bool
}

func (r Result) String() string {
	if r.OK {
		return fmt.Sprintf("unit %d: ok", r.TID)
	}
	if r.SpawnFailure {
		return fmt.Sprintf("unit %d failed to start: %s", r.TID, r.Err)
	}
	return fmt.Sprintf("unit %d failed: %s", r.TID, r.Err)
}

func failed(tid int, err error, spawn bool) Result {
	return Result{
		TID:          tid,
		Err:          err.Error(),
		Stack:        fmt.Sprintf("%+v", err),
		SpawnFailure: spawn,
	}
}

// Main runs one unit to completion. It never panics: failures before the
// unit counts down the barrier are returned as spawn failures, and the caller
// must count down on the unit's behalf. Anything later is a run failure.
func Main(ctx context.Context, spec *Spec, run RunFunc) (res Result) {
	ready := false
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				TID:          spec.TID,
				Err:          fmt.Sprintf("panic: %v", r),
				Stack:        string(debug.Stack()),
				SpawnFailure: !ready,
			}
		}
	}()
	logger := log.WithField("tid", spec.TID)

	conn, release, err := connect(ctx, spec)
	if err != nil {
		return failed(spec.TID, err, true)
	}
	defer release()

	configs, err := resolve(spec, conn.DB(spec.DBName))
	if err != nil {
		return failed(spec.TID, err, true)
	}

	ready = true
	spec.Latch.CountDown()

	start := time.Now()
	if err := spec.Latch.Wait(ctx); err != nil {
		return failed(spec.TID, errors.Wrap(err, "waiting for sibling units"), false)
	}
	metrics.RecordBarrierWait(time.Since(start))

	reporter := spec.Reporter
	if reporter == nil {
		reporter = core.NullReporter
	}
	u := &Unit{
		TID:       spec.TID,
		Workloads: spec.Workloads,
		Configs:   configs,
		Rand:      rand.New(rand.NewSource(spec.Seed)),
		Reporter:  reporter,
	}
	if err := run(ctx, u); err != nil {
		logger.WithError(err).Debug("unit failed")
		return failed(spec.TID, err, false)
	}
	return Result{TID: spec.TID, OK: true}
}

// connect returns the shared connection of a standalone cluster, or dials a
// connection owned by this unit. release closes what connect opened.
func connect(ctx context.Context, spec *Spec) (store.Conn, func(), error) {
	if spec.Cluster.IsStandalone() {
		return spec.Cluster.Shared(), func() {}, nil
	}
	host := spec.Host
	if host == "" {
		host = spec.Cluster.Host()
	}
	conn, err := spec.Cluster.Connect(ctx, host)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to %s", host)
	}
	release := func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithField("tid", spec.TID).Warn("closing unit connection")
		}
	}
	return conn, release, nil
}

// resolve loads every workload of the unit and builds its private config.
// Template data goes in first and the workload's own data on top, then the
// unit's tid.
func resolve(spec *Spec, db store.DB) (map[string]*fsm.Config, error) {
	configs := make(map[string]*fsm.Config, len(spec.Workloads))
	for _, name := range spec.Workloads {
		d, err := spec.Loader.Load(name)
		if err != nil {
			return nil, errors.Wrapf(err, "loading workload %s", name)
		}
		data := core.Merge(spec.Data[name].Copy(), d.Data)
		data.Set(core.TIDKey, spec.TID)

		cfg := d.Resolve(data, db, spec.CollName)
		cfg.Limiter = spec.Limiters.For(name)
		cfg.AssertLevel = spec.AssertLevel
		configs[name] = cfg
	}
	return configs, nil
}

// FSM runs the unit's only workload.
func FSM(ctx context.Context, u *Unit) error {
	if len(u.Workloads) != 1 {
		return errors.Errorf("expected exactly one workload, got %d", len(u.Workloads))
	}
	return fsm.NewMachine(u.Configs[u.Workloads[0]], u.TID, u.Rand, u.Reporter).Run(ctx)
}

// Composed interleaves all of the unit's workloads.
func Composed(opts fsm.ComposerOptions) RunFunc {
	return func(ctx context.Context, u *Unit) error {
		return fsm.Compose(ctx, u.Workloads, u.Configs, u.TID, u.Rand, u.Reporter, opts)
	}
}
