// Package threadmgr schedules worker units for a round of workloads: it fits
// the requested thread counts into a budget, starts every unit, watches for
// units that die before the start barrier, and collects results.
package threadmgr

import (
	"context"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"fsmharness/internal/cluster"
	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/latch"
	"fsmharness/internal/metrics"
	"fsmharness/internal/ratelimit"
	"fsmharness/internal/worker"
	"fsmharness/internal/workload"
)

// pollInterval is how often CheckFailed sweeps units in case a failure
// notification was missed.
const pollInterval = 100 * time.Millisecond

type ExecutionMode struct {
	// Composed gives every unit all workloads of the round, interleaved by
	// the composer, instead of one workload per unit.
	Composed bool
}

// WorkloadContext is where one workload runs and what it looks like after
// setup.
type WorkloadContext struct {
	Config   *workload.Descriptor
	DBName   string
	CollName string
}

type Option func(*Manager)

// WithSeed fixes the generator unit seeds are drawn from.
func WithSeed(seed int64) Option {
	return func(m *Manager) { m.seeds = rand.New(rand.NewSource(seed)) }
}

func WithReporter(r core.Reporter) Option {
	return func(m *Manager) { m.reporter = r }
}

func WithLimiters(s ratelimit.Set) Option {
	return func(m *Manager) { m.limiters = s }
}

func WithComposer(opts fsm.ComposerOptions) Option {
	return func(m *Manager) { m.composer = opts }
}

// WithAssertLevel sets how much of the database units may assume is theirs.
// Composed units always share their collection and run at AssertAlways.
func WithAssertLevel(level fsm.AssertLevel) Option {
	return func(m *Manager) { m.assertLevel = level }
}

// Manager runs rounds of units. A round is Init, SpawnAll, CheckFailed and
// JoinAll, after which the manager can be initialized again. A Manager is not
// safe for concurrent use.
type Manager struct {
	cluster  cluster.Cluster
	mode     ExecutionMode
	reporter core.Reporter
	limiters ratelimit.Set
	composer fsm.ComposerOptions
	seeds    *rand.Rand

	assertLevel fsm.AssertLevel

	initialized  bool
	workloads    []string
	context      map[string]*WorkloadContext
	threadCounts map[string]int
	latch        *latch.Latch
	round        *round
}

type round struct {
	units    []*unit
	failed   chan int
	released map[int]bool
}

type unit struct {
	spec   *worker.Spec
	done   chan struct{}
	result worker.Result
}

func New(c cluster.Cluster, mode ExecutionMode, opts ...Option) *Manager {
	m := &Manager{
		cluster:  c,
		mode:     mode,
		reporter: core.NullReporter,
		seeds:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init fixes the thread count of every workload for the next round. When the
// configured counts add up to more than maxAllowedThreads each count is scaled
// down proportionally, keeping at least one thread per workload. Init fails
// without changing anything if the budget still cannot be met.
func (m *Manager) Init(workloads []string, ctx map[string]*WorkloadContext, maxAllowedThreads int) error {
	if m.round != nil {
		return configErr("init", "previous round has not been joined")
	}
	if maxAllowedThreads <= 0 {
		return configErr("init", "maxAllowedThreads must be a positive integer, got %d", maxAllowedThreads)
	}
	if len(workloads) == 0 {
		return configErr("init", "no workloads")
	}

	counts := make(map[string]int, len(workloads))
	requested := 0
	for _, name := range workloads {
		if _, dup := counts[name]; dup {
			return configErr("init", "workload %s listed twice", name)
		}
		wc, ok := ctx[name]
		if !ok || wc == nil || wc.Config == nil {
			return configErr("init", "no context for workload %s", name)
		}
		if wc.Config.ThreadCount <= 0 {
			return configErr("init", "workload %s has threadCount %d", name, wc.Config.ThreadCount)
		}
		counts[name] = wc.Config.ThreadCount
		requested += wc.Config.ThreadCount
	}

	if requested > maxAllowedThreads {
		factor := float64(maxAllowedThreads) / float64(requested)
		for _, name := range workloads {
			n := int(math.Floor(factor * float64(counts[name])))
			if n < 1 {
				n = 1
			}
			counts[name] = n
		}
	}

	total := sum(counts)
	if total > maxAllowedThreads {
		return configErr("init", "%d workloads need at least %d threads, budget is %d",
			len(workloads), total, maxAllowedThreads)
	}

	plural := "s"
	if total == 1 {
		plural = ""
	}
	log.Infof("Using %d thread%s (requested %d)", total, plural, requested)
	metrics.RecordThreadCounts(counts)

	m.workloads = append([]string(nil), workloads...)
	m.context = ctx
	m.threadCounts = counts
	m.latch = latch.New(total)
	m.initialized = true
	return nil
}

func sum(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// ThreadCounts returns a copy of the per-workload counts set by Init.
func (m *Manager) ThreadCounts() map[string]int {
	out := make(map[string]int, len(m.threadCounts))
	for k, v := range m.threadCounts {
		out[k] = v
	}
	return out
}

// TotalThreads is the number of units the current round will start.
func (m *Manager) TotalThreads() int {
	return sum(m.threadCounts)
}

func (m *Manager) Initialized() bool {
	return m.initialized
}

// SpawnAll starts every unit of the round and returns without waiting for
// them. Thread ids are assigned 0..n-1 in workload order. Units stop between
// states once ctx is done. host is what units of non-standalone clusters
// dial.
func (m *Manager) SpawnAll(ctx context.Context, host string, loader workload.Loader) error {
	if !m.initialized {
		return configErr("spawnAll", "not initialized")
	}
	if m.round != nil {
		return configErr("spawnAll", "units already spawned")
	}

	data := make(map[string]core.Data, len(m.workloads))
	for _, name := range m.workloads {
		data[name] = m.context[name].Config.Data
	}

	run := worker.FSM
	level := m.assertLevel
	if m.mode.Composed {
		run = worker.Composed(m.composer)
		level = fsm.AssertAlways
	}

	total := m.TotalThreads()
	r := &round{
		units:    make([]*unit, 0, total),
		failed:   make(chan int, total),
		released: make(map[int]bool),
	}
	tid := 0
	for _, name := range m.workloads {
		bound := []string{name}
		if m.mode.Composed {
			bound = m.workloads
		}
		wc := m.context[name]
		for i := 0; i < m.threadCounts[name]; i++ {
			u := &unit{
				spec: &worker.Spec{
					TID:       tid,
					Workloads: bound,
					Seed:      m.seeds.Int63(),
					DBName:    wc.DBName,
					CollName:  wc.CollName,
					Host:      host,
					Cluster:   m.cluster,
					Data:      data,
					Latch:     m.latch,
					Loader:    loader,
					Reporter:  m.reporter,
					Limiters:  m.limiters,

					AssertLevel: level,
				},
				done: make(chan struct{}),
			}
			r.units = append(r.units, u)
			go u.start(ctx, run, len(r.units)-1, r.failed)
			metrics.RecordUnitSpawned()
			tid++
		}
	}
	m.round = r
	return nil
}

func (u *unit) start(ctx context.Context, run worker.RunFunc, index int, failed chan<- int) {
	defer close(u.done)
	u.result = worker.Main(ctx, u.spec, run)
	if u.result.SpawnFailure {
		failed <- index
	}
}

// finished reports whether the unit has exited, without blocking.
func (u *unit) finished() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// release counts the barrier down for a unit that died before it could.
// Each unit is released at most once.
func (m *Manager) release(index int) {
	if m.round.released[index] {
		return
	}
	m.round.released[index] = true
	m.latch.CountDown()
	metrics.RecordUnitFailure(metrics.FailureSpawn)
	log.WithField("tid", m.round.units[index].spec.TID).
		Warnf("unit failed to spawn: %s", m.round.units[index].result.Err)
}

// CheckFailed blocks until every unit has either reached the start barrier
// or died trying, releasing the barrier for the dead ones. It fails if the
// fraction of dead units exceeds allowedFailurePercent.
func (m *Manager) CheckFailed(ctx context.Context, allowedFailurePercent float64) error {
	if !m.initialized {
		return configErr("checkFailed", "not initialized")
	}
	if m.round == nil {
		return configErr("checkFailed", "units have not been spawned")
	}
	if math.IsNaN(allowedFailurePercent) || allowedFailurePercent < 0 || allowedFailurePercent > 1 {
		return configErr("checkFailed", "allowedFailurePercent must be within [0, 1], got %v", allowedFailurePercent)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for m.latch.Count() > 0 {
		select {
		case index := <-m.round.failed:
			m.release(index)
		case <-m.latch.Done():
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	failed := len(m.round.released)
	total := len(m.round.units)
	if failed > 0 {
		log.Warnf("%d unit(s) failed while spawning", failed)
	}
	if float64(failed)/float64(total) > allowedFailurePercent {
		return &ThresholdExceededError{Failed: failed, Total: total, Allowed: allowedFailurePercent}
	}
	return nil
}

func (m *Manager) sweep() {
	for i, u := range m.round.units {
		if u.finished() && u.result.SpawnFailure {
			m.release(i)
		}
	}
}

// JoinAll waits for every unit in spawn order and returns the results of
// those that failed. Units that die before the barrier are released here too,
// so JoinAll never waits on a barrier nobody can open. The manager is reset
// for another round.
func (m *Manager) JoinAll() ([]worker.Result, error) {
	if !m.initialized {
		return nil, configErr("joinAll", "not initialized")
	}
	defer m.reset()
	if m.round == nil {
		return nil, nil
	}

	var failures []worker.Result
	for i, u := range m.round.units {
		for waiting := true; waiting; {
			select {
			case <-u.done:
				waiting = false
			case index := <-m.round.failed:
				m.release(index)
			}
		}
		if u.result.OK {
			continue
		}
		if u.result.SpawnFailure {
			m.release(i)
		} else {
			metrics.RecordUnitFailure(metrics.FailureRun)
		}
		failures = append(failures, u.result)
	}
	return failures, nil
}

func (m *Manager) reset() {
	m.initialized = false
	m.workloads = nil
	m.context = nil
	m.threadCounts = nil
	m.latch = nil
	m.round = nil
}
