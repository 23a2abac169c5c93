// Package suite runs a configured set of workloads end to end: it names their
// databases, runs setup, schedules rounds of units, runs teardown and builds
// a report.
package suite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fsmharness/internal/cluster"
	"fsmharness/internal/collector"
	"fsmharness/internal/config"
	"fsmharness/internal/core"
	"fsmharness/internal/metrics"
	"fsmharness/internal/names"
	"fsmharness/internal/progress"
	"fsmharness/internal/ratelimit"
	"fsmharness/internal/threadmgr"
	"fsmharness/internal/workload"
)

type Option func(*Runner)

// WithNames replaces the process-wide name generator.
func WithNames(g *names.Generator) Option {
	return func(r *Runner) { r.names = g }
}

// WithReporter adds a reporter that sees every state event.
func WithReporter(rep core.Reporter) Option {
	return func(r *Runner) { r.extra = rep }
}

func WithProgress(p func(*collector.Collector) *progress.Progress) Option {
	return func(r *Runner) { r.progress = p }
}

type Runner struct {
	cfg      *config.Config
	loader   workload.Loader
	cluster  cluster.Cluster
	names    *names.Generator
	extra    core.Reporter
	progress func(*collector.Collector) *progress.Progress
}

func NewRunner(cfg *config.Config, loader workload.Loader, c cluster.Cluster, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		loader:  workload.WithOverrides(loader, cfg.Overrides()),
		cluster: c,
		names:   names.Default,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every round. The returned error is only set when the suite
// could not run at all; unit failures and aborted rounds are in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	report := &Report{RunID: uuid.NewString(), Seed: seed, Mode: r.cfg.Mode}
	logger := log.WithField("run", report.RunID)
	logger.Infof("Starting %s run of %d workload(s) with seed %d", r.cfg.Mode, len(r.cfg.Workloads), seed)

	contexts, err := r.prepare()
	if err != nil {
		return nil, err
	}

	col := collector.NewCollector()
	reporter := core.Reporter(metrics.NewReporter(col))
	if r.extra != nil {
		reporter = core.MultiReporter{reporter, r.extra}
	}
	var prog *progress.Progress
	if r.progress != nil {
		prog = r.progress(col)
		prog.Start()
	}

	mgr := threadmgr.New(r.cluster, threadmgr.ExecutionMode{Composed: r.cfg.Mode == config.ModeComposed},
		threadmgr.WithSeed(seed),
		threadmgr.WithReporter(reporter),
		threadmgr.WithLimiters(ratelimit.NewSet(r.cfg.RateLimits())),
		threadmgr.WithComposer(r.cfg.ComposerOptions()),
		threadmgr.WithAssertLevel(r.cfg.AssertLevel()),
	)

	var fatal error
	for i, workloads := range r.rounds() {
		round := &RoundReport{Index: i, Workloads: workloads}
		report.Rounds = append(report.Rounds, round)
		roundLogger := logger.WithField("round", i)
		if prog != nil {
			prog.Printf("Round %d: %v", i, workloads)
		}

		if err := r.runRound(ctx, mgr, contexts, round, roundLogger); err != nil {
			fatal = err
			break
		}
		if err := round.stopErr(); err != nil {
			roundLogger.WithError(err).Error("aborting run")
			break
		}
	}

	if prog != nil {
		prog.Stop()
	}
	col.Close()
	report.Metrics = col.Compute()
	report.DroppedEvents = col.DroppedEvents()
	if fatal != nil {
		return report, fatal
	}
	logger.Infof("Run finished: %d round(s), %d failed unit(s)", len(report.Rounds), len(report.Failures()))
	return report, nil
}

// prepare loads every workload once and assigns its database and collection.
func (r *Runner) prepare() (map[string]*threadmgr.WorkloadContext, error) {
	contexts := make(map[string]*threadmgr.WorkloadContext, len(r.cfg.Workloads))
	var sharedDB, sharedColl string
	if r.cfg.SameDB {
		sharedDB = r.names.DB.Next()
	}
	if r.cfg.SameCollection {
		sharedColl = r.names.Coll.Next()
	}
	for _, name := range r.cfg.WorkloadNames() {
		d, err := r.loader.Load(name)
		if err != nil {
			return nil, err
		}
		wc := &threadmgr.WorkloadContext{Config: d, DBName: sharedDB, CollName: sharedColl}
		if wc.DBName == "" {
			wc.DBName = r.names.DB.Next()
		}
		if wc.CollName == "" {
			wc.CollName = r.names.Coll.Next()
		}
		contexts[name] = wc
	}
	return contexts, nil
}

// rounds groups workloads into scheduling rounds for the configured mode.
func (r *Runner) rounds() [][]string {
	all := r.cfg.WorkloadNames()
	if r.cfg.Mode != config.ModeSerial {
		return [][]string{all}
	}
	out := make([][]string, len(all))
	for i, name := range all {
		out[i] = []string{name}
	}
	return out
}

// runRound runs setup, the units and teardown for one round. Errors it
// returns are fatal to the whole run; everything else lands in round.
func (r *Runner) runRound(ctx context.Context, mgr *threadmgr.Manager, contexts map[string]*threadmgr.WorkloadContext, round *RoundReport, logger *log.Entry) error {
	if err := r.runHooks(ctx, round.Workloads, contexts, setupHook); err != nil {
		round.SetupErr = err
		round.TeardownErr = r.drop(ctx, round.Workloads, contexts)
		return nil
	}
	defer func() {
		round.TeardownErr = r.runHooks(ctx, round.Workloads, contexts, teardownHook)
		round.TeardownErr = multiAppend(round.TeardownErr, r.drop(ctx, round.Workloads, contexts))
	}()

	if err := mgr.Init(round.Workloads, contexts, r.cfg.ThreadBudget()); err != nil {
		return err
	}
	round.Threads = mgr.ThreadCounts()
	if err := mgr.SpawnAll(ctx, r.cfg.Cluster.Host, r.loader); err != nil {
		return err
	}
	checkErr := mgr.CheckFailed(ctx, r.cfg.FailurePercent())
	failures, err := mgr.JoinAll()
	if err != nil {
		return err
	}
	round.Failures = failures

	var threshold *threadmgr.ThresholdExceededError
	switch {
	case checkErr == nil:
	case errors.As(checkErr, &threshold):
		round.Aborted = checkErr
	default:
		round.Aborted = errors.Wrap(checkErr, "waiting for units to start")
	}
	for _, f := range failures {
		logger.WithField("tid", f.TID).Warn(f.String())
	}
	return nil
}

type hookKind int

const (
	setupHook hookKind = iota
	teardownHook
)

// runHooks runs the setup or teardown of every workload concurrently against
// the shared connection.
func (r *Runner) runHooks(ctx context.Context, workloads []string, contexts map[string]*threadmgr.WorkloadContext, kind hookKind) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range workloads {
		wc := contexts[name]
		name := name
		g.Go(func() error {
			hook := wc.Config.Setup
			what := "setup"
			if kind == teardownHook {
				hook = wc.Config.Teardown
				what = "teardown"
			}
			h := &workload.HookContext{
				Workload:    wc.Config.Name,
				DB:          r.cluster.Shared().DB(wc.DBName),
				CollName:    wc.CollName,
				Cluster:     r.cluster,
				Data:        wc.Config.Data,
				AssertLevel: r.cfg.AssertLevel(),
			}
			return errors.Wrapf(hook(gctx, h), "%s of %s", what, name)
		})
	}
	return g.Wait()
}

// drop removes the round's collections. A collection shared by every
// workload is left for the caller.
func (r *Runner) drop(ctx context.Context, workloads []string, contexts map[string]*threadmgr.WorkloadContext) error {
	if r.cfg.SameCollection {
		return nil
	}
	var result error
	for _, name := range workloads {
		wc := contexts[name]
		coll := r.cluster.Shared().DB(wc.DBName).Collection(wc.CollName)
		if err := coll.Drop(ctx); err != nil {
			result = multiAppend(result, errors.Wrapf(err, "dropping %s.%s", wc.DBName, wc.CollName))
		}
	}
	return result
}
