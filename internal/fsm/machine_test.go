package fsm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsmharness/internal/core"
	"fsmharness/internal/ratelimit"
	"fsmharness/internal/store/memstore"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingReporter) Report(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

func pingPongConfig(t *testing.T, iterations int, visits *[]string) *Config {
	t.Helper()
	c, err := memstore.NewCluster(true)
	require.NoError(t, err)

	record := func(name string) StateFunc {
		return func(ctx context.Context, th *Thread) error {
			*visits = append(*visits, name)
			return nil
		}
	}
	return &Config{
		Workload:   "pingpong",
		Data:       core.Data{},
		DB:         c.Shared().DB("db0"),
		CollName:   "coll0",
		StartState: "ping",
		States:     map[string]StateFunc{"ping": record("ping"), "pong": record("pong")},
		Transitions: Transitions{
			"ping": {"pong": 1},
			"pong": {"ping": 1},
		},
		Iterations: iterations,
	}
}

func TestMachine_RunsIterations(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 5, &visits)
	rep := &recordingReporter{}

	m := NewMachine(cfg, 3, rand.New(rand.NewSource(1)), rep)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, []string{"ping", "pong", "ping", "pong", "ping"}, visits)
	assert.Equal(t, 5, m.Iteration())
	assert.Equal(t, visits, rep.states())
	for _, e := range rep.events {
		assert.Equal(t, 3, e.TID)
		assert.Equal(t, "pingpong", e.Workload)
		assert.True(t, e.Success)
	}
}

func TestMachine_StepReportsMaxIterations(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 1, &visits)
	m := NewMachine(cfg, 0, rand.New(rand.NewSource(1)), nil)

	require.NoError(t, m.Step(context.Background()))
	assert.Equal(t, "pong", m.Current())
	assert.ErrorIs(t, m.Step(context.Background()), ErrMaxIterationsReached)
}

func TestMachine_SameSeedSamePath(t *testing.T) {
	run := func(seed int64) []string {
		var visits []string
		cfg := pingPongConfig(t, 30, &visits)
		cfg.Transitions = Transitions{
			"ping": {"ping": 0.5, "pong": 0.5},
			"pong": {"ping": 0.3, "pong": 0.7},
		}
		m := NewMachine(cfg, 0, rand.New(rand.NewSource(seed)), nil)
		require.NoError(t, m.Run(context.Background()))
		return visits
	}

	assert.Equal(t, run(42), run(42))
}

func TestMachine_StateErrorStops(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 10, &visits)
	boom := errors.New("boom")
	cfg.States["pong"] = func(context.Context, *Thread) error { return boom }
	rep := &recordingReporter{}

	m := NewMachine(cfg, 0, rand.New(rand.NewSource(1)), rep)
	err := m.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "state pong")
	assert.Equal(t, 2, m.Iteration())

	require.Len(t, rep.events, 2)
	assert.False(t, rep.events[1].Success)
	assert.Equal(t, "boom", rep.events[1].Error)
}

func TestMachine_ThreadSeesDataAndCollection(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 1, &visits)
	cfg.Data = core.Data{"numDocs": 4, core.TIDKey: 9}
	cfg.States["ping"] = func(ctx context.Context, th *Thread) error {
		assert.Equal(t, 9, th.Data.TID())
		assert.Equal(t, "pingpong", th.Workload)
		assert.Equal(t, "coll0", th.Collection().Name())
		return th.Collection().Insert(ctx, "x", nil)
	}

	m := NewMachine(cfg, 9, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, m.Run(context.Background()))

	n, err := cfg.DB.Collection("coll0").Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMachine_ContextCancellation(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 1000, &visits)
	ctx, cancel := context.WithCancel(context.Background())
	cfg.States["pong"] = func(context.Context, *Thread) error {
		cancel()
		return nil
	}

	m := NewMachine(cfg, 0, rand.New(rand.NewSource(1)), nil)
	err := m.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, m.Iteration())
}

func TestMachine_WaitsForLimiter(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 5, &visits)
	cfg.Limiter = ratelimit.NewRateLimiter(1)
	rep := &recordingReporter{}
	m := NewMachine(cfg, 0, rand.New(rand.NewSource(1)), rep)

	require.NoError(t, m.Step(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Step(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for rate limiter")
	assert.Equal(t, []string{"ping"}, rep.states())
}

func TestMachine_ThreadSeesAssertLevel(t *testing.T) {
	var visits []string
	cfg := pingPongConfig(t, 1, &visits)
	cfg.AssertLevel = AssertAlways
	var ownColl *bool
	cfg.States["ping"] = func(ctx context.Context, th *Thread) error {
		v := th.OwnColl()
		ownColl = &v
		return nil
	}

	require.NoError(t, NewMachine(cfg, 0, rand.New(rand.NewSource(1)), &recordingReporter{}).Run(context.Background()))
	require.NotNil(t, ownColl)
	assert.False(t, *ownColl)
}
