package workload

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
)

func nop(context.Context, *fsm.Thread) error { return nil }

func sample() *Descriptor {
	return &Descriptor{
		Name:        "sample",
		ThreadCount: 2,
		Iterations:  4,
		StartState:  "a",
		States:      map[string]fsm.StateFunc{"a": nop, "b": nop},
		Transitions: fsm.Transitions{"a": {"b": 1}, "b": {"a": 1}},
		Data:        core.Data{"n": 1, "nested": map[string]any{"x": 1}},
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	d := sample()
	d.Data = nil
	require.NoError(t, d.Normalize())

	assert.NotNil(t, d.Setup)
	assert.NotNil(t, d.Teardown)
	assert.NotNil(t, d.Data)
	assert.NoError(t, d.Setup(context.Background(), &HookContext{}))
	assert.NoError(t, d.Teardown(context.Background(), &HookContext{}))
}

func TestNormalize_CollectsEveryProblem(t *testing.T) {
	d := sample()
	d.ThreadCount = 0
	d.Iterations = -1
	d.StartState = "missing"

	err := d.Normalize()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "sample", verr.Workload)
	assert.Len(t, verr.Errs.Errors, 3)
	assert.Contains(t, err.Error(), "threadCount")
	assert.Contains(t, err.Error(), "iterations")
	assert.Contains(t, err.Error(), `"missing"`)

	var merr *multierror.Error
	assert.True(t, errors.As(err, &merr))
}

func TestClone_IsIndependent(t *testing.T) {
	d := sample()
	c := d.Clone()

	c.States["c"] = nop
	c.Transitions["a"]["a"] = 5
	c.Data["n"] = 2
	c.Data["nested"].(map[string]any)["x"] = 2

	assert.Len(t, d.States, 2)
	assert.NotContains(t, d.Transitions["a"], "a")
	assert.Equal(t, 1, d.Data["n"])
	assert.Equal(t, 1, d.Data["nested"].(map[string]any)["x"])
}

func TestExtend_OverridesAndCallsBase(t *testing.T) {
	var calls []string
	base := sample()
	base.States["a"] = func(context.Context, *fsm.Thread) error {
		calls = append(calls, "base-a")
		return nil
	}

	derived := Extend(base, "derived", func(d *Descriptor) {
		super := d.Super("a")
		d.States["a"] = func(ctx context.Context, th *fsm.Thread) error {
			calls = append(calls, "derived-a")
			return super(ctx, th)
		}
		d.Data["extra"] = true
		d.Iterations = 7
	})
	require.NoError(t, derived.Normalize())

	assert.Equal(t, "derived", derived.Name)
	assert.Same(t, base, derived.Base)
	assert.Equal(t, 7, derived.Iterations)
	assert.Equal(t, 4, base.Iterations)
	assert.Equal(t, true, derived.Data["extra"])
	assert.NotContains(t, base.Data, "extra")

	require.NoError(t, derived.States["a"](context.Background(), &fsm.Thread{}))
	assert.Equal(t, []string{"derived-a", "base-a"}, calls)
}

func TestSuper_MissingState(t *testing.T) {
	derived := Extend(sample(), "derived", nil)
	err := derived.Super("nope")(context.Background(), &fsm.Thread{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestSuperSetup(t *testing.T) {
	ran := false
	base := sample()
	base.Setup = func(context.Context, *HookContext) error {
		ran = true
		return nil
	}
	derived := Extend(base, "derived", func(d *Descriptor) { d.Setup = nil })

	require.NoError(t, derived.SuperSetup()(context.Background(), &HookContext{}))
	assert.True(t, ran)
	assert.NoError(t, Extend(sample(), "x", nil).SuperSetup()(context.Background(), &HookContext{}))
}

func TestResolve(t *testing.T) {
	d := sample()
	require.NoError(t, d.Normalize())

	data := core.Data{"tid": 3}
	cfg := d.Resolve(data, nil, "coll9")
	assert.Equal(t, "sample", cfg.Workload)
	assert.Equal(t, "a", cfg.StartState)
	assert.Equal(t, 4, cfg.Iterations)
	assert.Equal(t, "coll9", cfg.CollName)
	assert.Equal(t, 3, cfg.Data.TID())
}

func TestHookContext_OwnColl(t *testing.T) {
	assert.True(t, (&HookContext{}).OwnColl())
	assert.True(t, (&HookContext{AssertLevel: fsm.AssertOwnColl}).OwnColl())
	assert.False(t, (&HookContext{AssertLevel: fsm.AssertAlways}).OwnColl())
}
