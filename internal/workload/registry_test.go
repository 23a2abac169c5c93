package workload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsmharness/internal/core"
)

func TestRegistry_LoadReturnsFreshDescriptors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("sample", sample))

	a, err := r.Load("sample")
	require.NoError(t, err)
	b, err := r.Load("sample")
	require.NoError(t, err)

	a.Data["n"] = 99
	assert.Equal(t, 1, b.Data["n"])
	assert.NotNil(t, a.Setup)
}

func TestRegistry_DuplicateAndUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("sample", sample))
	assert.Error(t, r.Register("sample", sample))
	assert.Panics(t, func() { r.MustRegister("sample", sample) })

	_, err := r.Load("other")
	assert.True(t, errors.Is(err, ErrUnknownWorkload))
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("zeta", sample)
	r.MustRegister("alpha", sample)
	r.MustRegister("mid", sample)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestRegistry_NameDefaultsAndValidation(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("unnamed", func() *Descriptor {
		d := sample()
		d.Name = ""
		return d
	})
	r.MustRegister("broken", func() *Descriptor {
		d := sample()
		d.ThreadCount = 0
		return d
	})
	r.MustRegister("nil", func() *Descriptor { return nil })

	d, err := r.Load("unnamed")
	require.NoError(t, err)
	assert.Equal(t, "unnamed", d.Name)

	_, err = r.Load("broken")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = r.Load("nil")
	assert.Error(t, err)
}

func TestWithOverrides(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("sample", sample)
	r.MustRegister("other", sample)

	l := WithOverrides(r, map[string]Override{
		"sample": {ThreadCount: 9, Data: core.Data{"nested": map[string]any{"y": 2}}},
	})

	d, err := l.Load("sample")
	require.NoError(t, err)
	assert.Equal(t, 9, d.ThreadCount)
	assert.Equal(t, 4, d.Iterations)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, d.Data["nested"])

	o, err := l.Load("other")
	require.NoError(t, err)
	assert.Equal(t, 2, o.ThreadCount)

	_, err = l.Load("missing")
	assert.Error(t, err)
}

func TestLoaderFunc(t *testing.T) {
	l := LoaderFunc(func(name string) (*Descriptor, error) {
		d := sample()
		d.Name = name
		return d, nil
	})
	d, err := l.Load("x")
	require.NoError(t, err)
	assert.Equal(t, "x", d.Name)
}
