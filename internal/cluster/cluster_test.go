package cluster

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsmharness/internal/store/memstore"
)

func TestOpen_Memory(t *testing.T) {
	c, err := Open(context.Background(), Options{Standalone: true})
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.IsStandalone())
	assert.Equal(t, memstore.Host, c.Host())
}

func TestOpen_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := Open(context.Background(), Options{Kind: KindRedis, Host: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.IsStandalone())
	assert.Equal(t, mr.Addr(), c.Host())
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(context.Background(), Options{Kind: KindRedis})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Kind: "mongo"})
	assert.Error(t, err)
}
