package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsmharness/internal/store"
)

func newTestCollection(t *testing.T) (store.DB, store.Collection) {
	t.Helper()
	c, err := NewCluster(true)
	require.NoError(t, err)
	db := c.Shared().DB("db0")
	return db, db.Collection("coll0")
}

func TestCollection_InsertFind(t *testing.T) {
	ctx := context.Background()
	_, coll := newTestCollection(t)

	require.NoError(t, coll.Insert(ctx, "1", store.Document{"arr": []any{}}))

	doc, err := coll.FindOne(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, store.Document{"arr": []any{}}, doc)

	err = coll.Insert(ctx, "1", store.Document{})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	_, err = coll.FindOne(ctx, "2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCollection_Update(t *testing.T) {
	ctx := context.Background()
	_, coll := newTestCollection(t)
	require.NoError(t, coll.Insert(ctx, "a", store.Document{"n": 0}))

	err := coll.Update(ctx, "a", func(doc store.Document) error {
		doc["n"] = doc["n"].(float64) + 1
		return nil
	})
	require.NoError(t, err)

	doc, err := coll.FindOne(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc["n"])

	err = coll.Update(ctx, "missing", func(store.Document) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCollection_UpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	_, coll := newTestCollection(t)
	require.NoError(t, coll.Insert(ctx, "counter", store.Document{"n": 0}))

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = coll.Update(ctx, "counter", func(doc store.Document) error {
					doc["n"] = doc["n"].(float64) + 1
					return nil
				})
			}
		}()
	}
	wg.Wait()

	doc, err := coll.FindOne(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), doc["n"])
}

func TestCollection_CountDeleteDrop(t *testing.T) {
	ctx := context.Background()
	db, coll := newTestCollection(t)
	other := db.Collection("coll1")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, coll.Insert(ctx, id, store.Document{}))
	}
	require.NoError(t, other.Insert(ctx, "a", store.Document{}))

	n, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, coll.Delete(ctx, "b"))
	assert.ErrorIs(t, coll.Delete(ctx, "b"), store.ErrNotFound)

	n, _ = coll.Count(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, coll.Drop(ctx))
	n, _ = coll.Count(ctx)
	assert.Equal(t, 0, n)

	n, _ = other.Count(ctx)
	assert.Equal(t, 1, n)

	require.NoError(t, db.Drop(ctx))
	n, _ = other.Count(ctx)
	assert.Equal(t, 0, n)
}

func TestCluster_Connections(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(false)
	require.NoError(t, err)
	assert.False(t, c.IsStandalone())
	assert.Equal(t, Host, c.Host())

	conn, err := c.Connect(ctx, Host)
	require.NoError(t, err)
	assert.Equal(t, 1, c.OpenConns())

	coll := conn.DB("db0").Collection("coll0")
	require.NoError(t, coll.Insert(ctx, "x", store.Document{"v": "from-conn"}))

	// Dedicated connections see the same data as the shared one
	doc, err := c.Shared().DB("db0").Collection("coll0").FindOne(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "from-conn", doc["v"])

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 0, c.OpenConns())

	_, err = coll.FindOne(ctx, "x")
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestCollection_CanceledContext(t *testing.T) {
	_, coll := newTestCollection(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := coll.Insert(ctx, "a", store.Document{})
	assert.ErrorIs(t, err, context.Canceled)
}
