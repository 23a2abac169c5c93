package memstore

import (
	"context"
	"sync/atomic"

	"fsmharness/internal/store"
)

// Host is the address every in-process cluster answers to.
const Host = "memory"

// Cluster is an in-process cluster. Every connection, shared or not, reaches
// the same Store.
type Cluster struct {
	store      *Store
	standalone bool
	shared     *conn
	open       atomic.Int32
}

func NewCluster(standalone bool) (*Cluster, error) {
	s, err := New()
	if err != nil {
		return nil, err
	}
	return &Cluster{
		store:      s,
		standalone: standalone,
		shared:     &conn{store: s},
	}, nil
}

func (c *Cluster) IsStandalone() bool { return c.standalone }

func (c *Cluster) Host() string { return Host }

// Shared returns the cluster-wide connection. Callers must not close it.
func (c *Cluster) Shared() store.Conn { return c.shared }

// Connect opens a dedicated connection. host is accepted for interface
// compatibility; all hosts resolve to this process.
func (c *Cluster) Connect(ctx context.Context, host string) (store.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.open.Add(1)
	return &conn{store: c.store, onClose: func() { c.open.Add(-1) }}, nil
}

// OpenConns reports dedicated connections that have not been closed yet.
func (c *Cluster) OpenConns() int {
	return int(c.open.Load())
}

func (c *Cluster) Close() error {
	return c.shared.Close()
}
