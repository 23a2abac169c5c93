// Package cluster describes the topology worker units connect to.
package cluster

import (
	"context"

	"github.com/pkg/errors"

	"fsmharness/internal/store"
	"fsmharness/internal/store/memstore"
	"fsmharness/internal/store/redisstore"
)

const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

// Cluster is what a worker unit needs to obtain a database handle.
//
// Standalone clusters hand every unit the shared connection. Other topologies
// make each unit dial its own connection to the host it was given and close it
// when the unit exits.
type Cluster interface {
	IsStandalone() bool
	// Host is the default address units connect to.
	Host() string
	Shared() store.Conn
	Connect(ctx context.Context, host string) (store.Conn, error)
	Close() error
}

type Options struct {
	Kind       string `yaml:"kind"`
	Host       string `yaml:"host"`
	Standalone bool   `yaml:"standalone"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
}

// Open builds the cluster described by opts.
func Open(ctx context.Context, opts Options) (Cluster, error) {
	switch opts.Kind {
	case "", KindMemory:
		c, err := memstore.NewCluster(opts.Standalone)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindRedis:
		if opts.Host == "" {
			return nil, errors.New("redis cluster requires a host")
		}
		c, err := redisstore.NewCluster(ctx, redisstore.Options{
			Addr:       opts.Host,
			Password:   opts.Password,
			DB:         opts.DB,
			Standalone: opts.Standalone,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Errorf("unknown cluster kind %q", opts.Kind)
	}
}
