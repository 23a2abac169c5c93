package redisstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"fsmharness/internal/store"
)

type Options struct {
	// Addr is the default host, also used for the shared connection.
	Addr     string
	Password string
	DB       int
	// Standalone makes units share one client instead of dialing their own.
	Standalone bool
	KeyPrefix  string
	// ConnectAttempts and ConnectDelay bound the initial PING retries.
	ConnectAttempts uint
	ConnectDelay    time.Duration
}

func (o *Options) applyDefaults() {
	if o.KeyPrefix == "" {
		o.KeyPrefix = defaultKeyPrefix
	}
	if o.ConnectAttempts == 0 {
		o.ConnectAttempts = 3
	}
	if o.ConnectDelay == 0 {
		o.ConnectDelay = 100 * time.Millisecond
	}
}

type Cluster struct {
	opts   Options
	shared *conn
	open   atomic.Int32
}

// NewCluster dials the shared connection and verifies it responds.
func NewCluster(ctx context.Context, opts Options) (*Cluster, error) {
	opts.applyDefaults()
	c := &Cluster{opts: opts}
	client, err := c.dial(ctx, opts.Addr)
	if err != nil {
		return nil, err
	}
	c.shared = &conn{client: client, prefix: opts.KeyPrefix, owned: true}
	return c, nil
}

func (c *Cluster) dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: c.opts.Password,
		DB:       c.opts.DB,
	})
	err := retry.Do(
		func() error { return client.WithContext(ctx).Ping().Err() },
		retry.Attempts(c.opts.ConnectAttempts),
		retry.Delay(c.opts.ConnectDelay),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("host", addr).Debugf("redis ping attempt %d failed: %v", n+1, err)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return client, nil
}

func (c *Cluster) IsStandalone() bool { return c.opts.Standalone }

func (c *Cluster) Host() string { return c.opts.Addr }

// Shared returns the cluster-wide connection. Callers must not close it.
func (c *Cluster) Shared() store.Conn { return c.shared }

// Connect dials a dedicated client for one unit. An empty host means the
// cluster's default address.
func (c *Cluster) Connect(ctx context.Context, host string) (store.Conn, error) {
	if host == "" {
		host = c.opts.Addr
	}
	client, err := c.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	c.open.Add(1)
	return &conn{
		client:  client,
		prefix:  c.opts.KeyPrefix,
		owned:   true,
		onClose: func() { c.open.Add(-1) },
	}, nil
}

// OpenConns reports dedicated connections that have not been closed yet.
func (c *Cluster) OpenConns() int {
	return int(c.open.Load())
}

func (c *Cluster) Close() error {
	return c.shared.Close()
}
