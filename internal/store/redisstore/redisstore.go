// Package redisstore is a document store backed by Redis. Each collection is a
// hash of id -> JSON document; each database keeps a set of its collections.
package redisstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"fsmharness/internal/store"
)

const (
	defaultKeyPrefix = "fsmharness"
	// Optimistic updates retry while another unit keeps winning the WATCH race.
	updateAttempts = 50
	updateDelay    = time.Millisecond
)

type conn struct {
	client  *redis.Client
	prefix  string
	owned   bool
	closed  atomic.Bool
	onClose func()
}

func (c *conn) DB(name string) store.DB {
	return &database{conn: c, name: name}
}

// Close releases the underlying client if this connection owns it.
func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.onClose != nil {
		c.onClose()
	}
	if c.owned {
		return errors.WithStack(c.client.Close())
	}
	return nil
}

func (c *conn) clientFor(ctx context.Context) (*redis.Client, error) {
	if c.closed.Load() {
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.client.WithContext(ctx), nil
}

type database struct {
	conn *conn
	name string
}

func (d *database) Name() string { return d.name }

func (d *database) Collection(name string) store.Collection {
	return &collection{
		conn:     d.conn,
		db:       d.name,
		name:     name,
		key:      d.conn.prefix + ":" + d.name + ":" + name,
		indexKey: d.indexKey(),
	}
}

func (d *database) indexKey() string {
	return d.conn.prefix + ":" + d.name + ":$collections"
}

func (d *database) Drop(ctx context.Context) error {
	client, err := d.conn.clientFor(ctx)
	if err != nil {
		return err
	}
	colls, err := client.SMembers(d.indexKey()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	keys := []string{d.indexKey()}
	for _, coll := range colls {
		keys = append(keys, d.conn.prefix+":"+d.name+":"+coll)
	}
	return errors.WithStack(client.Del(keys...).Err())
}

type collection struct {
	conn     *conn
	db       string
	name     string
	key      string
	indexKey string
}

func (c *collection) Name() string { return c.name }

func (c *collection) notFound(id string) error {
	return errors.Wrapf(store.ErrNotFound, "%s.%s %q", c.db, c.name, id)
}

func (c *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return err
	}
	body, err := store.Encode(doc)
	if err != nil {
		return err
	}
	if err := client.SAdd(c.indexKey, c.name).Err(); err != nil {
		return errors.WithStack(err)
	}
	ok, err := client.HSetNX(c.key, id, body).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if !ok {
		return errors.Wrapf(store.ErrDuplicateKey, "%s.%s %q", c.db, c.name, id)
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (store.Document, error) {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	body, err := client.HGet(c.key, id).Bytes()
	if err == redis.Nil {
		return nil, c.notFound(id)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return store.Decode(body)
}

// Update is a WATCH/MULTI optimistic transaction on the collection hash,
// retried when a concurrent writer invalidates the watch.
func (c *collection) Update(ctx context.Context, id string, fn func(store.Document) error) error {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return err
	}
	txf := func(tx *redis.Tx) error {
		body, err := tx.HGet(c.key, id).Bytes()
		if err == redis.Nil {
			return c.notFound(id)
		}
		if err != nil {
			return errors.WithStack(err)
		}
		doc, err := store.Decode(body)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		updated, err := store.Encode(doc)
		if err != nil {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HSet(c.key, id, updated)
			return nil
		})
		return err
	}
	return retry.Do(
		func() error { return client.Watch(txf, c.key) },
		retry.Attempts(updateAttempts),
		retry.Delay(updateDelay),
		retry.RetryIf(func(err error) bool { return err == redis.TxFailedErr }),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (c *collection) Delete(ctx context.Context, id string) error {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return err
	}
	n, err := client.HDel(c.key, id).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return c.notFound(id)
	}
	return nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return 0, err
	}
	n, err := client.HLen(c.key).Result()
	return int(n), errors.WithStack(err)
}

func (c *collection) Drop(ctx context.Context) error {
	client, err := c.conn.clientFor(ctx)
	if err != nil {
		return err
	}
	if err := client.Del(c.key).Err(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(client.SRem(c.indexKey, c.name).Err())
}
