// Package memstore is an in-process document store on top of go-memdb.
// Its Cluster is the standalone topology used by tests and local runs.
package memstore

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"fsmharness/internal/store"
)

const (
	docsTable = "docs"
	idIndex   = "id"   // unique index on db/coll/id
	collIndex = "coll" // index for iterating one collection
	dbIndex   = "db"   // index for dropping a database
)

// record is the stored form of a document. Records are immutable once
// inserted; updates insert a replacement.
type record struct {
	Key  string
	DB   string
	Coll string
	ID   string
	Body []byte
}

func recordKey(db, coll, id string) string {
	return db + "\x00" + coll + "\x00" + id
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			docsTable: {
				Name: docsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					collIndex: {
						Name: collIndex,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "DB"},
								&memdb.StringFieldIndex{Field: "Coll"},
							},
						},
					},
					dbIndex: {
						Name:    dbIndex,
						Indexer: &memdb.StringFieldIndex{Field: "DB"},
					},
				},
			},
		},
	}
}

// Store holds every database of one in-process cluster.
type Store struct {
	db *memdb.MemDB
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Store{db: db}, nil
}

type conn struct {
	store   *Store
	closed  atomic.Bool
	onClose func()
}

func (c *conn) DB(name string) store.DB {
	return &database{conn: c, name: name}
}

func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

type database struct {
	conn *conn
	name string
}

func (d *database) Name() string { return d.name }

func (d *database) Collection(name string) store.Collection {
	return &collection{conn: d.conn, db: d.name, name: name}
}

func (d *database) Drop(ctx context.Context) error {
	if err := d.conn.check(ctx); err != nil {
		return err
	}
	txn := d.conn.store.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(docsTable, dbIndex, d.name); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

type collection struct {
	conn *conn
	db   string
	name string
}

func (c *collection) Name() string { return c.name }

func (c *collection) Insert(ctx context.Context, id string, doc store.Document) error {
	if err := c.conn.check(ctx); err != nil {
		return err
	}
	body, err := store.Encode(doc)
	if err != nil {
		return err
	}
	txn := c.conn.store.db.Txn(true)
	defer txn.Abort()

	key := recordKey(c.db, c.name, id)
	existing, err := txn.First(docsTable, idIndex, key)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return errors.Wrapf(store.ErrDuplicateKey, "%s.%s %q", c.db, c.name, id)
	}
	if err := txn.Insert(docsTable, &record{Key: key, DB: c.db, Coll: c.name, ID: id, Body: body}); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (c *collection) FindOne(ctx context.Context, id string) (store.Document, error) {
	if err := c.conn.check(ctx); err != nil {
		return nil, err
	}
	txn := c.conn.store.db.Txn(false)
	raw, err := txn.First(docsTable, idIndex, recordKey(c.db, c.name, id))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if raw == nil {
		return nil, errors.Wrapf(store.ErrNotFound, "%s.%s %q", c.db, c.name, id)
	}
	return store.Decode(raw.(*record).Body)
}

// Update runs fn inside a write transaction. go-memdb serializes writers, so
// no other update can interleave between the read and the write.
func (c *collection) Update(ctx context.Context, id string, fn func(store.Document) error) error {
	if err := c.conn.check(ctx); err != nil {
		return err
	}
	txn := c.conn.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(docsTable, idIndex, recordKey(c.db, c.name, id))
	if err != nil {
		return errors.WithStack(err)
	}
	if raw == nil {
		return errors.Wrapf(store.ErrNotFound, "%s.%s %q", c.db, c.name, id)
	}
	current := raw.(*record)
	doc, err := store.Decode(current.Body)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	body, err := store.Encode(doc)
	if err != nil {
		return err
	}
	updated := *current
	updated.Body = body
	if err := txn.Insert(docsTable, &updated); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	if err := c.conn.check(ctx); err != nil {
		return err
	}
	txn := c.conn.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(docsTable, idIndex, recordKey(c.db, c.name, id))
	if err != nil {
		return errors.WithStack(err)
	}
	if raw == nil {
		return errors.Wrapf(store.ErrNotFound, "%s.%s %q", c.db, c.name, id)
	}
	if err := txn.Delete(docsTable, raw); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (c *collection) Count(ctx context.Context) (int, error) {
	if err := c.conn.check(ctx); err != nil {
		return 0, err
	}
	txn := c.conn.store.db.Txn(false)
	it, err := txn.Get(docsTable, collIndex, c.db, c.name)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

func (c *collection) Drop(ctx context.Context) error {
	if err := c.conn.check(ctx); err != nil {
		return err
	}
	txn := c.conn.store.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(docsTable, collIndex, c.db, c.name); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}
