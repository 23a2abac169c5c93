// Package store is the document-store abstraction state functions run against.
// Backends live in subpackages: memstore (in process) and redisstore.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrClosed       = errors.New("connection closed")
)

// Document is a JSON-shaped record. Documents read back from a store have
// gone through a JSON round trip, so numbers are float64 and lists are []any.
type Document map[string]any

// Conn is one connection to a cluster.
type Conn interface {
	DB(name string) DB
	Close() error
}

type DB interface {
	Name() string
	Collection(name string) Collection
	// Drop removes every collection in the database.
	Drop(ctx context.Context) error
}

type Collection interface {
	Name() string
	// Insert fails with ErrDuplicateKey if id already exists.
	Insert(ctx context.Context, id string, doc Document) error
	// FindOne fails with ErrNotFound if id does not exist.
	FindOne(ctx context.Context, id string) (Document, error)
	// Update applies fn to the stored document atomically with respect to
	// other updates of the same id. fn may be invoked more than once.
	Update(ctx context.Context, id string, fn func(Document) error) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Drop(ctx context.Context) error
}

// Encode serializes a document for storage.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	b, err := json.Marshal(doc)
	return b, errors.Wrap(err, "encoding document")
}

// Decode parses a stored document.
func Decode(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
