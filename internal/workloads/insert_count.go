package workloads

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/store"
	"fsmharness/internal/workload"
)

const (
	insertedKey = "inserted"
	lastIDKey   = "lastID"
)

// InsertCount has each unit insert uniquely keyed documents and check that
// the collection never holds fewer documents than the unit itself inserted.
func InsertCount() *workload.Descriptor {
	return &workload.Descriptor{
		Name:        InsertCountName,
		ThreadCount: 4,
		Iterations:  20,
		StartState:  "insert",
		States: map[string]fsm.StateFunc{
			"insert": insertDoc,
			"count":  countDocs,
		},
		Transitions: fsm.Transitions{
			"insert": {"insert": 0.7, "count": 0.3},
			"count":  {"insert": 1},
		},
		Data: core.Data{},
	}
}

func insertDoc(ctx context.Context, th *fsm.Thread) error {
	id := uuid.NewString()
	n, _ := th.Data.Int(insertedKey)
	doc := store.Document{"tid": th.TID, "seq": n}
	if err := th.Collection().Insert(ctx, id, doc); err != nil {
		return errors.Wrapf(err, "inserting %s", id)
	}
	th.Data.Set(insertedKey, n+1)
	th.Data.Set(lastIDKey, id)
	return nil
}

func countDocs(ctx context.Context, th *fsm.Thread) error {
	inserted, _ := th.Data.Int(insertedKey)
	n, err := th.Collection().Count(ctx)
	if err != nil {
		return err
	}
	if n < inserted {
		return errors.Errorf("collection holds %d docs but unit %d inserted %d", n, th.TID, inserted)
	}

	id, ok := th.Data.Get(lastIDKey)
	if !ok {
		return nil
	}
	doc, err := th.Collection().FindOne(ctx, id.(string))
	if err != nil {
		return errors.Wrapf(err, "reading back %v", id)
	}
	fields, err := doc.Extract(map[string]string{"tid": "$.tid", "seq": "$.seq"})
	if err != nil {
		return err
	}
	if !numberEquals(fields["tid"], th.TID) {
		return errors.Errorf("doc %v belongs to unit %v, not %d", id, fields["tid"], th.TID)
	}
	if !numberEquals(fields["seq"], inserted-1) {
		return errors.Errorf("doc %v has seq %v, expected %d", id, fields["seq"], inserted-1)
	}
	return nil
}
