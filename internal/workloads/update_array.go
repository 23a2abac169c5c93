package workloads

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"fsmharness/internal/core"
	"fsmharness/internal/fsm"
	"fsmharness/internal/store"
	"fsmharness/internal/workload"
)

// UpdateArray has each unit push its tid onto, or pull it from, the arr
// field of a random document and then read the document back to check the
// change is visible. The check holds under concurrency because tids are
// unique across units.
func UpdateArray() *workload.Descriptor {
	return &workload.Descriptor{
		Name:        UpdateArrayName,
		ThreadCount: 5,
		Iterations:  10,
		StartState:  "push",
		States: map[string]fsm.StateFunc{
			"push": pushTID,
			"pull": pullTID,
		},
		Transitions: fsm.Transitions{
			"push": {"push": 0.8, "pull": 0.2},
			"pull": {"push": 0.8, "pull": 0.2},
		},
		Data:  core.Data{"numDocs": 10},
		Setup: setupArrayDocs,
	}
}

type arrayParams struct {
	NumDocs int `mapstructure:"numDocs"`
}

func decodeArrayParams(d core.Data) (arrayParams, error) {
	var p arrayParams
	if err := d.Decode(&p); err != nil {
		return p, err
	}
	if p.NumDocs <= 0 {
		return p, errors.Errorf("numDocs must be positive, got %d", p.NumDocs)
	}
	return p, nil
}

// arrayDocID keys documents by workload so workloads sharing a collection
// keep separate document sets.
func arrayDocID(workload string, i int) string {
	return workload + "/" + strconv.Itoa(i)
}

func setupArrayDocs(ctx context.Context, h *workload.HookContext) error {
	p, err := decodeArrayParams(h.Data)
	if err != nil {
		return err
	}
	coll := h.DB.Collection(h.CollName)
	for i := 0; i < p.NumDocs; i++ {
		if err := coll.Insert(ctx, arrayDocID(h.Workload, i), store.Document{"_id": i, "arr": []any{}}); err != nil {
			return errors.Wrapf(err, "inserting doc %d", i)
		}
	}
	return nil
}

func randomArrayDoc(th *fsm.Thread) (string, error) {
	p, err := decodeArrayParams(th.Data)
	if err != nil {
		return "", err
	}
	return arrayDocID(th.Workload, th.Rand.Intn(p.NumDocs)), nil
}

func arrayContains(doc store.Document, tid int) bool {
	v, ok := doc.Lookup("$.arr")
	if !ok {
		return false
	}
	arr, _ := v.([]any)
	for _, e := range arr {
		if numberEquals(e, tid) {
			return true
		}
	}
	return false
}

func pushTID(ctx context.Context, th *fsm.Thread) error {
	id, err := randomArrayDoc(th)
	if err != nil {
		return err
	}
	coll := th.Collection()
	err = coll.Update(ctx, id, func(doc store.Document) error {
		arr, _ := doc["arr"].([]any)
		doc["arr"] = append(arr, th.TID)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "pushing %d to doc %s", th.TID, id)
	}

	doc, err := coll.FindOne(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "reading doc %s after push", id)
	}
	if _, ok := doc["arr"]; !ok {
		return errors.Errorf("doc %s should have a field named arr: %v", id, doc)
	}
	if !arrayContains(doc, th.TID) {
		return errors.Errorf("doc %s arr does not contain %d after push: %v", id, th.TID, doc["arr"])
	}
	return nil
}

func pullTID(ctx context.Context, th *fsm.Thread) error {
	id, err := randomArrayDoc(th)
	if err != nil {
		return err
	}
	coll := th.Collection()
	err = coll.Update(ctx, id, func(doc store.Document) error {
		arr, _ := doc["arr"].([]any)
		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if !numberEquals(e, th.TID) {
				kept = append(kept, e)
			}
		}
		doc["arr"] = kept
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "pulling %d from doc %s", th.TID, id)
	}

	doc, err := coll.FindOne(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "reading doc %s after pull", id)
	}
	if arrayContains(doc, th.TID) {
		return errors.Errorf("doc %s arr contains removed value %d after pull: %v", id, th.TID, doc["arr"])
	}
	return nil
}
