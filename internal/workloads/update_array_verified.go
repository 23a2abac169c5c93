package workloads

import (
	"context"

	"github.com/pkg/errors"

	"fsmharness/internal/fsm"
	"fsmharness/internal/workload"
)

// UpdateArrayVerified extends UpdateArray with a document count check after
// every push and a teardown that confirms no document went missing. The count
// check only runs while the workload has its collection to itself.
func UpdateArrayVerified() *workload.Descriptor {
	return workload.Extend(UpdateArray(), UpdateArrayVerifiedName, func(d *workload.Descriptor) {
		push := d.Super("push")
		d.States["push"] = func(ctx context.Context, th *fsm.Thread) error {
			if err := push(ctx, th); err != nil {
				return err
			}
			return checkArrayDocCount(ctx, th)
		}
		d.Data["numDocs"] = 5
		d.Teardown = verifyArrayDocs
	})
}

func checkArrayDocCount(ctx context.Context, th *fsm.Thread) error {
	if !th.OwnColl() {
		return nil
	}
	p, err := decodeArrayParams(th.Data)
	if err != nil {
		return err
	}
	n, err := th.Collection().Count(ctx)
	if err != nil {
		return err
	}
	if n != p.NumDocs {
		return errors.Errorf("expected %d docs, found %d", p.NumDocs, n)
	}
	return nil
}

func verifyArrayDocs(ctx context.Context, h *workload.HookContext) error {
	p, err := decodeArrayParams(h.Data)
	if err != nil {
		return err
	}
	coll := h.DB.Collection(h.CollName)
	for i := 0; i < p.NumDocs; i++ {
		doc, err := coll.FindOne(ctx, arrayDocID(h.Workload, i))
		if err != nil {
			return errors.Wrapf(err, "doc %d", i)
		}
		if _, ok := doc.Lookup("$.arr"); !ok {
			return errors.Errorf("doc %d lost its arr field", i)
		}
	}
	return nil
}
