// Package workloads holds the built-in workloads.
package workloads

import (
	"fsmharness/internal/workload"
)

const (
	UpdateArrayName         = "update_array"
	UpdateArrayVerifiedName = "update_array_verified"
	InsertCountName         = "insert_count"
)

var builtins = []struct {
	name    string
	factory workload.Factory
}{
	{UpdateArrayName, UpdateArray},
	{UpdateArrayVerifiedName, UpdateArrayVerified},
	{InsertCountName, InsertCount},
}

// Register adds every built-in workload to r.
func Register(r *workload.Registry) error {
	for _, b := range builtins {
		if err := r.Register(b.name, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in workloads.
func NewRegistry() *workload.Registry {
	r := workload.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// numberEquals compares a value read back from a store (float64 after the
// JSON round trip) with a thread id.
func numberEquals(v any, n int) bool {
	switch x := v.(type) {
	case float64:
		return x == float64(n)
	case int:
		return x == n
	case int64:
		return x == int64(n)
	}
	return false
}
