// Package names hands out unique database and collection names for a run.
package names

import (
	"strconv"
	"sync/atomic"
)

// Sequence produces prefix+n with n starting at 0. Safe for concurrent use.
type Sequence struct {
	prefix string
	next   atomic.Int64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next name and advances the counter.
func (s *Sequence) Next() string {
	n := s.next.Add(1) - 1
	return s.prefix + strconv.FormatInt(n, 10)
}

// Generator pairs the database and collection sequences used by one run.
// Create one per run; names are only unique within a single Generator.
type Generator struct {
	DB   *Sequence
	Coll *Sequence
}

func NewGenerator() *Generator {
	return &Generator{
		DB:   NewSequence("db"),
		Coll: NewSequence("coll"),
	}
}

// Default is the process-wide generator. Names drawn from it never repeat
// within a process, across runs or workloads.
var Default = NewGenerator()

// DBName returns the next process-wide database name.
func DBName() string { return Default.DB.Next() }

// CollName returns the next process-wide collection name.
func CollName() string { return Default.Coll.Next() }
