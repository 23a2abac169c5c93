package threadmgr_test

import (
	"context"
	"fmt"

	"fsmharness/internal/collector"
	"fsmharness/internal/fsm"
	"fsmharness/internal/store/memstore"
	"fsmharness/internal/threadmgr"
	"fsmharness/internal/workload"
)

func counter() *workload.Descriptor {
	return &workload.Descriptor{
		ThreadCount: 4,
		Iterations:  3,
		StartState:  "tick",
		States: map[string]fsm.StateFunc{
			"tick": func(context.Context, *fsm.Thread) error { return nil },
		},
		Transitions: fsm.Transitions{"tick": {"tick": 1}},
	}
}

func ExampleManager() {
	registry := workload.NewRegistry()
	registry.MustRegister("a", counter)
	registry.MustRegister("b", counter)

	c, _ := memstore.NewCluster(true)
	defer c.Close()

	contexts := make(map[string]*threadmgr.WorkloadContext)
	for _, name := range []string{"a", "b"} {
		d, _ := registry.Load(name)
		contexts[name] = &threadmgr.WorkloadContext{Config: d, DBName: "example", CollName: name}
	}

	col := collector.NewCollector()
	mgr := threadmgr.New(c, threadmgr.ExecutionMode{}, threadmgr.WithSeed(1), threadmgr.WithReporter(col))

	// 8 requested threads are rescaled to fit a budget of 4.
	if err := mgr.Init([]string{"a", "b"}, contexts, 4); err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()
	_ = mgr.SpawnAll(ctx, c.Host(), registry)
	if err := mgr.CheckFailed(ctx, 0.2); err != nil {
		fmt.Println(err)
	}
	counts := mgr.ThreadCounts()
	failures, _ := mgr.JoinAll()
	col.Close()

	fmt.Printf("threads: a=%d b=%d\n", counts["a"], counts["b"])
	fmt.Printf("failed: %d, states: %d\n", len(failures), len(col.Events()))
	// Output:
	// threads: a=2 b=2
	// failed: 0, states: 12
}
