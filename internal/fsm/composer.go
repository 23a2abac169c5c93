package fsm

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"fsmharness/internal/core"
)

const (
	DefaultComposerIterations = 100
	DefaultMixProb            = 0.1
)

// ComposerOptions controls interleaving of several workloads in one unit.
type ComposerOptions struct {
	// MixProb is the chance, after each state, of jumping to another workload.
	MixProb float64 `yaml:"mixProb"`
	// Iterations is the total number of states executed across workloads.
	Iterations int `yaml:"iterations"`
}

func (o ComposerOptions) withDefaults() ComposerOptions {
	if o.Iterations <= 0 {
		o.Iterations = DefaultComposerIterations
	}
	if o.MixProb < 0 || o.MixProb > 1 {
		o.MixProb = DefaultMixProb
	}
	return o
}

// Compose runs several workloads' state machines interleaved within a single
// unit. It starts at a random workload's start state. After each state it
// either follows that workload's transitions or, with probability MixProb,
// jumps to a uniformly chosen state of a different workload.
func Compose(ctx context.Context, workloads []string, configs map[string]*Config, tid int, rng *rand.Rand, reporter core.Reporter, opts ComposerOptions) error {
	if len(workloads) == 0 {
		return errors.New("composer: no workloads")
	}
	opts = opts.withDefaults()

	machines := make(map[string]*Machine, len(workloads))
	for _, w := range workloads {
		cfg, ok := configs[w]
		if !ok {
			return errors.Errorf("composer: workload %s has no config", w)
		}
		machines[w] = NewMachine(cfg, tid, rng, reporter)
	}

	current := workloads[rng.Intn(len(workloads))]
	for i := 0; i < opts.Iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m := machines[current]
		err := m.execute(ctx)
		m.iteration++
		if err != nil {
			return err
		}

		if len(workloads) == 1 || rng.Float64() >= opts.MixProb {
			if err := m.advance(); err != nil {
				return err
			}
			continue
		}

		others := make([]string, 0, len(workloads)-1)
		for _, w := range workloads {
			if w != current {
				others = append(others, w)
			}
		}
		current = others[rng.Intn(len(others))]
		states := sortedKeys(configs[current].States)
		machines[current].jump(states[rng.Intn(len(states))])
	}
	return nil
}
