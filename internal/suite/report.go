package suite

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"fsmharness/internal/collector"
	"fsmharness/internal/config"
	"fsmharness/internal/worker"
)

type Report struct {
	RunID         string
	Seed          int64
	Mode          config.Mode
	Rounds        []*RoundReport
	Metrics       *collector.Metrics
	DroppedEvents int64
}

type RoundReport struct {
	Index     int
	Workloads []string
	Threads   map[string]int
	Failures  []worker.Result
	// Aborted is set when too many units failed to start.
	Aborted     error
	SetupErr    error
	TeardownErr error
}

// stopErr is the reason no further round may run, if any.
func (r *RoundReport) stopErr() error {
	if r.SetupErr != nil {
		return r.SetupErr
	}
	return r.Aborted
}

func (r *RoundReport) err() error {
	var result error
	for _, err := range []error{r.SetupErr, r.Aborted, r.TeardownErr} {
		result = multiAppend(result, err)
	}
	for _, f := range r.Failures {
		result = multiAppend(result, errors.New(f.String()))
	}
	return result
}

// Failures returns the failed units of every round.
func (r *Report) Failures() []worker.Result {
	var out []worker.Result
	for _, round := range r.Rounds {
		out = append(out, round.Failures...)
	}
	return out
}

// Err folds every problem of the run into one error, or nil on success.
func (r *Report) Err() error {
	var result error
	for _, round := range r.Rounds {
		if err := round.err(); err != nil {
			result = multiAppend(result, errors.WithMessagef(err, "round %d", round.Index))
		}
	}
	return result
}

func multiAppend(result, err error) error {
	if err == nil {
		return result
	}
	return multierror.Append(result, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// WriteText prints the run summary followed by the collected metrics.
func (r *Report) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Run %s (%s, seed %d)\n", r.RunID, r.Mode, r.Seed)
	for _, round := range r.Rounds {
		fmt.Fprintf(w, "  round %d %v threads=%v failed=%d\n",
			round.Index, round.Workloads, round.Threads, len(round.Failures))
		for _, err := range []error{round.SetupErr, round.Aborted, round.TeardownErr} {
			if err != nil {
				fmt.Fprintf(w, "    %s\n", err)
			}
		}
		for _, f := range round.Failures {
			fmt.Fprintf(w, "    %s\n", f)
		}
	}
	if r.DroppedEvents > 0 {
		fmt.Fprintf(w, "Warning: %d events dropped\n", r.DroppedEvents)
	}
	if r.Metrics != nil {
		collector.FormatText(w, r.Metrics)
	}
}

type jsonFailure struct {
	TID          int    `json:"tid"`
	Err          string `json:"error"`
	Stack        string `json:"stack,omitempty"`
	SpawnFailure bool   `json:"spawnFailure"`
}

type jsonRound struct {
	Index       int            `json:"index"`
	Workloads   []string       `json:"workloads"`
	Threads     map[string]int `json:"threads"`
	Failures    []jsonFailure  `json:"failures"`
	Aborted     string         `json:"aborted,omitempty"`
	SetupErr    string         `json:"setupError,omitempty"`
	TeardownErr string         `json:"teardownError,omitempty"`
}

type jsonReport struct {
	RunID         string                 `json:"runId"`
	Seed          int64                  `json:"seed"`
	Mode          config.Mode            `json:"mode"`
	OK            bool                   `json:"ok"`
	Rounds        []jsonRound            `json:"rounds"`
	DroppedEvents int64                  `json:"droppedEvents"`
	Metrics       *collector.JSONMetrics `json:"metrics,omitempty"`
}

// WriteJSON prints the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out := jsonReport{
		RunID:         r.RunID,
		Seed:          r.Seed,
		Mode:          r.Mode,
		OK:            r.Err() == nil,
		Rounds:        make([]jsonRound, 0, len(r.Rounds)),
		DroppedEvents: r.DroppedEvents,
	}
	if r.Metrics != nil {
		out.Metrics = collector.ToJSON(r.Metrics)
	}
	for _, round := range r.Rounds {
		jr := jsonRound{
			Index:       round.Index,
			Workloads:   round.Workloads,
			Threads:     round.Threads,
			Failures:    make([]jsonFailure, 0, len(round.Failures)),
			Aborted:     errString(round.Aborted),
			SetupErr:    errString(round.SetupErr),
			TeardownErr: errString(round.TeardownErr),
		}
		for _, f := range round.Failures {
			jr.Failures = append(jr.Failures, jsonFailure{TID: f.TID, Err: f.Err, Stack: f.Stack, SpawnFailure: f.SpawnFailure})
		}
		out.Rounds = append(out.Rounds, jr)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(out), "writing report")
}
