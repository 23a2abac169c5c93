package threadmgr

import (
	"fmt"
)

// ConfigurationError reports misuse of the manager: a bad budget, an
// operation out of order, or a workload the caller gave no context for.
type ConfigurationError struct {
	Op      string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("thread manager %s: %s", e.Op, e.Message)
}

func configErr(op, format string, args ...any) error {
	return &ConfigurationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// ThresholdExceededError aborts a round in which too many units failed to
// start.
type ThresholdExceededError struct {
	Failed  int
	Total   int
	Allowed float64
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("too many worker units failed to spawn - aborting: %d of %d failed, %.0f%% allowed",
		e.Failed, e.Total, e.Allowed*100)
}
