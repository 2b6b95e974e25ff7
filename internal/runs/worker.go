package runs

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned by a worker that observed the cooperative cancel
// flag at one of its checkpoints.
var ErrCancelled = errors.New("run cancelled")

// terminalError marks a failure no retry can fix (missing configuration,
// invalid input). The scheduler fails the run terminally regardless of the
// retryable flag.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Terminal wraps an error as non-retryable.
func Terminal(format string, args ...any) error {
	return &terminalError{err: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// ProgressFunc reports a human-readable stage label for a running run.
type ProgressFunc func(stage string)

// CancelledFunc reports whether cancellation has been requested. Workers
// check it at their own checkpoints; in-flight work is never interrupted
// mid-step.
type CancelledFunc func() bool

// Worker performs one background run attempt. Run returns the output on
// success; ErrCancelled when a cancel checkpoint fired; a Terminal error for
// unfixable failures; any other error is treated as retryable.
type Worker interface {
	Run(ctx context.Context, run *BackgroundRun, progress ProgressFunc, cancelled CancelledFunc) (string, error)
}
