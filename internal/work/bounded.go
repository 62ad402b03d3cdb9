package work

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/queueworks/workd/internal/core"
)

// RunBounded executes a work request with a hard time budget. The engine runs
// in its own goroutine so even a kernel that misses a context poll cannot hold
// the caller past the deadline; on timeout the result is discarded and
// core.ErrTimeout is returned.
func RunBounded(ctx context.Context, engine core.Engine, req core.WorkRequest, timeout time.Duration) (map[string]any, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("work panicked: %v", r)}
			}
		}()
		result, err := engine.Execute(execCtx, req)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, core.ErrTimeout
		}
		return out.result, out.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, core.ErrTimeout
		}
		return nil, execCtx.Err()
	}
}
