// Package effects runs the non-critical side effects of a guess: comment
// scheduling, broadcasts, reward notifications. Failures are logged and
// counted, never returned to the caller.
package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

type Runner struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// BestEffort runs fn inline and reports whether it succeeded.
func (r *Runner) BestEffort(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			util.LogErrorCtx(ctx, "Effect %q panicked: %v", name, rec)
			metrics.EffectFailures.WithLabelValues(name).Inc()
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		util.LogWarnCtx(ctx, "Effect %q failed: %v", name, err)
		metrics.EffectFailures.WithLabelValues(name).Inc()
		return false
	}
	return true
}

// Detach runs fn on its own goroutine. The task keeps the request's values
// (request id) but not its cancellation, and is bounded by the runner's
// timeout.
func (r *Runner) Detach(ctx context.Context, name string, fn func(context.Context) error) {
	base := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		taskCtx := base
		if r.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(base, r.timeout)
			defer cancel()
		}
		r.BestEffort(taskCtx, name, fn)
	}()
}

// Wait blocks until every detached task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// WaitTimeout is Wait bounded by d; it reports whether all tasks finished.
func (r *Runner) WaitTimeout(d time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(d):
		return fmt.Errorf("detached tasks still running after %v", d)
	}
}
