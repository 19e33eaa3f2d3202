// ============================================================================
// Bulk-Translator Worker - Item Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs one per-item remote call with its own timeout
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  execute(ctx, task, fn)             │
//   │   ├─ ctx already done? → Skipped    │
//   │   ├─ Context with timeout           │
//   │   ├─ fn(ctx, task), panic recovered │
//   │   └─ Result{Err, Duration}          │
//   └─────────────────────────────────────┘
//
// Timeout Control:
//   Each task gets an independent context derived from the phase context:
//   - Cancelling the job cancels the phase context, so in-flight calls stop
//   - Task.Timeout bounds a single remote call
//
// Error Handling:
//   - A failing item never fails its siblings; the error lives in Result
//   - A panic inside fn is converted into an error on that item
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"
)

// execute runs fn for one task and packages the outcome.
func execute(ctx context.Context, task Task, fn Func) (result Result) {
	result = Result{Index: task.Index, Key: task.Key}

	// Cancellation is checked before every remote call
	if err := ctx.Err(); err != nil {
		result.Err = err
		result.Skipped = true
		return result
	}

	start := time.Now()
	callCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic in %s: %v", task.Key, r)
		}
		result.Duration = time.Since(start)
	}()

	result.Err = fn(callCtx, task)
	return result
}
