// Package engine provides the reconciliation primitives used by the provisioner.
//
// # Overview
//
// Every piece of work is a Task which compares one desired entity against the
// live system and returns an Outcome together with an optional value:
//
//   - NoChange: the live system already matched
//   - Changed: the live system was modified
//   - Failed: the desired state could not be reached
//
// Outcomes aggregate with Combine, where Failed dominates Changed and Changed
// dominates NoChange.
//
// # Runners
//
// A Runner executes a batch of tasks concurrently and returns their results in
// input order. Two strategies share that contract:
//
//   - TableRunner re-renders a table of every task's live status until the batch
//     completes. Use it for a few long-running tasks.
//   - ProgressRunner advances a single progress bar as tasks complete and
//     optionally prints one line per finished task. Use it for many short tasks.
//
// Each task gets its own Channel to report progress. Tasks must turn every
// anticipated failure into Failed. A panic inside a task is recovered on the
// task's goroutine and re-raised as a *TaskPanic once the whole batch has
// finished.
//
// # Retries
//
// Retry re-invokes an operation according to a RetryPolicy, recording one
// status entry per failed attempt:
//
//	plugin, err := engine.Retry(ctx, status, engine.DefaultRetryPolicy(engine.IsDisconnect),
//	    func(ctx context.Context) (*backend.Plugin, error) {
//	        return cp.SearchPlugin(ctx, key)
//	    })
//
// # Errors
//
// Errors are classified as transient, conflict or permanent through
// EngineError. IsDisconnect recognizes dropped connections regardless of
// whether they were wrapped in an EngineError.
package engine
