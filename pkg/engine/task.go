package engine

import "context"

// Task is a unit of reconciliation work.
//
// A Task is an immutable value holding everything it needs. Run must convert
// every anticipated failure into Failed plus a zero result; a panic inside
// Run is treated as a programming error and aborts the whole batch.
type Task[R any] interface {
	// FirstStatus returns the title and initial status entry shown before Run starts.
	FirstStatus() (title, status string)

	// Run performs the work, reporting progress to status.
	Run(ctx context.Context, status *Channel) (Outcome, R)
}

// Result pairs the outcome of a task with its (possibly zero) value.
type Result[R any] struct {
	Outcome Outcome
	Value   R
}

// Observer is notified about the lifecycle of every task a runner executes.
type Observer interface {
	// StartTask is called before Run. The returned context is passed to Run and
	// the returned function is called with the task's outcome once Run returns.
	StartTask(ctx context.Context, kind, title string) (context.Context, func(Outcome))
}

type nopObserver struct{}

func (nopObserver) StartTask(ctx context.Context, _, _ string) (context.Context, func(Outcome)) {
	return ctx, func(Outcome) {}
}

// OutcomesOf returns the outcomes of a batch, in input order.
func OutcomesOf[R any](results []Result[R]) []Outcome {
	out := make([]Outcome, len(results))
	for i, r := range results {
		out[i] = r.Outcome
	}
	return out
}
