package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Runner executes a batch of tasks concurrently and returns their results
// in input order.
type Runner[R any] interface {
	Apply(ctx context.Context, tasks []Task[R]) []Result[R]
}

// TaskPanic is raised on the caller's goroutine when a task panicked.
type TaskPanic struct {
	Title string
	Value any
}

func (p *TaskPanic) Error() string {
	return fmt.Sprintf("task %q panicked: %v", p.Title, p.Value)
}

// running tracks one launched task.
type running[R any] struct {
	status   *Channel
	done     chan struct{}
	result   Result[R]
	panicked any
}

// launch starts task.Run on its own goroutine. onDone, when set, is called on
// that goroutine after the result is stored and before done is closed.
func launch[R any](ctx context.Context, kind string, obs Observer, task Task[R], onDone func(*running[R])) *running[R] {
	title, first := task.FirstStatus()
	r := &running[R]{
		status: NewChannel(title, first),
		done:   make(chan struct{}),
	}
	if obs == nil {
		obs = nopObserver{}
	}

	go func() {
		defer close(r.done)
		tctx, finish := obs.StartTask(ctx, kind, title)
		defer func() {
			if p := recover(); p != nil {
				r.panicked = p
				r.result = Result[R]{Outcome: Failed}
				r.status.Append(fmt.Sprintf("panic: %v", p))
			}
			finish(r.result.Outcome)
			if onDone != nil {
				onDone(r)
			}
		}()

		outcome, value := task.Run(tctx, r.status)
		r.result = Result[R]{Outcome: outcome, Value: value}
	}()

	return r
}

func (r *running[R]) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func allDone[R any](runs []*running[R]) bool {
	for _, r := range runs {
		if !r.isDone() {
			return false
		}
	}
	return true
}

// collect waits for every task, then re-raises the first panic if any task panicked.
func collect[R any](runs []*running[R]) []Result[R] {
	for _, r := range runs {
		<-r.done
	}
	results := make([]Result[R], len(runs))
	for i, r := range runs {
		if r.panicked != nil {
			panic(&TaskPanic{Title: r.status.Title(), Value: r.panicked})
		}
		results[i] = r.result
	}
	return results
}

// TableConfig configures the live table of a TableRunner.
type TableConfig struct {
	// PollInterval is how often the table is re-rendered.
	PollInterval time.Duration

	// Spinner frames shown next to tasks which are still running.
	Spinner []string
}

// DefaultTableConfig returns the default table display configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		PollInterval: 250 * time.Millisecond,
		Spinner:      []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

// TableRunner shows the full live status of every task in a table.
// It suits a small number of long-running tasks.
type TableRunner[R any] struct {
	Kind     string
	Out      io.Writer
	Config   TableConfig
	Observer Observer
}

// Apply launches all tasks and re-renders the table every poll interval until
// every task has finished.
func (t *TableRunner[R]) Apply(ctx context.Context, tasks []Task[R]) []Result[R] {
	cfg := t.Config
	defaults := DefaultTableConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if len(cfg.Spinner) == 0 {
		cfg.Spinner = defaults.Spinner
	}

	runs := make([]*running[R], len(tasks))
	for i, task := range tasks {
		runs[i] = launch(ctx, t.Kind, t.Observer, task, nil)
	}

	display := newLiveDisplay(outOrStdout(t.Out))
	frame := 0
	display.draw(renderTable(runs, cfg.Spinner, frame))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for !allDone(runs) {
		<-ticker.C
		frame++
		display.draw(renderTable(runs, cfg.Spinner, frame))
	}
	display.finish(renderTable(runs, cfg.Spinner, frame))

	return collect(runs)
}

// ProgressRunner advances a single progress bar as tasks complete and,
// unless Quiet, prints one line per finished task in completion order.
// It suits a large number of short tasks.
type ProgressRunner[R any] struct {
	Kind     string
	Title    string
	Quiet    bool
	Out      io.Writer
	Observer Observer
}

// Apply launches all tasks and waits for every one of them.
func (p *ProgressRunner[R]) Apply(ctx context.Context, tasks []Task[R]) []Result[R] {
	bar := newProgressBar(outOrStdout(p.Out), p.Title, len(tasks))
	bar.draw(0)

	var completed atomic.Int64
	runs := make([]*running[R], len(tasks))
	for i, task := range tasks {
		runs[i] = launch(ctx, p.Kind, p.Observer, task, func(r *running[R]) {
			n := completed.Add(1)
			var line string
			if !p.Quiet {
				line = formatNoise(r.status.Title(), r.result.Outcome, r.status.Render())
			}
			bar.advance(int(n), line)
		})
	}

	results := collect(runs)
	bar.finish(int(completed.Load()))
	return results
}

func outOrStdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
