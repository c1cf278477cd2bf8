package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcTask adapts a function to the Task interface.
type funcTask[R any] struct {
	Title  string
	Status string
	Fn     func(ctx context.Context, status *Channel) (Outcome, R)
}

func (t funcTask[R]) FirstStatus() (string, string) {
	return t.Title, t.Status
}

func (t funcTask[R]) Run(ctx context.Context, status *Channel) (Outcome, R) {
	return t.Fn(ctx, status)
}

// sleepyTask finishes after delay with a fixed outcome and value.
func sleepyTask(title string, delay time.Duration, outcome Outcome, value int) Task[int] {
	return funcTask[int]{
		Title:  title,
		Status: "starting",
		Fn: func(ctx context.Context, status *Channel) (Outcome, int) {
			time.Sleep(delay)
			status.Append(fmt.Sprintf("finished %s", title))
			return outcome, value
		},
	}
}

// Later tasks finish first so completion order differs from input order.
func mixedBatch() []Task[int] {
	return []Task[int]{
		sleepyTask("a", 30*time.Millisecond, Changed, 1),
		sleepyTask("b", 20*time.Millisecond, NoChange, 2),
		sleepyTask("c", 10*time.Millisecond, Failed, 0),
		sleepyTask("d", 0, Changed, 4),
	}
}

func expectedMixed() []Result[int] {
	return []Result[int]{
		{Outcome: Changed, Value: 1},
		{Outcome: NoChange, Value: 2},
		{Outcome: Failed, Value: 0},
		{Outcome: Changed, Value: 4},
	}
}

func TestTableRunnerPreservesOrder(t *testing.T) {
	var out bytes.Buffer
	runner := &TableRunner[int]{Kind: "test", Out: &out, Config: TableConfig{PollInterval: 5 * time.Millisecond}}

	results := runner.Apply(context.Background(), mixedBatch())
	assert.Equal(t, expectedMixed(), results)

	rendered := out.String()
	assert.Contains(t, rendered, "finished a")
	assert.Contains(t, rendered, Failed.Icon())
}

func TestProgressRunnerPreservesOrder(t *testing.T) {
	var out bytes.Buffer
	runner := &ProgressRunner[int]{Kind: "test", Title: "things", Out: &out}

	results := runner.Apply(context.Background(), mixedBatch())
	assert.Equal(t, expectedMixed(), results)

	rendered := out.String()
	assert.Contains(t, rendered, "[d] starting | finished d")
	assert.Contains(t, rendered, "things: 4/4 done")
}

func TestProgressRunnerQuiet(t *testing.T) {
	var out bytes.Buffer
	runner := &ProgressRunner[int]{Kind: "test", Title: "peers", Quiet: true, Out: &out}

	runner.Apply(context.Background(), mixedBatch())
	assert.NotContains(t, out.String(), "finished")
	assert.Contains(t, out.String(), "peers: 4/4 done")
}

func TestRunnersAgree(t *testing.T) {
	const n = 50
	tasks := make([]Task[int], n)
	for i := range tasks {
		outcome := Outcomes[i%len(Outcomes)]
		tasks[i] = sleepyTask(fmt.Sprintf("t%d", i), time.Duration(n-i)*100*time.Microsecond, outcome, i)
	}

	table := &TableRunner[int]{Out: &bytes.Buffer{}, Config: TableConfig{PollInterval: time.Millisecond}}
	progress := &ProgressRunner[int]{Out: &bytes.Buffer{}}

	assert.Equal(t, table.Apply(context.Background(), tasks), progress.Apply(context.Background(), tasks))
}

func TestRunnerEmptyBatch(t *testing.T) {
	table := &TableRunner[string]{Out: &bytes.Buffer{}}
	assert.Empty(t, table.Apply(context.Background(), nil))

	progress := &ProgressRunner[string]{Out: &bytes.Buffer{}}
	assert.Empty(t, progress.Apply(context.Background(), nil))
}

func panickingBatch(finished *sync.WaitGroup) []Task[int] {
	finished.Add(1)
	return []Task[int]{
		funcTask[int]{Title: "bad", Fn: func(context.Context, *Channel) (Outcome, int) {
			panic("invariant violated")
		}},
		funcTask[int]{Title: "good", Fn: func(context.Context, *Channel) (Outcome, int) {
			defer finished.Done()
			time.Sleep(10 * time.Millisecond)
			return Changed, 1
		}},
	}
}

func TestRunnerRepanics(t *testing.T) {
	runners := map[string]Runner[int]{
		"table":    &TableRunner[int]{Out: &bytes.Buffer{}, Config: TableConfig{PollInterval: time.Millisecond}},
		"progress": &ProgressRunner[int]{Out: &bytes.Buffer{}},
	}
	for name, runner := range runners {
		t.Run(name, func(t *testing.T) {
			var finished sync.WaitGroup
			tasks := panickingBatch(&finished)

			defer func() {
				p := recover()
				require.NotNil(t, p)
				tp, ok := p.(*TaskPanic)
				require.True(t, ok)
				assert.Equal(t, "bad", tp.Title)
				assert.Equal(t, "invariant violated", tp.Value)
				// the sibling task ran to completion before the panic surfaced
				finished.Wait()
			}()
			runner.Apply(context.Background(), tasks)
			t.Fatal("expected panic")
		})
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	outcomes map[string]Outcome
}

func (o *recordingObserver) StartTask(ctx context.Context, kind, title string) (context.Context, func(Outcome)) {
	o.mu.Lock()
	o.started = append(o.started, kind+"/"+title)
	o.mu.Unlock()
	return ctx, func(outcome Outcome) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.outcomes[title] = outcome
	}
}

func TestRunnerObserver(t *testing.T) {
	obs := &recordingObserver{outcomes: map[string]Outcome{}}
	runner := &ProgressRunner[int]{Kind: "users", Out: &bytes.Buffer{}, Observer: obs}

	runner.Apply(context.Background(), mixedBatch())
	assert.ElementsMatch(t, []string{"users/a", "users/b", "users/c", "users/d"}, obs.started)
	assert.Equal(t, Failed, obs.outcomes["c"])
	assert.Equal(t, NoChange, obs.outcomes["b"])
}

func TestRenderTable(t *testing.T) {
	r := &running[int]{status: NewChannel("pl-dircopy", "searching"), done: make(chan struct{})}
	r.status.Append("line one\nline two")

	rendered := renderTable([]*running[int]{r}, []string{"*"}, 0)
	assert.Contains(t, rendered, "*  pl-dircopy  searching")
	assert.Contains(t, rendered, "line two")

	r.result = Result[int]{Outcome: Changed}
	close(r.done)
	rendered = renderTable([]*running[int]{r}, []string{"*"}, 0)
	assert.Contains(t, rendered, Changed.Icon())
}
