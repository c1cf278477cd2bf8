package agenda

import (
	"fmt"
	"strings"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// Summary counts the outcomes of every task of one agenda run.
type Summary struct {
	RunID  string                 `json:"run_id"`
	Counts map[engine.Outcome]int `json:"summary"`
}

func newSummary(runID string) *Summary {
	counts := make(map[engine.Outcome]int, len(engine.Outcomes))
	for _, o := range engine.Outcomes {
		counts[o] = 0
	}
	return &Summary{RunID: runID, Counts: counts}
}

func add[R any](s *Summary, results []engine.Result[R]) {
	for _, r := range results {
		s.Counts[r.Outcome]++
	}
}

// Failed returns the number of failed tasks.
func (s *Summary) Failed() int { return s.Counts[engine.Failed] }

// Changed returns the number of tasks which changed something.
func (s *Summary) Changed() int { return s.Counts[engine.Changed] }

// NoChange returns the number of tasks which found nothing to do.
func (s *Summary) NoChange() int { return s.Counts[engine.NoChange] }

// Total returns the number of tasks.
func (s *Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// ExitCode is 1 if any task failed.
func (s *Summary) ExitCode() int {
	if s.Failed() > 0 {
		return 1
	}
	return 0
}

func (s *Summary) String() string {
	parts := make([]string, 0, len(engine.Outcomes))
	for _, o := range engine.Outcomes {
		parts = append(parts, fmt.Sprintf("%s: %d", o, s.Counts[o]))
	}
	return strings.Join(parts, ", ")
}
