package mdo

import "fmt"

// Task selects what a configured problem executes.
type Task uint8

const (
	// RunDriver runs the full iterative optimization loop.
	RunDriver Task = iota
	// RunModel runs exactly one forward solve, no derivatives.
	RunModel
	// ComputeTotals runs one forward solve and one total-derivative
	// computation.
	ComputeTotals
	// CheckTotals runs one forward solve and verifies the adjoint totals
	// against finite differences.
	CheckTotals
)

var taskNames = map[Task]string{
	RunDriver:     "run_driver",
	RunModel:      "run_model",
	ComputeTotals: "compute_totals",
	CheckTotals:   "check_totals",
}

func (t Task) String() string {
	if s, ok := taskNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Task(%d)", t)
}

// ParseTask maps a command-line task token to its Task value.
func ParseTask(s string) (Task, error) {
	for t, name := range taskNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("task arg not found!")
}
