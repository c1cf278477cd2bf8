package engine

import "fmt"

// Outcome is the tri-state result of a reconciling operation.
type Outcome int

const (
	// NoChange indicates the live system already matched the desired state.
	NoChange Outcome = iota

	// Changed indicates the live system was modified to match the desired state.
	Changed

	// Failed indicates the desired state could not be reached.
	Failed
)

// Outcomes lists every outcome in aggregation order.
var Outcomes = []Outcome{NoChange, Changed, Failed}

// String returns the display name of the outcome.
func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no change"
	case Changed:
		return "changed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Label returns a metrics-friendly name of the outcome.
func (o Outcome) Label() string {
	switch o {
	case NoChange:
		return "no_change"
	case Changed:
		return "changed"
	default:
		return "failed"
	}
}

// Icon returns a short marker used by the live display.
func (o Outcome) Icon() string {
	switch o {
	case NoChange:
		return "-"
	case Changed:
		return "✔"
	default:
		return "✘"
	}
}

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case NoChange, Changed, Failed:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %d", int(o))
	}
}

// Combine merges two outcomes. Failed dominates Changed, which dominates NoChange.
func (o Outcome) Combine(other Outcome) Outcome {
	if other > o {
		return other
	}
	return o
}

// CombineAll folds outcomes with Combine, starting from NoChange.
func CombineAll(outcomes ...Outcome) Outcome {
	result := NoChange
	for _, o := range outcomes {
		result = result.Combine(o)
	}
	return result
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return []byte(o.Label()), nil
}
