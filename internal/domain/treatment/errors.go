package treatment

import "fmt"

// InvalidTransitionError reports a rejected lifecycle change. The
// workflow state is left untouched; the caller must not apply the
// change it attempted.
type InvalidTransitionError struct {
	Current   Status
	Attempted Status
	Invariant string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q: %s", e.Current, e.Attempted, e.Invariant)
}

func invalidTransition(current, attempted Status, invariant string) error {
	return &InvalidTransitionError{Current: current, Attempted: attempted, Invariant: invariant}
}
