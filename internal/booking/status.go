package booking

import (
	"errors"
	"fmt"
)

var ErrAlreadyInState = errors.New("appointment already in requested state")

// InvalidTransitionError names both sides of a rejected transition so the
// caller can report exactly what was attempted.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// legalTransitions is the authoritative transition table. CANCELLED is
// reachable from every non-terminal state and is handled separately below.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusDeclined},
	StatusApproved:  {StatusConfirmed},
	StatusConfirmed: {StatusCompleted},
}

// CheckTransition validates from -> to against the transition table. A
// repeated request for the current state yields ErrAlreadyInState, except
// CANCELLED which callers treat as an idempotent no-op.
func CheckTransition(from, to Status) error {
	if from == to {
		if to == StatusCancelled {
			return nil
		}
		return ErrAlreadyInState
	}

	if to == StatusCancelled {
		if from.Terminal() {
			return &InvalidTransitionError{From: from, To: to}
		}
		return nil
	}

	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}
