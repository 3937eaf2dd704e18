package booking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionTable(t *testing.T) {
	all := []Status{
		StatusPending, StatusApproved, StatusConfirmed,
		StatusCompleted, StatusDeclined, StatusCancelled,
	}

	allowed := map[Status]map[Status]bool{
		StatusPending:   {StatusApproved: true, StatusDeclined: true, StatusCancelled: true},
		StatusApproved:  {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusCompleted: true, StatusCancelled: true},
		StatusCompleted: {},
		StatusDeclined:  {},
		StatusCancelled: {StatusCancelled: true}, // idempotent repeat
	}

	for _, from := range all {
		for _, to := range all {
			err := CheckTransition(from, to)

			if from == to && to != StatusCancelled {
				assert.ErrorIs(t, err, ErrAlreadyInState,
					"%s -> %s should be already-in-state", from, to)
				continue
			}

			if allowed[from][to] {
				assert.NoError(t, err, "%s -> %s should be legal", from, to)
			} else {
				var invalid *InvalidTransitionError
				require.Error(t, err, "%s -> %s should be rejected", from, to)
				require.True(t, errors.As(err, &invalid), "%s -> %s should be an invalid transition", from, to)
				assert.Equal(t, from, invalid.From)
				assert.Equal(t, to, invalid.To)
			}
		}
	}
}

func TestCancelledFromTerminalRejected(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusDeclined} {
		err := CheckTransition(from, StatusCancelled)
		var invalid *InvalidTransitionError
		require.True(t, errors.As(err, &invalid))
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusApproved.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusDeclined.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatusOccupiesSlot(t *testing.T) {
	assert.True(t, StatusPending.OccupiesSlot())
	assert.True(t, StatusApproved.OccupiesSlot())
	assert.True(t, StatusConfirmed.OccupiesSlot())
	assert.True(t, StatusCompleted.OccupiesSlot())
	assert.False(t, StatusDeclined.OccupiesSlot())
	assert.False(t, StatusCancelled.OccupiesSlot())
}
