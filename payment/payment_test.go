package payment

import (
	"testing"

	"github.com/plm/crossbridge/apperr"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition_HappyPath(t *testing.T) {
	steps := []struct{ from, to Status }{
		{StatusInitiated, StatusConfirmed},
		{StatusConfirmed, StatusOnrampPending},
		{StatusOnrampPending, StatusOnrampCompleted},
		{StatusOnrampCompleted, StatusOfframpPending},
		{StatusOfframpPending, StatusOfframpCompleted},
		{StatusOfframpCompleted, StatusCompleted},
	}
	for _, s := range steps {
		require.NoError(t, CheckTransition(s.from, s.to), "%s -> %s", s.from, s.to)
	}
}

func TestCheckTransition_FailurePaths(t *testing.T) {
	require.NoError(t, CheckTransition(StatusOnrampPending, StatusOnrampFailed))
	require.NoError(t, CheckTransition(StatusOnrampFailed, StatusFailed))
	require.NoError(t, CheckTransition(StatusOfframpPending, StatusOfframpFailed))
	require.NoError(t, CheckTransition(StatusOfframpFailed, StatusFailed))
}

func TestCheckTransition_RejectsSkippedStages(t *testing.T) {
	err := CheckTransition(StatusInitiated, StatusOnrampPending)
	require.Error(t, err)
	require.Equal(t, apperr.InvalidStateTransition, apperr.KindOf(err))
}

func TestCheckTransition_RejectsFromTerminal(t *testing.T) {
	require.Error(t, CheckTransition(StatusCompleted, StatusOnrampPending))
	require.Error(t, CheckTransition(StatusFailed, StatusCompleted))
}

func TestCheckTransition_RejectsReverse(t *testing.T) {
	require.Error(t, CheckTransition(StatusConfirmed, StatusInitiated))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.False(t, StatusOnrampPending.IsTerminal())
}

func TestEventType(t *testing.T) {
	require.Equal(t, "payment.initiated", StatusInitiated.EventType())
	require.Equal(t, "onramp.completed", StatusOnrampCompleted.EventType())
	require.Equal(t, "payment.completed", StatusCompleted.EventType())
	require.Equal(t, "payment.unknown", StatusQuoted.EventType())
}
