package booking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusRequested, StatusBroadcasted},
		{StatusRequested, StatusAccepted},
		{StatusBroadcasted, StatusAccepted},
		{StatusAccepted, StatusOnTheWay},
		{StatusOnTheWay, StatusReached},
		{StatusReached, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusRequested, StatusCancelled},
		{StatusBroadcasted, StatusCancelled},
		{StatusAccepted, StatusCancelled},
	}
	for _, e := range allowed {
		require.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	denied := [][2]Status{
		{StatusAccepted, StatusCompleted},
		{StatusOnTheWay, StatusCancelled},
		{StatusInProgress, StatusCancelled},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusRequested},
		{StatusBroadcasted, StatusRequested},
		{StatusReached, StatusOnTheWay},
	}
	for _, e := range denied {
		require.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
}

func TestTerminal(t *testing.T) {
	require.True(t, Terminal(StatusCompleted))
	require.True(t, Terminal(StatusCancelled))
	require.False(t, Terminal(StatusAccepted))
}

func TestPredecessorMatchesTransitions(t *testing.T) {
	for _, s := range []Status{StatusOnTheWay, StatusReached, StatusInProgress, StatusCompleted} {
		prev, ok := Predecessor(s)
		require.True(t, ok)
		require.True(t, CanTransition(prev, s))
	}

	_, ok := Predecessor(StatusAccepted)
	require.False(t, ok)
}
