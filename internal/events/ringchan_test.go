package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/events"
)

func TestRingChannelSendDropsOldest(t *testing.T) {
	rc := events.NewRingChannel[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the last three survive.
	require.Equal(t, 3, rc.Len())
	for want := 3; want <= 5; want++ {
		got, ok := rc.TryReceive()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := rc.TryReceive()
	require.False(t, ok)
}

func TestRingChannelTrySend(t *testing.T) {
	rc := events.NewRingChannel[string](1)

	require.True(t, rc.TrySend("a"))
	require.False(t, rc.TrySend("b"))

	got, ok := rc.TryReceive()
	require.True(t, ok)
	require.Equal(t, "a", got)
}

func TestRingChannelSendReportsDrop(t *testing.T) {
	rc := events.NewRingChannel[int](1)

	require.False(t, rc.Send(1))
	require.True(t, rc.Send(2))
}

func TestRingChannelClose(t *testing.T) {
	rc := events.NewRingChannel[int](2)
	rc.Send(7)
	rc.Close()

	got, ok := <-rc.C()
	require.True(t, ok)
	require.Equal(t, 7, got)

	_, ok = <-rc.C()
	require.False(t, ok)
}

func TestRingChannelPanicsOnZeroCapacity(t *testing.T) {
	require.Panics(t, func() { events.NewRingChannel[int](0) })
}
