package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubTargetsAndBroadcasts(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")
	require.Equal(t, 2, hub.Subscribers())

	require.Equal(t, 1, hub.Publish(Notice{ID: "1", To: "alice", Message: "hi"}))
	require.Equal(t, 2, hub.Publish(Notice{ID: "2", Message: "all"}))

	require.Equal(t, "1", (<-alice).ID)
	require.Equal(t, "2", (<-alice).ID)
	require.Equal(t, "2", (<-bob).ID)
	require.Empty(t, bob)
}

func TestHubDropsForFullQueues(t *testing.T) {
	hub := NewHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "carol")
	require.Equal(t, 1, hub.Publish(Notice{ID: "1"}))
	require.Equal(t, 0, hub.Publish(Notice{ID: "2"}))
	require.Equal(t, "1", (<-ch).ID)
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "dave")
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
	require.Zero(t, hub.Subscribers())
	require.Zero(t, hub.Publish(Notice{ID: "late"}))
}
