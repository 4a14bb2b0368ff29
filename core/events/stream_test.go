package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"daopresale/core/types"
)

func purchased(sequence string) payloadEvent {
	return payloadEvent{evt: &types.Event{Type: "presale.purchased", Attributes: map[string]string{"sequence": sequence}}}
}

func TestBroadcasterReplaysAfterCursor(t *testing.T) {
	b := NewBroadcaster(0)
	b.Emit(purchased("1"))
	b.Emit(purchased("2"))
	b.Emit(purchased("3"))

	_, cancel, backlog := b.Subscribe(context.Background(), "1")
	defer cancel()
	require.Len(t, backlog, 2)
	require.Equal(t, "2", backlog[0].Cursor)
	require.Equal(t, "2", backlog[0].Attributes["sequence"])
	require.Equal(t, "3", backlog[1].Cursor)

	_, cancelAll, all := b.Subscribe(context.Background(), "garbage")
	defer cancelAll()
	require.Len(t, all, 3)
}

func TestBroadcasterTrimsHistory(t *testing.T) {
	b := NewBroadcaster(2)
	for _, seq := range []string{"1", "2", "3"} {
		b.Emit(purchased(seq))
	}
	_, cancel, backlog := b.Subscribe(context.Background(), "")
	defer cancel()
	require.Len(t, backlog, 2)
	require.Equal(t, "2", backlog[0].Cursor)
}

func TestBroadcasterDeliversLiveUpdates(t *testing.T) {
	b := NewBroadcaster(0)
	ctx, stop := context.WithCancel(context.Background())
	updates, _, backlog := b.Subscribe(ctx, "")
	require.Empty(t, backlog)
	require.Equal(t, 1, b.Subscribers())

	evt := purchased("7")
	b.Emit(evt)
	evt.evt.Attributes["sequence"] = "mutated"
	select {
	case update := <-updates:
		require.Equal(t, "presale.purchased", update.Type)
		require.Equal(t, "7", update.Attributes["sequence"])
		require.Equal(t, "1", update.Cursor)
	case <-time.After(time.Second):
		t.Fatalf("no live update delivered")
	}

	stop()
	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-updates
	require.False(t, open)
}

func TestBroadcasterSkipsSlowSubscribers(t *testing.T) {
	b := NewBroadcaster(0)
	updates, cancel, _ := b.Subscribe(context.Background(), "")
	defer cancel()
	for i := 0; i < streamBuffer*2; i++ {
		b.Emit(purchased("x"))
	}
	require.Len(t, updates, streamBuffer)
}

func TestBroadcasterCloseEndsSubscriptions(t *testing.T) {
	b := NewBroadcaster(0)
	updates, cancel, _ := b.Subscribe(context.Background(), "")
	b.Close()
	_, open := <-updates
	require.False(t, open)
	cancel()
	b.Close()

	late, _, backlog := b.Subscribe(context.Background(), "")
	require.Empty(t, backlog)
	_, open = <-late
	require.False(t, open)
	b.Emit(purchased("1"))
}
