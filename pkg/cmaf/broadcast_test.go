package cmaf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcaster_SubscribeReplaysBacklogAndInit(t *testing.T) {
	b := NewBroadcaster(0)
	b.UpdateInit(Init{Bytes: []byte("init"), Codec: "avc1.640028"})
	b.SendFragment([]byte("frag1"))
	b.SendFragment([]byte("frag2"))

	sub := b.Subscribe()
	require.Equal(t, "avc1.640028", b.CurrentInit().Codec)
	require.Equal(t, []byte("frag1"), <-sub.Fragments)
	require.Equal(t, []byte("frag2"), <-sub.Fragments)
}

func TestBroadcaster_SendFragmentDeliversToLiveSubscribers(t *testing.T) {
	b := NewBroadcaster(0)
	sub := b.Subscribe()
	b.SendFragment([]byte("live"))
	require.Equal(t, []byte("live"), <-sub.Fragments)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(0)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	_, ok := <-sub.Fragments
	require.False(t, ok)
}

func TestBroadcaster_BacklogBoundedToCapacity(t *testing.T) {
	b := NewBroadcaster(0)
	for i := 0; i < defaultBacklogCapacity+10; i++ {
		b.SendFragment([]byte{byte(i)})
	}
	require.Len(t, b.backlog, defaultBacklogCapacity)
	require.Equal(t, byte(10), b.backlog[0][0])
}
