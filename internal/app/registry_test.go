package app

import (
	"context"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{ closed bool }

func (c *nopConn) TrySend(core.Frame) error { return nil }
func (c *nopConn) Close()                   { c.closed = true }

func TestRegistryRebindCancelsOldConnection(t *testing.T) {
	r := NewRegistry()
	first, second := &nopConn{}, &nopConn{}
	ctx1, cancel1 := context.WithCancel(context.Background())
	r.Bind("p1", first, cancel1)
	require.True(t, r.SetConversation("p1", "c1"))

	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	r.Bind("p1", second, cancel2)
	assert.Error(t, ctx1.Err(), "the replaced connection is canceled")

	conn, ok := r.Conn("p1")
	require.True(t, ok)
	assert.Same(t, second, conn)
	cid, ok := r.ConversationOf("p1")
	require.True(t, ok)
	assert.Equal(t, "c1", string(cid))

	assert.False(t, r.Unbind("p1", first), "a stale connection can not unbind")
	assert.True(t, r.Unbind("p1", second))
	_, ok = r.Conn("p1")
	assert.False(t, ok)
}

func TestRegistryPeersOf(t *testing.T) {
	r := NewRegistry()
	for _, pid := range []string{"b", "a", "c"} {
		r.Bind(domain.PeerID(pid), &nopConn{}, nil)
	}
	r.SetConversation("a", "c1")
	r.SetConversation("b", "c1")
	r.SetConversation("c", "c2")

	snaps := r.PeersOf("c1")
	require.Len(t, snaps, 2)
	assert.Equal(t, domain.PeerID("a"), snaps[0].Pid)
	assert.Equal(t, domain.PeerID("b"), snaps[1].Pid)

	r.ClearConversation("a")
	assert.Len(t, r.PeersOf("c1"), 1)
	_, ok := r.ConversationOf("a")
	assert.False(t, ok)
	assert.False(t, r.SetConversation("zz", "c1"))
	assert.False(t, r.Cancel("zz"))
	assert.True(t, r.Cancel("a"), "a nil cancel func is fine")
}
