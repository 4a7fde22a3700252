package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestBindAndIdentityOf(t *testing.T) {
	r := newTestRegistry()
	s := New("s1", "inst-1")
	r.Track(s)

	_, ok := r.IdentityOf("s1")
	require.False(t, ok, "a freshly-tracked session has no identity yet")

	r.Bind("s1", "alice")
	identity, ok := r.IdentityOf("s1")
	require.True(t, ok)
	require.Equal(t, "alice", identity)
}

func TestLocalSessionsForExcludesGivenID(t *testing.T) {
	r := newTestRegistry()
	s1, s2 := New("s1", "inst-1"), New("s2", "inst-1")
	r.Track(s1)
	r.Track(s2)
	r.Bind("s1", "alice")
	r.Bind("s2", "alice")

	peers := r.LocalSessionsFor("alice", "s1")
	require.Len(t, peers, 1)
	require.Equal(t, "s2", peers[0].ID)
}

func TestUnbindRemovesFromIndex(t *testing.T) {
	r := newTestRegistry()
	s := New("s1", "inst-1")
	r.Track(s)
	r.Bind("s1", "alice")

	r.Unbind("s1")

	require.False(t, r.HasLocalSession("alice"))
	_, ok := r.Get("s1")
	require.False(t, ok)
}

func TestRebindMovesSessionBetweenIdentities(t *testing.T) {
	r := newTestRegistry()
	s := New("s1", "inst-1")
	r.Track(s)
	r.Bind("s1", "alice")
	r.Bind("s1", "bob")

	require.False(t, r.HasLocalSession("alice"), "rebinding must remove the session from its prior identity")
	require.True(t, r.HasLocalSession("bob"))
}

func TestQueueOutDropsOnFullBuffer(t *testing.T) {
	s := New("s1", "inst-1")
	s.Send = make(chan interface{}) // unbuffered, nobody draining

	require.False(t, s.QueueOut("msg"), "an unbuffered, undrained channel must time out rather than block")
}

func TestQueueOutOnNilSessionIsNoop(t *testing.T) {
	var s *Session
	require.True(t, s.QueueOut("msg"), "a nil session (no peer to deliver to) must be treated as a harmless no-op")
}
