package rpcsession_test

import (
	"testing"
	"time"

	"github.com/ccfnode/pbftadapter/consensus"
	"github.com/ccfnode/pbftadapter/rpcsession"
	"github.com/stretchr/testify/require"
)

func TestReplyAsyncRoutesToOwningSession(t *testing.T) {
	m := rpcsession.NewSessionManager()
	s := m.NewSession()

	rid := consensus.RequestID{Sequence: 1, SessionID: s.ID}
	m.ReplyAsync(rid, 0, []byte("ok"))

	select {
	case reply := <-s.Replies():
		require.Equal(t, rid, reply.RequestID)
		require.Equal(t, []byte("ok"), reply.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestReplyAsyncDropsUnknownSession(t *testing.T) {
	m := rpcsession.NewSessionManager()
	// No session registered for id 999; this must not panic or block.
	m.ReplyAsync(consensus.RequestID{Sequence: 1, SessionID: 999}, 0, []byte("ok"))
}

func TestSessionManagerCloseUnregisters(t *testing.T) {
	m := rpcsession.NewSessionManager()
	s := m.NewSession()
	m.Close(s.ID)

	// The reply should now be dropped rather than delivered.
	m.ReplyAsync(consensus.RequestID{Sequence: 1, SessionID: s.ID}, 0, []byte("late"))

	select {
	case <-s.Replies():
		t.Fatal("did not expect a reply after session close")
	case <-time.After(50 * time.Millisecond):
	}
}
