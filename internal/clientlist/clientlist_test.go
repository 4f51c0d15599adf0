package clientlist

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/session"
)

func newTestSession(t *testing.T, epoch uint64) *session.Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	s := session.New(server, codec.New(0), nil, epoch)
	s.TX.Run()
	return s
}

// TestInspectorLifecycleInvariant runs an inspector open, a scoped call, and
// a close end to end, checking the handle/ITL invariant after every step.
func TestInspectorLifecycleInvariant(t *testing.T) {
	l := New()
	s := newTestSession(t, l.Epoch())
	l.Add(s)

	require.True(t, l.ITLInvariantHolds(s))

	slot := l.AllocateITLSlot(s, 42) // S1, analyzer-global handle 42
	h1, err := s.AllocateHandle(42, slot)
	require.NoError(t, err)
	require.True(t, l.ITLInvariantHolds(s))

	entry, ok := s.ResolveHandle(h1)
	require.True(t, ok)
	itlEntry, ok := l.ResolveITLSlot(entry.ITLSlot)
	require.True(t, ok)
	require.Equal(t, uint32(42), itlEntry.AnalyzerHandle)

	s.ReleaseHandle(h1)
	l.FreeITLSlot(slot)
	require.True(t, l.ITLInvariantHolds(s))
	require.Equal(t, 0, s.HandleMapSize())
}

func TestCleanupEligibleRequiresFailedAndEmptyOrStale(t *testing.T) {
	l := New()
	s := newTestSession(t, l.Epoch())
	l.Add(s)

	require.False(t, l.CleanupEligible(s), "not failed yet")

	slot := l.AllocateITLSlot(s, 1)
	_, err := s.AllocateHandle(1, slot)
	require.NoError(t, err)
	s.MarkFailed()

	require.False(t, l.CleanupEligible(s), "failed but still has outstanding inspectors on current epoch")

	l.AdvanceEpoch()
	require.True(t, l.CleanupEligible(s), "stale epoch makes it eligible even with outstanding inspectors")
}

func TestSweepRemovesEligibleSessionsOnly(t *testing.T) {
	l := New()
	live := newTestSession(t, l.Epoch())
	failed := newTestSession(t, l.Epoch())
	l.Add(live)
	l.Add(failed)
	failed.MarkFailed()

	removed := l.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, l.Len())
	_, ok := l.Get(failed.ID)
	require.False(t, ok)
	_, ok = l.Get(live.ID)
	require.True(t, ok)
}

func TestBroadcastSkipsMulticastCapableClientsWhenEnabled(t *testing.T) {
	l := New()
	mcastClient := newTestSession(t, l.Epoch())
	mcastClient.AcceptsMulticast = true
	plainClient := newTestSession(t, l.Epoch())
	l.Add(mcastClient)
	l.Add(plainClient)

	var sentTo []*session.Session
	l.Broadcast([]byte("psd"), true, func(s *session.Session, payload []byte) error {
		sentTo = append(sentTo, s)
		return nil
	}, nil)

	require.Len(t, sentTo, 1)
	require.Equal(t, plainClient.ID, sentTo[0].ID)
}

func TestBroadcastInvokesOnErrorForFailedSends(t *testing.T) {
	l := New()
	s := newTestSession(t, l.Epoch())
	l.Add(s)

	boom := errors.New("boom")
	var failed *session.Session
	l.Broadcast([]byte("x"), false, func(s *session.Session, payload []byte) error {
		return boom
	}, func(s *session.Session, err error) {
		failed = s
		s.MarkFailed()
	})

	require.Equal(t, s.ID, failed.ID)
	require.True(t, s.Failed())
}
