package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := New(server, codec.New(0), nil, 1)
	s.TX.Run()
	return s, client
}

// TestAuthChallengeScenario checks that a token computed from a different
// password than the expected sha256(user \0 password \0 salt) is rejected and
// leaves the session failed; acceptance of the matching token is covered by
// TestAuthChallengeAccepted.
func TestAuthChallengeScenario(t *testing.T) {
	s, _ := newTestSession(t)

	hello, err := s.BeginAuth()
	require.NoError(t, err)
	require.Equal(t, StateAwaitingAuth, s.State())

	expected := wire.ComputeToken("u", "p", hello.Salt)

	wrong := &wire.ClientAuth{User: "u", Token: wire.ComputeToken("u", "wrong", hello.Salt)}
	err = s.Authenticate(wrong, expected)
	require.ErrorIs(t, err, wire.ErrAuthRejected)
	require.Equal(t, StateFailed, s.State())
}

func TestAuthChallengeAccepted(t *testing.T) {
	s, _ := newTestSession(t)

	hello, err := s.BeginAuth()
	require.NoError(t, err)

	expected := wire.ComputeToken("u", "p", hello.Salt)
	auth := &wire.ClientAuth{User: "u", Token: expected, Flags: wire.AuthFlagMulticastOptIn}

	require.NoError(t, s.Authenticate(auth, expected))
	require.Equal(t, StateAuthenticated, s.State())
	require.True(t, s.AcceptsMulticast)
}

func TestAuthenticateOutsideAwaitingAuthFails(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Authenticate(&wire.ClientAuth{}, [32]byte{})
	require.ErrorIs(t, err, ErrAlreadyAuthenticating)
}

// TestInspectorHandleLifecycle checks that an allocated handle resolves to its
// global handle and ITL slot, and that releasing it empties the handle map.
func TestInspectorHandleLifecycle(t *testing.T) {
	s, _ := newTestSession(t)

	h1, err := s.AllocateHandle(100, 1)
	require.NoError(t, err)
	require.Equal(t, 1, s.HandleMapSize())

	entry, ok := s.ResolveHandle(h1)
	require.True(t, ok)
	require.Equal(t, uint32(100), entry.GlobalHandle)
	require.Equal(t, uint32(1), entry.ITLSlot)

	s.ReleaseHandle(h1)
	require.Equal(t, 0, s.HandleMapSize())

	_, ok = s.ResolveHandle(h1)
	require.False(t, ok)
}

func TestEligibleForDestruction(t *testing.T) {
	s, _ := newTestSession(t)
	require.True(t, s.EligibleForDestruction(s.Epoch), "empty handle map is always eligible")

	_, err := s.AllocateHandle(1, 1)
	require.NoError(t, err)
	require.False(t, s.EligibleForDestruction(s.Epoch), "non-empty map on current epoch is not eligible")
	require.True(t, s.EligibleForDestruction(s.Epoch+1), "stale epoch makes it eligible regardless of map contents")
}

func TestFeedInboundReassemblesAcrossPartialReads(t *testing.T) {
	s, _ := newTestSession(t)

	c := codec.New(0)
	framed, err := c.Encode([]byte("hello"))
	require.NoError(t, err)

	_, done, _, err := s.FeedInbound(framed[:4])
	require.NoError(t, err)
	require.False(t, done)

	payload, done, consumed, err := s.FeedInbound(framed[4:])
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, len(framed)-4, consumed)
	require.Equal(t, []byte("hello"), payload)
}

func TestMarkFailedDoesNotDowngradeClosed(t *testing.T) {
	s, _ := newTestSession(t)
	s.Close()
	s.MarkFailed()
	require.Equal(t, StateClosed, s.State())
}
