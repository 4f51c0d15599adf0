// Package session implements the per-client session state machine:
// authentication handshake, partial PDU reassembly, and the handle-map
// translation between a client-private cookie and the server's inspector
// translation table slot.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/txqueue"
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// State is one of the client session lifecycle states.
type State int

const (
	StateConnecting State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateFailed
	StateClosed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// HandleEntry is one entry of a session's handle map: the translation from a
// client-private random cookie to the analyzer-global handle and the owning
// translation-table slot.
type HandleEntry struct {
	GlobalHandle uint32
	ITLSlot      uint32
}

// Session is one connected, possibly-authenticated client.
type Session struct {
	ID   string
	Conn net.Conn

	mu    sync.Mutex
	state State

	AcceptsMulticast bool
	ConnectedAt      time.Time
	RemoteAddr       string
	Epoch            uint64

	Salt [32]byte
	User string

	reader codec.PartialReader

	TX *txqueue.Worker

	handleMu  sync.Mutex
	handleMap map[uint32]HandleEntry
}

// New constructs a Session in StateConnecting, wired to a TX worker writing to
// conn via c. The caller is responsible for calling tx.Run() separately so that
// construction never has a side effect beyond allocation.
func New(conn net.Conn, c *codec.Codec, onTXFail func(error), epoch uint64) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Conn:        conn,
		state:       StateConnecting,
		ConnectedAt: time.Now(),
		RemoteAddr:  conn.RemoteAddr().String(),
		Epoch:       epoch,
		handleMap:   make(map[uint32]HandleEntry),
	}
	s.TX = txqueue.New(conn, c, onTXFail)
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Failed reports whether the session has transitioned to StateFailed, which a
// client list uses to decide eligibility for removal.
func (s *Session) Failed() bool {
	return s.State() == StateFailed
}

// MarkFailed transitions the session to StateFailed. Safe to call from any
// goroutine, any number of times, on any error source: a read error, a
// protocol version mismatch, or a malformed PDU.
func (s *Session) MarkFailed() {
	s.mu.Lock()
	if s.state != StateClosed && s.state != StateDestroyed {
		s.state = StateFailed
	}
	s.mu.Unlock()
}

// BeginAuth generates a fresh random salt, stores the server-hello snapshot,
// and transitions to StateAwaitingAuth. The caller is responsible for
// encoding and sending the returned hello to the client.
func (s *Session) BeginAuth() (*wire.ServerHello, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("session: generating salt: %w", err)
	}
	s.Salt = salt

	s.setState(StateAwaitingAuth)

	return &wire.ServerHello{
		ProtocolMajor: wire.ProtocolVersionMajor,
		ProtocolMinor: wire.ProtocolVersionMinor,
		AuthMode:      wire.AuthModeUserPassword,
		EncType:       wire.EncTypeNone,
		Salt:          salt,
	}, nil
}

// ErrAlreadyAuthenticating is returned by Authenticate outside StateAwaitingAuth.
var ErrAlreadyAuthenticating = errors.New("session: not awaiting authentication")

// Authenticate checks auth.Token against expectedToken computed by the caller
// (server holds the credential store; session only compares tokens) and
// transitions to StateAuthenticated or StateFailed accordingly.
func (s *Session) Authenticate(auth *wire.ClientAuth, expectedToken [32]byte) error {
	if s.State() != StateAwaitingAuth {
		return ErrAlreadyAuthenticating
	}

	if auth.Token != expectedToken {
		s.setState(StateFailed)
		return wire.ErrAuthRejected
	}

	s.User = auth.User
	s.AcceptsMulticast = auth.Flags&wire.AuthFlagMulticastOptIn != 0
	s.setState(StateAuthenticated)
	return nil
}

// FeedInbound folds newly-read bytes into the partial PDU buffer, returning a
// decoded call payload (still wire-encoded; the caller runs wire.Decode) each
// time a complete PDU accumulates. consumed is the number of leading bytes of
// data that were used; any remainder must be fed again (a single read can
// span more than one PDU).
func (s *Session) FeedInbound(data []byte) (payload []byte, done bool, consumed int, err error) {
	return s.reader.Feed(data)
}

// AllocateHandle picks a fresh client-private random 32-bit handle, binds it
// to globalHandle/itlSlot, and returns it. Collisions against existing
// handles in this session are resolved by reprobing.
func (s *Session) AllocateHandle(globalHandle, itlSlot uint32) (uint32, error) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	var buf [4]byte
	for attempt := 0; attempt < 64; attempt++ {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("session: generating handle: %w", err)
		}
		h := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		if h == 0 {
			continue
		}
		if _, exists := s.handleMap[h]; exists {
			continue
		}
		s.handleMap[h] = HandleEntry{GlobalHandle: globalHandle, ITLSlot: itlSlot}
		return h, nil
	}
	return 0, errors.New("session: handle map probing exhausted")
}

// ResolveHandle looks up the global handle and ITL slot for a client-private
// handle.
func (s *Session) ResolveHandle(h uint32) (HandleEntry, bool) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	e, ok := s.handleMap[h]
	return e, ok
}

// ReleaseHandle removes a handle-map entry, e.g. once CloseInspector
// completes. The caller is responsible for also freeing the corresponding
// translation-table slot.
func (s *Session) ReleaseHandle(h uint32) {
	s.handleMu.Lock()
	delete(s.handleMap, h)
	s.handleMu.Unlock()
}

// DrainHandles removes and returns every entry currently in the handle map, in
// one atomic step. Used when a session is kicked: the caller emits a synthetic
// close for each returned entry, then the map is empty and EligibleForDestruction
// holds immediately.
func (s *Session) DrainHandles() []HandleEntry {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	entries := make([]HandleEntry, 0, len(s.handleMap))
	for _, e := range s.handleMap {
		entries = append(entries, e)
	}
	s.handleMap = make(map[uint32]HandleEntry)
	return entries
}

// HandleMapSize reports the number of live handle-map entries, used to decide
// destruction eligibility: a session must not be destroyed until this map is
// empty or its epoch has gone stale.
func (s *Session) HandleMapSize() int {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return len(s.handleMap)
}

// EligibleForDestruction reports whether this session may be torn down: either
// its handle map is empty, or its epoch no longer matches the client list's
// current generation.
func (s *Session) EligibleForDestruction(listEpoch uint64) bool {
	return s.HandleMapSize() == 0 || s.Epoch != listEpoch
}

// Close transitions to StateClosed, soft-stops the TX worker, and closes the
// socket. Safe to call once per session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.TX.SoftStop()
	_ = s.Conn.Close()
}
