// Package clientlist implements the set of connected sessions, the inspector
// translation table (ITL) shared across them, and the generation counter
// used to decide when a failed session may finally be torn down.
//
// Go's goroutine-per-connection networking model has no direct analog of a
// poll-based session slot table: net.Listener.Accept already blocks a
// dedicated goroutine, and each session's reads happen on their own
// goroutine. What such a table actually protects — a consistent,
// point-in-time view of "every live session" for broadcast and cleanup — is
// reproduced here with a plain mutex-guarded map.
package clientlist

import (
	"sync"

	"github.com/BatchDrake/suscan-sub002/internal/session"
)

// ITLEntry is one inspector translation table slot: the owning client and the
// analyzer-private inspector id behind it.
type ITLEntry struct {
	Owner          *session.Session
	AnalyzerHandle uint32
}

// List owns every connected session and the shared inspector translation
// table.
type List struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	itl      map[uint32]ITLEntry
	nextSlot uint32
	epoch    uint64
}

// New returns an empty List at epoch 0.
func New() *List {
	return &List{
		sessions: make(map[string]*session.Session),
		itl:      make(map[uint32]ITLEntry),
	}
}

// Epoch returns the list's current generation counter.
func (l *List) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// AdvanceEpoch increments the generation counter, e.g. on analyzer restart.
// Every pre-restart session becomes eligible for removal once its inspector
// work drains, even if it never failed outright.
func (l *List) AdvanceEpoch() uint64 {
	l.mu.Lock()
	l.epoch++
	e := l.epoch
	l.mu.Unlock()
	return e
}

// Add registers a new session, stamping it with the list's current epoch.
func (l *List) Add(s *session.Session) {
	l.mu.Lock()
	s.Epoch = l.epoch
	l.sessions[s.ID] = s
	l.mu.Unlock()
}

// Remove drops a session from the list unconditionally. Callers should check
// CleanupEligible first unless the session is being force-destroyed (e.g.
// process shutdown).
func (l *List) Remove(id string) {
	l.mu.Lock()
	delete(l.sessions, id)
	l.mu.Unlock()
}

// Get returns the session for id, if still present.
func (l *List) Get(id string) (*session.Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	return s, ok
}

// Snapshot returns a point-in-time copy of every connected session, safe to
// range over without holding the list's lock.
func (l *List) Snapshot() []*session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*session.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// CleanupEligible reports whether a failed session may be removed: its epoch
// differs from the list's current epoch, or it has no outstanding inspectors.
func (l *List) CleanupEligible(s *session.Session) bool {
	if !s.Failed() {
		return false
	}
	return s.EligibleForDestruction(l.Epoch())
}

// Sweep removes every failed, cleanup-eligible session, closing each one.
// Returns the number of sessions removed.
func (l *List) Sweep() int {
	removed := 0
	for _, s := range l.Snapshot() {
		if l.CleanupEligible(s) {
			s.Close()
			l.FreeClientITLSlots(s)
			l.Remove(s.ID)
			removed++
		}
	}
	return removed
}

// AllocateITLSlot assigns the next translation table slot to owner, mapping
// it to the analyzer's own inspector handle.
func (l *List) AllocateITLSlot(owner *session.Session, analyzerHandle uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSlot++
	slot := l.nextSlot
	l.itl[slot] = ITLEntry{Owner: owner, AnalyzerHandle: analyzerHandle}
	return slot
}

// ResolveITLSlot looks up an ITL entry.
func (l *List) ResolveITLSlot(slot uint32) (ITLEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.itl[slot]
	return e, ok
}

// FreeITLSlot removes a translation table slot, e.g. on inspector close.
func (l *List) FreeITLSlot(slot uint32) {
	l.mu.Lock()
	delete(l.itl, slot)
	l.mu.Unlock()
}

// FreeClientITLSlots removes every ITL slot owned by s, used when a session is
// torn down with outstanding inspectors still registered.
func (l *List) FreeClientITLSlots(s *session.Session) {
	l.mu.Lock()
	for slot, e := range l.itl {
		if e.Owner == s {
			delete(l.itl, slot)
		}
	}
	l.mu.Unlock()
}

// ITLInvariantHolds checks, for one client, that the number of handle-map
// entries on the session equals the number of ITL slots it owns. Exposed for
// tests; production code does not need to call this on the hot path.
func (l *List) ITLInvariantHolds(s *session.Session) bool {
	l.mu.Lock()
	owned := 0
	for _, e := range l.itl {
		if e.Owner == s {
			owned++
		}
	}
	l.mu.Unlock()
	return s.HandleMapSize() == owned
}

// BroadcastFunc delivers a PDU to one client's TX worker. Returning a non-nil
// error invokes onError for that client.
type BroadcastFunc func(s *session.Session, payload []byte) error

// Broadcast hands payload to every session's TX worker, skipping sessions
// that both advertised multicast support and for which multicastEnabled is
// true, since those clients receive this traffic over the multicast group
// instead. onError is invoked, synchronously, for every per-client send
// failure; callers typically mark that client failed from inside the
// callback.
func (l *List) Broadcast(payload []byte, multicastEnabled bool, send BroadcastFunc, onError func(*session.Session, error)) {
	for _, s := range l.Snapshot() {
		if multicastEnabled && s.AcceptsMulticast {
			continue
		}
		if err := send(s, payload); err != nil && onError != nil {
			onError(s, err)
		}
	}
}

// Len reports the number of connected sessions.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
