package mcast

import (
	"log"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// encapSub reassembles an opaque serialized RemoteCall from its fragments
// using a per-byte presence bitmap, converging on the most complete payload
// possible under arbitrary overlap, reordering, and duplication.
type encapSub struct {
	onCall OnCallFunc

	sfID      uint8
	haveID    bool
	delivered bool
	data      []byte
	bitmap    []uint64 // one bit per byte, ceil(size/64) words
	remaining int
	size      uint32
}

func newEncapSub(onCall OnCallFunc) *encapSub {
	return &encapSub{onCall: onCall}
}

func (e *encapSub) onFragment(h wire.FragmentHeader, payload []byte) {
	fresh := !e.haveID
	if !fresh {
		if delta := int8(h.SFID - e.sfID); delta < 0 {
			// Stale fragment for an id we've already moved past; drop.
			return
		} else if delta > 0 || h.SFSize != e.size {
			fresh = true
		}
	}

	if fresh {
		e.sfID = h.SFID
		e.haveID = true
		e.clear()

		if h.SFSize > wire.MaxSuperframeSize {
			log.Printf("mcast: encap superframe too big (%d bytes), ignored", h.SFSize)
			return
		}

		e.size = h.SFSize
		e.remaining = int(h.SFSize)
		if h.SFSize > 0 {
			e.data = make([]byte, h.SFSize)
			e.bitmap = make([]uint64, (h.SFSize+63)/64)
		}
	}

	if uint32(h.SFOffset)+uint32(len(payload)) > e.size {
		log.Printf("mcast: encap fragment overflow attempt (offset=%d size=%d full=%d)", h.SFOffset, len(payload), e.size)
		return
	}

	if e.size == 0 {
		return
	}

	e.copyIn(payload, int(h.SFOffset))

	if e.remaining == 0 && !e.delivered {
		if call, ok := e.tryFlush(); ok {
			e.delivered = true
			e.onCall(call)
		}
	}
}

func (e *encapSub) copyIn(data []byte, offset int) {
	for i, b := range data {
		p := offset + i
		block := p >> 6
		bit := uint(p & 0x3f)
		mask := uint64(1) << bit
		if e.bitmap[block]&mask == 0 {
			e.data[p] = b
			e.bitmap[block] |= mask
			e.remaining--
		}
	}
}

func (e *encapSub) clear() {
	e.data = nil
	e.bitmap = nil
	e.size = 0
	e.remaining = 0
	e.delivered = false
}

// tryFlush only succeeds once per superframe, right when it completes: an
// incomplete superframe abandoned by a jump in id never fires a call. The
// delivered guard keeps a superframe that already fired inline from firing a
// second time.
func (e *encapSub) tryFlush() (*wire.RemoteCall, bool) {
	if !e.haveID || e.remaining != 0 || e.delivered {
		return nil, false
	}
	call, err := wire.Decode(e.data)
	if err != nil {
		log.Printf("mcast: failed to deserialize reassembled encap call: %v", err)
		return nil, false
	}
	return call, true
}
