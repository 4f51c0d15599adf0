package mcast

import (
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// subProcessor is a stateful reassembler for one superframe type.
type subProcessor interface {
	// onFragment folds one fragment into the current buffer. Each sub-processor
	// keeps its own notion of the sf_id/size it is currently accumulating,
	// drops a fragment whose id has already been passed, and resets its buffer
	// internally the moment a fragment announces a newer id or a different
	// full size — the outer Processor never reaches into a sub-processor's
	// buffer or id/size bookkeeping, it only decides which sub-processor to
	// forward a fragment to. A sub-processor holds its own onCall callback and
	// may deliver inline, without waiting for the outer Processor, the moment
	// it notices its buffer is ready (encap: the last missing byte arrives;
	// psd: the full size changes mid-stream).
	onFragment(h wire.FragmentHeader, payload []byte)
	// tryFlush attempts to emit the currently buffered superframe as a RemoteCall.
	// encap only succeeds when complete; psd succeeds whenever at least one update
	// has arrived since the last flush.
	tryFlush() (*wire.RemoteCall, bool)
}

// OnCallFunc receives reassembled calls as they are produced.
type OnCallFunc func(*wire.RemoteCall)

// Processor dispatches incoming fragments to the stateful sub-processor for
// their superframe type. Each sub-processor owns its own sf_id/size rollover
// policy; the two types interleave freely on the wire and never affect each
// other's state.
type Processor struct {
	subs   map[wire.SuperframeType]subProcessor
	onCall OnCallFunc
}

// NewProcessor builds a Processor with the registered encap and psd
// sub-processors wired in. Announce datagrams are gracefully ignored.
func NewProcessor(onCall OnCallFunc) *Processor {
	return &Processor{
		subs: map[wire.SuperframeType]subProcessor{
			wire.SFEncap: newEncapSub(onCall),
			wire.SFPSD:   newPSDSub(onCall),
		},
		onCall: onCall,
	}
}

// Process handles one raw datagram: parses the fragment header and dispatches
// to the sub-processor for its superframe type, returning
// wire.ErrUnknownSuperframe for an unregistered type (silently dropped by the
// caller in production). Dispatch never touches any other type's state, so
// encap and psd fragments can interleave on the wire with no cross-talk.
func (p *Processor) Process(datagram []byte) error {
	h, payload, err := decodeFragment(datagram)
	if err != nil {
		return err
	}

	if h.SFType == wire.SFAnnounce {
		return nil
	}

	sub, ok := p.subs[h.SFType]
	if !ok {
		return wire.ErrUnknownSuperframe
	}

	sub.onFragment(h, payload)
	return nil
}

// TriggerOnCall asks the psd sub-processor to attempt a flush. Used by an
// external scheduling hook to drive psd's periodic emission cadence; encap
// never needs this, it delivers inline the moment its buffer completes.
func (p *Processor) TriggerOnCall() {
	sub, ok := p.subs[wire.SFPSD]
	if !ok {
		return
	}
	if call, ok := sub.tryFlush(); ok {
		p.onCall(call)
	}
}
