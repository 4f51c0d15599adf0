package mcast

import (
	"encoding/binary"
	"log"
	"math"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// psd superframe layout on the wire (before the opaque encap path was added for
// generic calls, the original kept PSD frames in their own lightweight format to
// avoid paying the tagged-union codec's overhead on the hottest path): a 24-byte
// header of sample rate, center frequency and timestamp, followed by the bin
// array as big-endian float32s. The header is carried only on the fragment at
// offset 0; later fragments (bins) carry none of it.
const psdHeaderSize = 24

// psdSub reassembles PSD (power spectral density) superframes. Unlike encap,
// PSD is lossy by design: fragments that never arrive simply leave the
// corresponding bins at their last known value (or zero), and a flush can
// fire with a partial update.
type psdSub struct {
	onCall OnCallFunc

	sfID    uint8
	haveID  bool
	size    uint32
	updates int

	header wire.PSDFrame // SampleRate/CenterFrequency/TimestampSec only
	bins   []float32
}

func newPSDSub(onCall OnCallFunc) *psdSub {
	return &psdSub{onCall: onCall}
}

func (p *psdSub) onFragment(h wire.FragmentHeader, payload []byte) {
	if h.SFSize != p.size {
		// The cached frame belongs to a superframe size we'll never see again;
		// flush whatever we have before resizing. A flush is also triggered by
		// the outer processor's scheduling hook, independent of size changes.
		if call, ok := p.tryFlush(); ok {
			p.onCall(call)
		}
		p.size = h.SFSize
		var numBins uint32
		if h.SFSize > psdHeaderSize {
			numBins = (h.SFSize - psdHeaderSize) / 4
		}
		p.bins = make([]float32, numBins)
		p.updates = 0
	}

	p.sfID = h.SFID
	p.haveID = true

	if h.SFOffset == 0 {
		if len(payload) < psdHeaderSize {
			log.Printf("mcast: psd fragment at offset 0 too short for header (%d bytes)", len(payload))
			return
		}
		p.header.SampleRate = math.Float64frombits(binary.BigEndian.Uint64(payload[0:8]))
		p.header.CenterFrequency = binary.BigEndian.Uint64(payload[8:16])
		p.header.TimestampSec = int64(binary.BigEndian.Uint64(payload[16:24]))
		p.copyBins(payload[psdHeaderSize:], 0)
	} else {
		p.copyBins(payload, int(h.SFOffset)-psdHeaderSize)
	}

	p.updates++
}

func (p *psdSub) copyBins(data []byte, byteOffset int) {
	if byteOffset < 0 {
		return
	}
	start := byteOffset / 4
	for i := 0; i+4 <= len(data); i += 4 {
		idx := start + i/4
		if idx < 0 || idx >= len(p.bins) {
			continue
		}
		bits := binary.BigEndian.Uint32(data[i : i+4])
		p.bins[idx] = math.Float32frombits(bits)
	}
}

// tryFlush succeeds whenever at least one fragment has been folded in since the
// last successful flush, regardless of completeness — PSD frames are a
// best-effort snapshot of the spectrum, not a reliable-delivery payload.
func (p *psdSub) tryFlush() (*wire.RemoteCall, bool) {
	if !p.haveID || p.updates == 0 {
		return nil, false
	}

	bins := make([]float32, len(p.bins))
	copy(bins, p.bins)

	call := &wire.RemoteCall{
		Type: wire.CallMessage,
		Msg: wire.AnalyzerMessage{
			Type: wire.MsgPSD,
			PSD: wire.PSDFrame{
				SampleRate:      p.header.SampleRate,
				CenterFrequency: p.header.CenterFrequency,
				TimestampSec:    p.header.TimestampSec,
				Bins:            bins,
			},
		},
	}
	p.updates = 0
	return call, true
}
