package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// PartialReader incrementally assembles one PDU at a time from bytes fed to it
// as they arrive off a non-blocking socket: header bytes consumed so far, a
// have-header flag, and a growing payload buffer.
type PartialReader struct {
	header      [wire.HeaderSize]byte
	headerHave  int
	haveHeader  bool
	magic       uint32
	length      uint32
	payload     []byte
	payloadHave int
}

// Feed appends data to the in-progress PDU. It returns the decoded payload and true
// once a complete PDU has been assembled, resetting internal state for the next
// one; otherwise it returns (nil, false). Any unconsumed trailing bytes beyond one
// complete PDU are reported via consumed so the caller can re-feed the remainder.
func (p *PartialReader) Feed(data []byte) (payload []byte, done bool, consumed int, err error) {
	n := 0

	if !p.haveHeader {
		need := wire.HeaderSize - p.headerHave
		take := min(need, len(data)-n)
		copy(p.header[p.headerHave:], data[n:n+take])
		p.headerHave += take
		n += take

		if p.headerHave < wire.HeaderSize {
			return nil, false, n, nil
		}

		p.magic = binary.BigEndian.Uint32(p.header[0:4])
		p.length = binary.BigEndian.Uint32(p.header[4:8])
		if p.magic != wire.MagicPlain && p.magic != wire.MagicCompressed {
			return nil, false, n, fmt.Errorf("%w: bad magic %#x", wire.ErrMalformedPDU, p.magic)
		}
		p.payload = make([]byte, p.length)
		p.payloadHave = 0
		p.haveHeader = true
	}

	need := int(p.length) - p.payloadHave
	take := min(need, len(data)-n)
	if take > 0 {
		copy(p.payload[p.payloadHave:], data[n:n+take])
		p.payloadHave += take
		n += take
	}

	if p.payloadHave < int(p.length) {
		return nil, false, n, nil
	}

	body := p.payload
	magic := p.magic
	p.reset()

	if magic == wire.MagicPlain {
		return body, true, n, nil
	}
	out, err := inflate(body)
	if err != nil {
		return nil, false, n, err
	}
	return out, true, n, nil
}

func (p *PartialReader) reset() {
	p.headerHave = 0
	p.haveHeader = false
	p.payload = nil
	p.payloadHave = 0
}
