package mcast

import (
	"encoding/binary"
	"fmt"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// encodeFragment packs a fragment header and payload into one UDP datagram.
func encodeFragment(h wire.FragmentHeader, payload []byte) []byte {
	buf := make([]byte, wire.FragmentHeaderSize+len(payload))
	buf[0] = byte(h.SFType)
	buf[1] = h.SFID
	buf[2] = 0
	buf[3] = 0
	binary.BigEndian.PutUint32(buf[4:8], h.SFSize)
	binary.BigEndian.PutUint32(buf[8:12], h.SFOffset)
	binary.BigEndian.PutUint16(buf[12:14], h.Size)
	copy(buf[wire.FragmentHeaderSize:], payload)
	return buf
}

// decodeFragment parses a fragment header plus trailing payload from a datagram.
func decodeFragment(datagram []byte) (wire.FragmentHeader, []byte, error) {
	if len(datagram) < wire.FragmentHeaderSize {
		return wire.FragmentHeader{}, nil, fmt.Errorf("mcast: datagram shorter than fragment header (%d bytes)", len(datagram))
	}
	h := wire.FragmentHeader{
		SFType:   wire.SuperframeType(datagram[0]),
		SFID:     datagram[1],
		SFSize:   binary.BigEndian.Uint32(datagram[4:8]),
		SFOffset: binary.BigEndian.Uint32(datagram[8:12]),
		Size:     binary.BigEndian.Uint16(datagram[12:14]),
	}
	payload := datagram[wire.FragmentHeaderSize:]
	if int(h.Size) > len(payload) {
		return h, nil, fmt.Errorf("mcast: fragment declares %d bytes, datagram has %d", h.Size, len(payload))
	}
	return h, payload[:h.Size], nil
}
