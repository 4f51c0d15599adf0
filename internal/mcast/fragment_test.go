package mcast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func TestFragmentEncodeDecodeRoundTrip(t *testing.T) {
	h := wire.FragmentHeader{SFType: wire.SFEncap, SFID: 7, SFSize: 300, SFOffset: 100, Size: 50}
	payload := []byte("01234567890123456789012345678901234567890123456789")

	datagram := encodeFragment(h, payload)
	gotHeader, gotPayload, err := decodeFragment(datagram)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)
	require.Equal(t, payload, gotPayload)
}

func TestDecodeFragmentShortDatagram(t *testing.T) {
	_, _, err := decodeFragment(make([]byte, 4))
	require.Error(t, err)
}

func TestDecodeFragmentSizeOverflow(t *testing.T) {
	h := wire.FragmentHeader{SFType: wire.SFEncap, SFID: 1, SFSize: 10, SFOffset: 0, Size: 20}
	datagram := encodeFragment(h, make([]byte, 5))
	_, _, err := decodeFragment(datagram)
	require.Error(t, err)
}
