package mcast

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func psdFragmentPayload(t *testing.T, sampleRate, centerFreq float64, ts int64, bins []float32) []byte {
	t.Helper()
	buf := make([]byte, psdHeaderSize+4*len(bins))
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(sampleRate))
	binary.BigEndian.PutUint64(buf[8:16], uint64(centerFreq))
	binary.BigEndian.PutUint64(buf[16:24], uint64(ts))
	for i, b := range bins {
		binary.BigEndian.PutUint32(buf[psdHeaderSize+4*i:psdHeaderSize+4*i+4], math.Float32bits(b))
	}
	return buf
}

func TestPSDSingleFragmentFlush(t *testing.T) {
	var calls []*wire.RemoteCall
	p := NewProcessor(func(c *wire.RemoteCall) { calls = append(calls, c) })

	bins := []float32{-90, -80, -70, -60}
	payload := psdFragmentPayload(t, 2_400_000, 14_200_000, 1700000000, bins)

	h := wire.FragmentHeader{SFType: wire.SFPSD, SFID: 0, SFSize: uint32(len(payload)), SFOffset: 0, Size: uint16(len(payload))}
	require.NoError(t, p.Process(encodeFragment(h, payload)))

	// Nothing is emitted until something explicitly asks for a flush: psd never
	// self-triggers on completion the way encap does, only on a size change or
	// the outer scheduling hook.
	require.Empty(t, calls)

	p.TriggerOnCall()
	require.Len(t, calls, 1)
	require.Equal(t, wire.MsgPSD, calls[0].Msg.Type)
	require.Equal(t, bins, calls[0].Msg.PSD.Bins)
	require.Equal(t, uint64(14_200_000), calls[0].Msg.PSD.CenterFrequency)
}

// TestPSDEmissionsBoundedByDistinctIDs checks that the number of emitted PSD
// messages is bounded above by the number of distinct sf_id values observed.
func TestPSDEmissionsBoundedByDistinctIDs(t *testing.T) {
	var calls []*wire.RemoteCall
	p := NewProcessor(func(c *wire.RemoteCall) { calls = append(calls, c) })

	bins := []float32{1, 2, 3}
	payload := psdFragmentPayload(t, 1, 2, 3, bins)

	ids := []uint8{0, 1, 2}
	for _, id := range ids {
		h := wire.FragmentHeader{SFType: wire.SFPSD, SFID: id, SFSize: uint32(len(payload)), SFOffset: 0, Size: uint16(len(payload))}
		require.NoError(t, p.Process(encodeFragment(h, payload)))
		p.TriggerOnCall()
	}
	// Extra triggers with no new data must not emit further messages.
	p.TriggerOnCall()
	p.TriggerOnCall()

	require.LessOrEqual(t, len(calls), len(ids))
}

func TestPSDSizeChangeFlushesPendingFrame(t *testing.T) {
	var calls []*wire.RemoteCall
	p := NewProcessor(func(c *wire.RemoteCall) { calls = append(calls, c) })

	small := psdFragmentPayload(t, 1, 2, 3, []float32{1, 2})
	h1 := wire.FragmentHeader{SFType: wire.SFPSD, SFID: 0, SFSize: uint32(len(small)), SFOffset: 0, Size: uint16(len(small))}
	require.NoError(t, p.Process(encodeFragment(h1, small)))
	require.Empty(t, calls)

	big := psdFragmentPayload(t, 4, 5, 6, []float32{1, 2, 3, 4})
	h2 := wire.FragmentHeader{SFType: wire.SFPSD, SFID: 1, SFSize: uint32(len(big)), SFOffset: 0, Size: uint16(len(big))}
	require.NoError(t, p.Process(encodeFragment(h2, big)))

	require.Len(t, calls, 1, "a full-size change must flush the pending frame first")
	require.Len(t, calls[0].Msg.PSD.Bins, 2)
}

func TestPSDFragmentShorterThanHeaderDropped(t *testing.T) {
	var calls []*wire.RemoteCall
	p := NewProcessor(func(c *wire.RemoteCall) { calls = append(calls, c) })

	h := wire.FragmentHeader{SFType: wire.SFPSD, SFID: 0, SFSize: 10, SFOffset: 0, Size: 4}
	require.NoError(t, p.Process(encodeFragment(h, []byte{1, 2, 3, 4})))
	p.TriggerOnCall()
	require.Empty(t, calls)
}
