package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func TestPlainPDURoundTrip(t *testing.T) {
	c := New(0) // threshold 0: never compress
	payload := []byte("hello analyzer")

	framed, err := c.Encode(payload)
	require.NoError(t, err)
	require.Equal(t, wire.MagicPlain, binary.BigEndian.Uint32(framed[0:4]))
	require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(framed[4:8]))

	decoded, err := ReadPDU(bytes.NewReader(framed))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestCompressedPDURoundTrip(t *testing.T) {
	c := New(1400)
	payload := make([]byte, 2048)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	// Make it compressible: mostly a repeated pattern with a little noise.
	for i := 64; i < len(payload); i++ {
		payload[i] = payload[i%64]
	}

	framed, err := c.Encode(payload)
	require.NoError(t, err)
	require.Equal(t, wire.MagicCompressed, binary.BigEndian.Uint32(framed[0:4]))

	body := framed[wire.HeaderSize:]
	require.Equal(t, uint32(2048), binary.BigEndian.Uint32(body[0:4]))

	decoded, err := ReadPDU(bytes.NewReader(framed))
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestBelowThresholdStaysPlain(t *testing.T) {
	c := New(1400)
	payload := make([]byte, 100)
	framed, err := c.Encode(payload)
	require.NoError(t, err)
	require.Equal(t, wire.MagicPlain, binary.BigEndian.Uint32(framed[0:4]))
}

func TestReadPDUBadMagic(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], 0xDEADBEEF)
	_, err := ReadPDU(bytes.NewReader(buf))
	require.ErrorIs(t, err, wire.ErrMalformedPDU)
}

func TestReadPDUTruncated(t *testing.T) {
	buf := make([]byte, 4)
	_, err := ReadPDU(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestPartialReaderFeedsInChunks(t *testing.T) {
	c := New(0)
	payload := []byte("a superframe sized payload that arrives in dribs and drabs")
	framed, err := c.Encode(payload)
	require.NoError(t, err)

	var pr PartialReader
	var got []byte
	for i := 0; i < len(framed); i++ {
		out, done, consumed, err := pr.Feed(framed[i : i+1])
		require.NoError(t, err)
		require.Equal(t, 1, consumed)
		if done {
			got = out
		}
	}
	require.Equal(t, payload, got)
}

func TestPartialReaderRejectsBadMagic(t *testing.T) {
	var pr PartialReader
	buf := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], 0x11111111)
	_, _, _, err := pr.Feed(buf)
	require.ErrorIs(t, err, wire.ErrMalformedPDU)
}
