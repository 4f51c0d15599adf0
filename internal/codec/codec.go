// Package codec implements the length-prefixed, magic-tagged PDU framing used
// on the client-server control channel, with optional zlib compression above
// a configurable threshold.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// DefaultChunkSize is the default read/write buffer size used when streaming a
// payload in contiguous chunks.
const DefaultChunkSize = 1400

// Codec encodes and decodes PDUs for one connection. A zero-value Codec has no
// compression threshold (CompressionThreshold == 0 means "never compress on
// send"; decode always accepts either magic regardless of threshold).
type Codec struct {
	CompressionThreshold int
	ChunkSize            int
}

// New returns a Codec with the given compression threshold. threshold <= 0 disables
// outbound compression.
func New(threshold int) *Codec {
	return &Codec{CompressionThreshold: threshold, ChunkSize: DefaultChunkSize}
}

// Encode frames payload as a PDU, compressing it first if its size exceeds
// CompressionThreshold.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if c.CompressionThreshold > 0 && len(payload) > c.CompressionThreshold {
		return encodeCompressed(payload)
	}
	return encodePlain(payload), nil
}

func encodePlain(payload []byte) []byte {
	buf := make([]byte, wire.HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], wire.MagicPlain)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	return buf
}

func encodeCompressed(payload []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	body := make([]byte, 4+compressed.Len())
	binary.BigEndian.PutUint32(body[0:4], uint32(len(payload)))
	copy(body[4:], compressed.Bytes())

	buf := make([]byte, wire.HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], wire.MagicCompressed)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:], body)
	return buf, nil
}

// WriteTo writes an already-framed PDU to w in chunks of at most ChunkSize
// bytes, rather than in one large write.
func (c *Codec) WriteTo(w io.Writer, framed []byte) error {
	chunk := c.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	for off := 0; off < len(framed); off += chunk {
		end := off + chunk
		if end > len(framed) {
			end = len(framed)
		}
		if _, err := w.Write(framed[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadPDU reads and decodes exactly one PDU from r, inflating it if compressed.
// It fails with wire.ErrMalformedPDU on magic mismatch, truncated stream, or a
// post-inflation size mismatch.
func ReadPDU(r io.Reader) ([]byte, error) {
	var header [wire.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header: %w", wire.ErrMalformedPDU, err)
		}
		return nil, err
	}

	magic := binary.BigEndian.Uint32(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated payload: %w", wire.ErrMalformedPDU, err)
			}
			return nil, err
		}
	}

	switch magic {
	case wire.MagicPlain:
		return body, nil
	case wire.MagicCompressed:
		return inflate(body)
	default:
		return nil, fmt.Errorf("%w: bad magic %#x", wire.ErrMalformedPDU, magic)
	}
}

func inflate(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: compressed pdu too short", wire.ErrMalformedPDU)
	}
	inflatedLen := binary.BigEndian.Uint32(body[0:4])

	zr, err := zlib.NewReader(bytes.NewReader(body[4:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrMalformedPDU, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrMalformedPDU, err)
	}
	if uint32(len(out)) != inflatedLen {
		return nil, fmt.Errorf("%w: inflated size %d != announced %d", wire.ErrMalformedPDU, len(out), inflatedLen)
	}
	return out, nil
}
