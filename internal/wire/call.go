// Package wire defines the on-the-wire remote call tagged union exchanged between
// the server supervisor and the remote analyzer runtime, along with the PDU and
// multicast fragment headers described by the protocol.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CallType tags the variant carried by a RemoteCall.
type CallType uint32

const (
	CallNone CallType = iota
	CallAuthInfo
	CallSourceInfo
	CallSetFrequency
	CallSetGain
	CallSetAntenna
	CallSetBandwidth
	CallSetPPM
	CallSetDCRemove
	CallSetIQReverse
	CallSetAGC
	CallForceEOS
	CallSetSweepStrategy
	CallSetSpectrumPartitioning
	CallSetHopRange
	CallSetBufferingSize
	CallMessage
	CallRequestHalt
	CallAuthRejected
	CallStartupError
)

// AnalyzerMessageType tags the payload of an embedded analyzer message (CallMessage).
type AnalyzerMessageType uint32

const (
	MsgNone AnalyzerMessageType = iota
	MsgPSD
	MsgInspectorOpen
	MsgInspectorOpenResponse
	MsgInspectorSetID
	MsgInspectorClose
	MsgInspectorInvalidChannel
	MsgInspectorWrongHandle
	MsgSourceInfo
	MsgHalt
)

// AnalyzerMessage is the embedded message payload carried by CallMessage. Type,
// ReqID, Handle and InspectorID are serialized for every message type; PSD is
// serialized only for MsgPSD and is the zero value otherwise.
type AnalyzerMessage struct {
	Type           AnalyzerMessageType
	ReqID          uint32 // routing correlation id; the server sets a per-session number on InspectorOpen
	Handle         uint32 // private/global inspector handle, rewritten in transit
	InspectorID    uint32 // analyzer-assigned numeric id (SetID)
	PSD            PSDFrame
}

// PSDFrame is the payload of an MsgPSD analyzer message.
type PSDFrame struct {
	SampleRate          float64
	MeasuredSampleRate  float64
	CenterFrequency     uint64
	TimestampSec        int64
	TimestampUsec       int32
	RTTimestampSec      int64
	RTTimestampUsec     int32
	Looped              bool
	Bins                []float32
}

// RemoteCall is the tagged union of every operation exchanged on the wire.
// Only the fields relevant to Type carry meaning; callers must not read
// fields belonging to a different variant.
type RemoteCall struct {
	Type CallType

	// AuthInfo / client-auth handshake.
	ClientName  string
	User        string
	Token       [32]byte // sha256(user \0 password \0 salt)
	AuthFlags   uint32

	// SourceInfo snapshot (string-encoded to keep the codec generic; analyzer-owned).
	SourceInfoJSON string

	// Tuning / parameter calls.
	Freq  float64
	LNB   float64

	GainName  string
	GainValue float64

	Antenna string

	Bandwidth int32

	PPM float64

	DCRemove  bool
	IQReverse bool
	AGC       bool

	ForceEOS bool

	SweepStrategy uint32

	SpectrumPartitioning uint32

	HopMin uint64
	HopMax uint64

	BufferSize uint32

	Msg AnalyzerMessage

	RequestHalt bool

	AuthRejectedReason string
	StartupErrorReason string
}

// Encode serializes c into a new byte slice using a bespoke binary object
// format: a leading call_type tag followed by a fixed field order specific
// to that tag, matching the hand-rolled binary framing convention used
// throughout this protocol's status and control packets rather than a
// generic marshaller.
func Encode(c *RemoteCall) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, c.Type); err != nil {
		return nil, err
	}

	switch c.Type {
	case CallNone:
		// no payload
	case CallAuthInfo:
		writeString(buf, c.ClientName)
		writeString(buf, c.User)
		buf.Write(c.Token[:])
		binary.Write(buf, binary.BigEndian, c.AuthFlags)
	case CallSourceInfo:
		writeString(buf, c.SourceInfoJSON)
	case CallSetFrequency:
		binary.Write(buf, binary.BigEndian, c.Freq)
		binary.Write(buf, binary.BigEndian, c.LNB)
	case CallSetGain:
		writeString(buf, c.GainName)
		binary.Write(buf, binary.BigEndian, c.GainValue)
	case CallSetAntenna:
		writeString(buf, c.Antenna)
	case CallSetBandwidth:
		binary.Write(buf, binary.BigEndian, c.Bandwidth)
	case CallSetPPM:
		binary.Write(buf, binary.BigEndian, c.PPM)
	case CallSetDCRemove:
		writeBool(buf, c.DCRemove)
	case CallSetIQReverse:
		writeBool(buf, c.IQReverse)
	case CallSetAGC:
		writeBool(buf, c.AGC)
	case CallForceEOS:
		writeBool(buf, c.ForceEOS)
	case CallSetSweepStrategy:
		binary.Write(buf, binary.BigEndian, c.SweepStrategy)
	case CallSetSpectrumPartitioning:
		binary.Write(buf, binary.BigEndian, c.SpectrumPartitioning)
	case CallSetHopRange:
		binary.Write(buf, binary.BigEndian, c.HopMin)
		binary.Write(buf, binary.BigEndian, c.HopMax)
	case CallSetBufferingSize:
		binary.Write(buf, binary.BigEndian, c.BufferSize)
	case CallMessage:
		if err := encodeMessage(buf, &c.Msg); err != nil {
			return nil, err
		}
	case CallRequestHalt:
		writeBool(buf, c.RequestHalt)
	case CallAuthRejected:
		writeString(buf, c.AuthRejectedReason)
	case CallStartupError:
		writeString(buf, c.StartupErrorReason)
	default:
		return nil, fmt.Errorf("wire: unknown call type %d", c.Type)
	}

	return buf.Bytes(), nil
}

// Decode parses a RemoteCall from exactly the bytes Encode would have
// produced. A zero-length payload decodes to the default CallNone call.
func Decode(data []byte) (*RemoteCall, error) {
	if len(data) == 0 {
		return &RemoteCall{Type: CallNone}, nil
	}

	r := bytes.NewReader(data)
	c := &RemoteCall{}
	if err := binary.Read(r, binary.BigEndian, &c.Type); err != nil {
		return nil, fmt.Errorf("wire: short call header: %w", err)
	}

	var err error
	switch c.Type {
	case CallNone:
	case CallAuthInfo:
		if c.ClientName, err = readString(r); err != nil {
			return nil, err
		}
		if c.User, err = readString(r); err != nil {
			return nil, err
		}
		if _, err = io.ReadFull(r, c.Token[:]); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.BigEndian, &c.AuthFlags); err != nil {
			return nil, err
		}
	case CallSourceInfo:
		if c.SourceInfoJSON, err = readString(r); err != nil {
			return nil, err
		}
	case CallSetFrequency:
		if err = binary.Read(r, binary.BigEndian, &c.Freq); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.BigEndian, &c.LNB); err != nil {
			return nil, err
		}
	case CallSetGain:
		if c.GainName, err = readString(r); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.BigEndian, &c.GainValue); err != nil {
			return nil, err
		}
	case CallSetAntenna:
		if c.Antenna, err = readString(r); err != nil {
			return nil, err
		}
	case CallSetBandwidth:
		if err = binary.Read(r, binary.BigEndian, &c.Bandwidth); err != nil {
			return nil, err
		}
	case CallSetPPM:
		if err = binary.Read(r, binary.BigEndian, &c.PPM); err != nil {
			return nil, err
		}
	case CallSetDCRemove:
		if c.DCRemove, err = readBool(r); err != nil {
			return nil, err
		}
	case CallSetIQReverse:
		if c.IQReverse, err = readBool(r); err != nil {
			return nil, err
		}
	case CallSetAGC:
		if c.AGC, err = readBool(r); err != nil {
			return nil, err
		}
	case CallForceEOS:
		if c.ForceEOS, err = readBool(r); err != nil {
			return nil, err
		}
	case CallSetSweepStrategy:
		if err = binary.Read(r, binary.BigEndian, &c.SweepStrategy); err != nil {
			return nil, err
		}
	case CallSetSpectrumPartitioning:
		if err = binary.Read(r, binary.BigEndian, &c.SpectrumPartitioning); err != nil {
			return nil, err
		}
	case CallSetHopRange:
		if err = binary.Read(r, binary.BigEndian, &c.HopMin); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.BigEndian, &c.HopMax); err != nil {
			return nil, err
		}
	case CallSetBufferingSize:
		if err = binary.Read(r, binary.BigEndian, &c.BufferSize); err != nil {
			return nil, err
		}
	case CallMessage:
		if c.Msg, err = decodeMessage(r); err != nil {
			return nil, err
		}
	case CallRequestHalt:
		if c.RequestHalt, err = readBool(r); err != nil {
			return nil, err
		}
	case CallAuthRejected:
		if c.AuthRejectedReason, err = readString(r); err != nil {
			return nil, err
		}
	case CallStartupError:
		if c.StartupErrorReason, err = readString(r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown call type %d", c.Type)
	}

	return c, nil
}

func encodeMessage(buf *bytes.Buffer, m *AnalyzerMessage) error {
	binary.Write(buf, binary.BigEndian, m.Type)
	binary.Write(buf, binary.BigEndian, m.ReqID)
	binary.Write(buf, binary.BigEndian, m.Handle)
	binary.Write(buf, binary.BigEndian, m.InspectorID)

	if m.Type == MsgPSD {
		p := &m.PSD
		binary.Write(buf, binary.BigEndian, p.SampleRate)
		binary.Write(buf, binary.BigEndian, p.MeasuredSampleRate)
		binary.Write(buf, binary.BigEndian, p.CenterFrequency)
		binary.Write(buf, binary.BigEndian, p.TimestampSec)
		binary.Write(buf, binary.BigEndian, p.TimestampUsec)
		binary.Write(buf, binary.BigEndian, p.RTTimestampSec)
		binary.Write(buf, binary.BigEndian, p.RTTimestampUsec)
		writeBool(buf, p.Looped)
		binary.Write(buf, binary.BigEndian, uint32(len(p.Bins)))
		binary.Write(buf, binary.BigEndian, p.Bins)
	}
	return nil
}

func decodeMessage(r *bytes.Reader) (AnalyzerMessage, error) {
	var m AnalyzerMessage
	if err := binary.Read(r, binary.BigEndian, &m.Type); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.BigEndian, &m.ReqID); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.BigEndian, &m.Handle); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.BigEndian, &m.InspectorID); err != nil {
		return m, err
	}

	if m.Type == MsgPSD {
		p := &m.PSD
		for _, dst := range []interface{}{
			&p.SampleRate, &p.MeasuredSampleRate, &p.CenterFrequency,
			&p.TimestampSec, &p.TimestampUsec, &p.RTTimestampSec, &p.RTTimestampUsec,
		} {
			if err := binary.Read(r, binary.BigEndian, dst); err != nil {
				return m, err
			}
		}
		var err error
		if p.Looped, err = readBool(r); err != nil {
			return m, err
		}
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return m, err
		}
		p.Bins = make([]float32, n)
		if err := binary.Read(r, binary.BigEndian, p.Bins); err != nil {
			return m, err
		}
	}
	return m, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	var v byte
	if b {
		v = 1
	}
	buf.WriteByte(v)
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
