package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// ServerHello is the first message the server sends a newly accepted
// connection.
type ServerHello struct {
	ServerName          string
	ProtocolMajor       uint8
	ProtocolMinor       uint8
	AuthMode            uint8
	EncType             uint8
	Salt                [32]byte
	Flags               uint32
	MulticastAddr       uint32 // network byte order IPv4, valid iff Flags&HelloFlagMulticastAvailable
	MulticastPort       uint16
}

// ClientAuth is the client's response to ServerHello.
type ClientAuth struct {
	ClientName    string
	ProtocolMajor uint8
	ProtocolMinor uint8
	User          string
	Token         [32]byte
	Flags         uint32
}

// ComputeToken returns sha256(user || 0 || password || 0 || salt), the
// expected client auth token.
func ComputeToken(user, password string, salt [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write([]byte{0})
	h.Write(salt[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncodeServerHello serializes a ServerHello.
func EncodeServerHello(h *ServerHello) []byte {
	buf := new(bytes.Buffer)
	writeString(buf, h.ServerName)
	buf.WriteByte(h.ProtocolMajor)
	buf.WriteByte(h.ProtocolMinor)
	buf.WriteByte(h.AuthMode)
	buf.WriteByte(h.EncType)
	buf.Write(h.Salt[:])
	binary.Write(buf, binary.BigEndian, h.Flags)
	if h.Flags&HelloFlagMulticastAvailable != 0 {
		binary.Write(buf, binary.BigEndian, h.MulticastAddr)
		binary.Write(buf, binary.BigEndian, h.MulticastPort)
	}
	return buf.Bytes()
}

// DecodeServerHello parses a ServerHello.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	r := bytes.NewReader(data)
	h := &ServerHello{}
	var err error
	if h.ServerName, err = readString(r); err != nil {
		return nil, err
	}
	if h.ProtocolMajor, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.ProtocolMinor, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.AuthMode, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.EncType, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if _, err = readFull(r, h.Salt[:]); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &h.Flags); err != nil {
		return nil, err
	}
	if h.Flags&HelloFlagMulticastAvailable != 0 {
		if err = binary.Read(r, binary.BigEndian, &h.MulticastAddr); err != nil {
			return nil, err
		}
		if err = binary.Read(r, binary.BigEndian, &h.MulticastPort); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// EncodeClientAuth serializes a ClientAuth.
func EncodeClientAuth(a *ClientAuth) []byte {
	buf := new(bytes.Buffer)
	writeString(buf, a.ClientName)
	buf.WriteByte(a.ProtocolMajor)
	buf.WriteByte(a.ProtocolMinor)
	writeString(buf, a.User)
	buf.Write(a.Token[:])
	binary.Write(buf, binary.BigEndian, a.Flags)
	return buf.Bytes()
}

// DecodeClientAuth parses a ClientAuth.
func DecodeClientAuth(data []byte) (*ClientAuth, error) {
	r := bytes.NewReader(data)
	a := &ClientAuth{}
	var err error
	if a.ClientName, err = readString(r); err != nil {
		return nil, err
	}
	if a.ProtocolMajor, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if a.ProtocolMinor, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if a.User, err = readString(r); err != nil {
		return nil, err
	}
	if _, err = readFull(r, a.Token[:]); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &a.Flags); err != nil {
		return nil, err
	}
	return a, nil
}

// CheckProtocolVersion validates a peer's advertised protocol version against
// ours using go-version, requiring an exact match on major.minor while the
// protocol remains pre-1.0.
func CheckProtocolVersion(peerMajor, peerMinor uint8) error {
	ours, err := goversion.NewVersion(fmt.Sprintf("%d.%d.0", ProtocolVersionMajor, ProtocolVersionMinor))
	if err != nil {
		return err
	}
	theirs, err := goversion.NewVersion(fmt.Sprintf("%d.%d.0", peerMajor, peerMinor))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolVersion, err)
	}
	if ours.Segments()[0] != theirs.Segments()[0] || ours.Segments()[1] != theirs.Segments()[1] {
		return fmt.Errorf("%w: local %s, peer %s", ErrProtocolVersion, ours, theirs)
	}
	return nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
