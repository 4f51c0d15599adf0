package wire

// PDU magic values.
const (
	MagicPlain      uint32 = 0xF5005CA9
	MagicCompressed uint32 = 0xF5005CAA

	// HeaderSize is the fixed 8-byte [magic:u32][length:u32] header.
	HeaderSize = 8
)

// Superframe types.
type SuperframeType uint8

const (
	SFAnnounce SuperframeType = iota
	SFEncap
	SFPSD
)

// FragmentHeaderSize is the fixed size of the per-datagram multicast fragment
// header: sf_type(1) + sf_id(1) + reserved(2) + sf_size(4) + sf_offset(4) +
// size(2) = 14 bytes, already accounted for in MaxFragmentPayload against the
// conservative datagram ceiling.
const FragmentHeaderSize = 14

// MaxDatagramSize is the conservative IPv4/UDP MTU ceiling.
const MaxDatagramSize = 508

// MaxFragmentPayload is the largest payload a single fragment may carry.
const MaxFragmentPayload = MaxDatagramSize - FragmentHeaderSize

// MaxSuperframeSize is the largest announced full-superframe size accepted;
// larger values are dropped with a warning.
const MaxSuperframeSize = 1 << 20

// FragmentHeader is the per-datagram multicast fragment header.
type FragmentHeader struct {
	SFType   SuperframeType
	SFID     uint8
	SFSize   uint32
	SFOffset uint32
	Size     uint16
}

// DefaultMulticastAddr and DefaultMulticastPort are the default multicast
// group used when none is configured.
const (
	DefaultMulticastAddr = "224.4.4.4"
	DefaultMulticastPort = 5556
)

// AuthMode and EncType tags for the server hello.
const (
	AuthModeUserPassword uint8 = 1
	EncTypeNone          uint8 = 0
)

// Server hello flag bits.
const (
	HelloFlagMulticastAvailable uint32 = 1 << 0
)

// Client auth flag bits.
const (
	AuthFlagMulticastOptIn uint32 = 1 << 0
)

// ProtocolVersionMajor and ProtocolVersionMinor are the single supported
// protocol version pair: 0 is experimental and must match exactly, including
// minor, until major reaches 1.
const (
	ProtocolVersionMajor uint8 = 0
	ProtocolVersionMinor uint8 = 1
)
