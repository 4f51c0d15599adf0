package wire

import "errors"

// The closed set of protocol-level error kinds. Plain I/O failures are
// represented by ordinary net/os errors rather than a sentinel here: sites
// that can fail with an I/O error return the underlying error either as-is or
// wrapped with fmt.Errorf("%w", err).
var (
	ErrMalformedPDU         = errors.New("wire: malformed pdu")
	ErrProtocolVersion      = errors.New("wire: protocol version mismatch")
	ErrAuthRejected         = errors.New("wire: authentication rejected")
	ErrStartupError         = errors.New("wire: analyzer startup failed")
	ErrCancelled            = errors.New("wire: operation cancelled")
	ErrTimedout             = errors.New("wire: operation timed out")
	ErrUnknownSuperframe    = errors.New("wire: unknown superframe type")
	ErrResourceExhausted    = errors.New("wire: resource exhausted")
)
