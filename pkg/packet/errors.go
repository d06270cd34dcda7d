package packet

import "errors"

// Packet layer errors.
var (
	// Header and framing errors
	ErrInvalidPacket  = errors.New("packet: invalid packet")
	ErrOutOfOrder     = errors.New("packet: sequence number out of order")
	ErrInvalidCRC     = errors.New("packet: invalid CRC")
	ErrInvalidMessage = errors.New("packet: invalid message")
	ErrInvalidLength  = errors.New("packet: invalid message length")

	// Message decoding errors
	ErrUnsupportedMessage   = errors.New("packet: unsupported message type")
	ErrMissingContext       = errors.New("packet: negotiated parameters needed to decode message are missing")
	ErrUnknownAlgorithm     = errors.New("packet: unknown algorithm")
	ErrUnmatchingConfirmMAC = errors.New("packet: confirm MAC mismatch")

	// Hash chain errors
	ErrUnmatchingHashChain = errors.New("packet: hash chain mismatch")
	ErrUnmatchingMAC       = errors.New("packet: message MAC mismatch")
)
