// Package packet implements the ZRTP wire format of RFC 6189 Section 5:
// the packet header, the CRC trailer and every message kind the engine
// exchanges.
//
// The package provides:
//   - Packet building with sequence numbers, message MACs and CRC
//   - Two stage parsing: header checks first, message decoding once the
//     negotiated algorithms and keys needed to read the message are known
//   - Confirm message encryption and MAC
//   - Hash chain and MAC verification helpers
package packet

// Wire format constants.
const (
	// HeaderLength is the size of the packet header: flags, sequence number,
	// magic cookie and SSRC.
	HeaderLength = 12

	// MessageHeaderLength is the size of the message header: preamble,
	// length in 32-bit words and 8-character type block.
	MessageHeaderLength = 12

	// CRCLength is the size of the CRC trailer.
	CRCLength = 4

	// Overhead is the per-packet overhead around a message.
	Overhead = HeaderLength + CRCLength

	// MinPacketLength is the smallest valid packet (an empty message).
	MinPacketLength = Overhead + MessageHeaderLength

	// MaxPacketLength is the largest packet this implementation accepts.
	MaxPacketLength = 3072

	// MagicCookie is the "ZRTP" cookie carried in every packet header.
	MagicCookie uint32 = 0x5a525450

	// MessagePreamble is the first 16-bit word of every message.
	MessagePreamble uint16 = 0x505a

	// MACLength is the truncated MAC length of Hello, Commit, DHPart and Confirm.
	MACLength = 8

	// HashImageLength is the size of the H0..H3 hash chain elements.
	HashImageLength = 32

	// ZIDLength is the size of a ZRTP identifier.
	ZIDLength = 12

	// SecretIDLength is the size of rs1ID, rs2ID, auxsecretID and pbxsecretID.
	SecretIDLength = 8

	// NonceLength is the size of the Commit nonce in Mult and Prsh modes.
	NonceLength = 16

	// KeyIDLength is the size of the Prsh key identifier.
	KeyIDLength = 8

	// HVILength is the size of the hash value of the initiator.
	HVILength = 32

	// EndpointHashLength is the size of the Ping endpoint hash.
	EndpointHashLength = 8

	// ClientIDLength is the size of the Hello client identifier.
	ClientIDLength = 16

	// maxAlgoCount is the largest per-family count accepted in a Hello.
	maxAlgoCount = 7
)

// Version is the only protocol version this implementation speaks.
var Version = [4]byte{'1', '.', '1', '0'}

// MessageType identifies a ZRTP message.
type MessageType uint8

// Message types.
const (
	TypeHello MessageType = iota + 1
	TypeHelloACK
	TypeCommit
	TypeDHPart1
	TypeDHPart2
	TypeConfirm1
	TypeConfirm2
	TypeConf2ACK
	TypeError
	TypeErrorACK
	TypeGoClear
	TypeClearACK
	TypeSASRelay
	TypeRelayACK
	TypePing
	TypePingACK
)

var typeBlocks = map[MessageType]string{
	TypeHello:    "Hello   ",
	TypeHelloACK: "HelloACK",
	TypeCommit:   "Commit  ",
	TypeDHPart1:  "DHPart1 ",
	TypeDHPart2:  "DHPart2 ",
	TypeConfirm1: "Confirm1",
	TypeConfirm2: "Confirm2",
	TypeConf2ACK: "Conf2ACK",
	TypeError:    "Error   ",
	TypeErrorACK: "ErrorACK",
	TypeGoClear:  "GoClear ",
	TypeClearACK: "ClearACK",
	TypeSASRelay: "SASrelay",
	TypeRelayACK: "RelayACK",
	TypePing:     "Ping    ",
	TypePingACK:  "PingACK ",
}

// String returns the message type name without padding.
func (t MessageType) String() string {
	if b, ok := typeBlocks[t]; ok {
		for i := len(b); i > 0; i-- {
			if b[i-1] != ' ' {
				return b[:i]
			}
		}
	}
	return "Unknown"
}

func typeFromBlock(block []byte) (MessageType, bool) {
	for t, b := range typeBlocks {
		if b == string(block) {
			return t, true
		}
	}
	return 0, false
}

// Category groups message types sharing a retransmission slot: a channel
// keeps the last sent and received packet of each category.
type Category int

// Categories.
const (
	CategoryHello Category = iota
	CategoryCommit
	CategoryDHPart
	CategoryConfirm

	// NumCategories is the number of retained packet slots.
	NumCategories
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryHello:
		return "Hello"
	case CategoryCommit:
		return "Commit"
	case CategoryDHPart:
		return "DHPart"
	case CategoryConfirm:
		return "Confirm"
	default:
		return "Unknown"
	}
}

// Category returns the retained packet slot of a message type. Types that
// are never retained return false.
func (t MessageType) Category() (Category, bool) {
	switch t {
	case TypeHello:
		return CategoryHello, true
	case TypeCommit:
		return CategoryCommit, true
	case TypeDHPart1, TypeDHPart2:
		return CategoryDHPart, true
	case TypeConfirm1, TypeConfirm2:
		return CategoryConfirm, true
	}
	return 0, false
}

// ErrorCode is the code carried by an Error message (RFC 6189 Section 5.9).
type ErrorCode uint32

// Error codes.
const (
	ErrorMalformedPacket        ErrorCode = 0x10
	ErrorCriticalSoftware       ErrorCode = 0x20
	ErrorUnsupportedVersion     ErrorCode = 0x30
	ErrorHelloMismatch          ErrorCode = 0x40
	ErrorUnsupportedHash        ErrorCode = 0x51
	ErrorUnsupportedCipher      ErrorCode = 0x52
	ErrorUnsupportedKeyExchange ErrorCode = 0x53
	ErrorUnsupportedAuthTag     ErrorCode = 0x54
	ErrorUnsupportedSAS         ErrorCode = 0x55
	ErrorNoSharedSecret         ErrorCode = 0x56
	ErrorBadPublicValue         ErrorCode = 0x61
	ErrorBadHVI                 ErrorCode = 0x62
	ErrorUntrustedMiTM          ErrorCode = 0x63
	ErrorBadConfirmMAC          ErrorCode = 0x70
	ErrorNonceReuse             ErrorCode = 0x80
	ErrorEqualZID               ErrorCode = 0x90
	ErrorSSRCCollision          ErrorCode = 0x91
	ErrorServiceUnavailable     ErrorCode = 0xa0
	ErrorProtocolTimeout        ErrorCode = 0xb0
	ErrorGoClearNotAllowed      ErrorCode = 0x100
)

// String returns a short description of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorMalformedPacket:
		return "Malformed packet"
	case ErrorCriticalSoftware:
		return "Critical software error"
	case ErrorUnsupportedVersion:
		return "Unsupported ZRTP version"
	case ErrorHelloMismatch:
		return "Hello components mismatch"
	case ErrorUnsupportedHash:
		return "Hash type not supported"
	case ErrorUnsupportedCipher:
		return "Cipher type not supported"
	case ErrorUnsupportedKeyExchange:
		return "Public key exchange not supported"
	case ErrorUnsupportedAuthTag:
		return "SRTP auth tag not supported"
	case ErrorUnsupportedSAS:
		return "SAS rendering scheme not supported"
	case ErrorNoSharedSecret:
		return "No shared secret available, DH mode required"
	case ErrorBadPublicValue:
		return "DH error: bad pvi or pvr"
	case ErrorBadHVI:
		return "DH error: hvi does not match hashed data"
	case ErrorUntrustedMiTM:
		return "Received relayed SAS from untrusted MiTM"
	case ErrorBadConfirmMAC:
		return "Auth error: bad Confirm MAC"
	case ErrorNonceReuse:
		return "Nonce reuse"
	case ErrorEqualZID:
		return "Equal ZIDs in Hello"
	case ErrorSSRCCollision:
		return "SSRC collision"
	case ErrorServiceUnavailable:
		return "Service unavailable"
	case ErrorProtocolTimeout:
		return "Protocol timeout error"
	case ErrorGoClearNotAllowed:
		return "GoClear message received but not allowed"
	default:
		return "Unknown"
	}
}
