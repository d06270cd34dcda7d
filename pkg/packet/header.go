package packet

import (
	"encoding/binary"
)

// Header is the 12-byte ZRTP packet header (RFC 6189 Section 5).
//
// Wire format:
//
//	|0|0|0|1|Not Used (set to zero)|    Sequence Number            |
//	|                 Magic Cookie 'ZRTP' (0x5a525450)              |
//	|                        Source Identifier                      |
type Header struct {
	// SequenceNumber is incremented for every packet sent on a channel,
	// including retransmissions.
	SequenceNumber uint16

	// SSRC identifies the media stream the channel is bound to.
	SSRC uint32
}

// Encode serializes the header into a new byte slice.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderLength)
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into buf, which must hold HeaderLength bytes.
func (h *Header) EncodeTo(buf []byte) {
	buf[0] = 0x10
	buf[1] = 0x00
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], MagicCookie)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
}

// Decode parses a packet header. The leading nibble must be 0x1 and the
// magic cookie must match.
func (h *Header) Decode(data []byte) error {
	if len(data) < HeaderLength {
		return ErrInvalidPacket
	}
	if data[0]>>4 != 0x1 {
		return ErrInvalidPacket
	}
	if binary.BigEndian.Uint32(data[4:8]) != MagicCookie {
		return ErrInvalidPacket
	}
	h.SequenceNumber = binary.BigEndian.Uint16(data[2:4])
	h.SSRC = binary.BigEndian.Uint32(data[8:12])
	return nil
}

// IsZRTP reports whether data starts with a ZRTP packet header, telling
// ZRTP packets apart from RTP and RTCP sharing the same transport
// (RFC 6189 Section 5).
func IsZRTP(data []byte) bool {
	var h Header
	return h.Decode(data) == nil
}

// MessageHeader is the 12-byte header opening every ZRTP message.
//
//	|0 1 0 1 0 0 0 0 0 1 0 1 1 0 1 0|             length            |
//	|            Message Type Block (2 words)                       |
type MessageHeader struct {
	// Length is the message length in 32-bit words, header included.
	Length uint16

	// Type is the message kind named by the type block.
	Type MessageType
}

// EncodeTo serializes the message header into buf.
func (m *MessageHeader) EncodeTo(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], MessagePreamble)
	binary.BigEndian.PutUint16(buf[2:4], m.Length)
	copy(buf[4:12], typeBlocks[m.Type])
}

// Decode parses a message header. An unknown preamble or type block is
// reported as ErrInvalidMessage.
func (m *MessageHeader) Decode(data []byte) error {
	if len(data) < MessageHeaderLength {
		return ErrInvalidMessage
	}
	if binary.BigEndian.Uint16(data[0:2]) != MessagePreamble {
		return ErrInvalidMessage
	}
	t, ok := typeFromBlock(data[4:12])
	if !ok {
		return ErrInvalidMessage
	}
	m.Length = binary.BigEndian.Uint16(data[2:4])
	m.Type = t
	return nil
}
