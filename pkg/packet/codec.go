package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
)

// Packet is a framed ZRTP packet: header, message and CRC. The raw bytes
// are kept since retransmissions, hash chain checks and the total_hash all
// operate on the exact bytes that went over the wire.
type Packet struct {
	Header

	// Type is the message type read from the type block.
	Type MessageType

	// Message is the decoded body. It is nil after Parse until Decode
	// succeeds.
	Message Message

	raw []byte
}

// Bytes returns the full packet as sent or received.
func (p *Packet) Bytes() []byte { return p.raw }

// MessageBytes returns the message part of the packet, without the packet
// header and CRC.
func (p *Packet) MessageBytes() []byte {
	return p.raw[HeaderLength : len(p.raw)-CRCLength]
}

// SetSequenceNumber rewrites the sequence number of a built packet and
// recomputes its CRC. Used for retransmissions.
func (p *Packet) SetSequenceNumber(seq uint16) {
	p.SequenceNumber = seq
	binary.BigEndian.PutUint16(p.raw[2:4], seq)
	crypto.PutCRC(p.raw[len(p.raw)-CRCLength:], p.raw[:len(p.raw)-CRCLength])
}

// SameMessage reports whether two packets carry the same message bytes,
// ignoring the packet header and CRC. Retransmitted packets compare equal.
func (p *Packet) SameMessage(o *Packet) bool {
	return o != nil && bytes.Equal(p.MessageBytes(), o.MessageBytes())
}

// macTrailer returns the 8-byte MAC field closing Hello, Commit and DHPart
// messages and the bytes it authenticates.
func (p *Packet) macTrailer() (covered, mac []byte, ok bool) {
	switch p.Type {
	case TypeHello, TypeCommit, TypeDHPart1, TypeDHPart2:
	default:
		return nil, nil, false
	}
	msg := p.MessageBytes()
	if len(msg) < MessageHeaderLength+MACLength {
		return nil, nil, false
	}
	return msg[:len(msg)-MACLength], msg[len(msg)-MACLength:], true
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	macKey []byte

	hash          crypto.Algo
	cipher        crypto.Algo
	zrtpKey       []byte
	confirmMACKey []byte
}

// WithMACKey sets the key of the trailing message MAC of Hello (H2),
// Commit (H1) and DHPart (H0) messages.
func WithMACKey(key []byte) BuildOption {
	return func(o *buildOptions) { o.macKey = key }
}

// WithConfirmKeys sets the negotiated algorithms and the zrtpkey and
// mackey used to encrypt and authenticate a Confirm message.
func WithConfirmKeys(hash, cipher crypto.Algo, zrtpKey, macKey []byte) BuildOption {
	return func(o *buildOptions) {
		o.hash = hash
		o.cipher = cipher
		o.zrtpKey = zrtpKey
		o.confirmMACKey = macKey
	}
}

// Build frames msg into a packet with the given sequence number and SSRC.
// The MAC trailer of Hello, Commit and DHPart is computed when a MAC key
// option is given, and written back into msg.
func Build(seq uint16, ssrc uint32, msg Message, opts ...BuildOption) (*Packet, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	msgLen := MessageHeaderLength + msg.bodyLength()
	if msgLen%4 != 0 {
		return nil, fmt.Errorf("%w: %s of %d bytes", ErrInvalidLength, msg.Type(), msgLen)
	}
	total := HeaderLength + msgLen + CRCLength
	if total > MaxPacketLength {
		return nil, fmt.Errorf("%w: %s packet of %d bytes", ErrInvalidLength, msg.Type(), total)
	}

	p := &Packet{
		Header:  Header{SequenceNumber: seq, SSRC: ssrc},
		Type:    msg.Type(),
		Message: msg,
		raw:     make([]byte, total),
	}
	p.Header.EncodeTo(p.raw)
	mh := MessageHeader{Length: uint16(msgLen / 4), Type: msg.Type()}
	mh.EncodeTo(p.raw[HeaderLength:])
	if err := msg.encodeBody(p.raw[HeaderLength+MessageHeaderLength:total-CRCLength], &o); err != nil {
		return nil, err
	}

	if covered, mac, ok := p.macTrailer(); ok && o.macKey != nil {
		copy(mac, crypto.HMACSHA256(o.macKey, covered, MACLength))
		setMAC(msg, mac)
	}

	crypto.PutCRC(p.raw[total-CRCLength:], p.raw[:total-CRCLength])
	return p, nil
}

func setMAC(msg Message, mac []byte) {
	switch m := msg.(type) {
	case *Hello:
		copy(m.MAC[:], mac)
	case *Commit:
		copy(m.MAC[:], mac)
	case *DHPart:
		copy(m.MAC[:], mac)
	}
}

// Parse checks the framing of a received packet in this order: header
// nibble and magic cookie, sequence number against the last one accepted,
// CRC, message preamble and type. Parse copies data; the message body is
// decoded later by Decode.
func Parse(data []byte, lastSeq uint16) (*Packet, error) {
	if len(data) < MinPacketLength || len(data) > MaxPacketLength {
		return nil, ErrInvalidPacket
	}

	p := &Packet{}
	if err := p.Header.Decode(data); err != nil {
		return nil, err
	}
	if p.SequenceNumber <= lastSeq {
		return nil, ErrOutOfOrder
	}
	if !crypto.CheckCRC(data[len(data)-CRCLength:], data[:len(data)-CRCLength]) {
		return nil, ErrInvalidCRC
	}

	var mh MessageHeader
	if err := mh.Decode(data[HeaderLength:]); err != nil {
		return nil, err
	}
	if int(mh.Length)*4 != len(data)-Overhead {
		return nil, ErrInvalidLength
	}
	p.Type = mh.Type
	p.raw = append([]byte(nil), data...)
	return p, nil
}

// DecodeContext carries the negotiated state needed to read a message body.
type DecodeContext struct {
	// KeyAgreement sizes the public value of DHPart messages.
	KeyAgreement crypto.Algo

	// Hash, Cipher, ZRTPKey and MACKey authenticate and decrypt Confirm
	// messages. The keys are the ones of the peer's role.
	Hash    crypto.Algo
	Cipher  crypto.Algo
	ZRTPKey []byte
	MACKey  []byte
}

// Decode decodes the message body of a parsed packet into p.Message.
// GoClear, ClearACK, SASrelay and RelayACK are recognized on the wire but
// not supported.
func Decode(p *Packet, dc *DecodeContext) error {
	var msg Message
	switch p.Type {
	case TypeHello:
		msg = &Hello{}
	case TypeHelloACK:
		msg = HelloACK{}
	case TypeCommit:
		msg = &Commit{}
	case TypeDHPart1, TypeDHPart2:
		msg = &DHPart{Kind: p.Type}
	case TypeConfirm1, TypeConfirm2:
		msg = &Confirm{Kind: p.Type}
	case TypeConf2ACK:
		msg = Conf2ACK{}
	case TypeError:
		msg = &Error{}
	case TypeErrorACK:
		msg = ErrorACK{}
	case TypePing:
		msg = &Ping{}
	case TypePingACK:
		msg = &PingACK{}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMessage, p.Type)
	}

	if err := msg.decodeBody(p.MessageBytes()[MessageHeaderLength:], dc); err != nil {
		return err
	}
	p.Message = msg
	return nil
}
