package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
)

// Message is a decoded ZRTP message body. The message header, MAC trailers
// and packet framing are handled by Build and Parse.
type Message interface {
	// Type returns the message type written in the type block.
	Type() MessageType

	bodyLength() int
	encodeBody(buf []byte, o *buildOptions) error
	decodeBody(body []byte, dc *DecodeContext) error
}

// Hello advertises an endpoint's identity and algorithms (RFC 6189 Section 5.2).
type Hello struct {
	Version  [4]byte
	ClientID [ClientIDLength]byte
	H3       [HashImageLength]byte
	ZID      [ZIDLength]byte

	// SignatureCapable is the S flag.
	SignatureCapable bool
	// MiTM is the M flag, set by PBX endpoints.
	MiTM bool
	// Passive is the P flag.
	Passive bool

	HashAlgos         []crypto.Algo
	CipherAlgos       []crypto.Algo
	AuthTagAlgos      []crypto.Algo
	KeyAgreementAlgos []crypto.Algo
	SASAlgos          []crypto.Algo

	// MAC is the Hello MAC keyed by H2, filled in by Build and Parse.
	MAC [MACLength]byte
}

// Type implements Message.
func (*Hello) Type() MessageType { return TypeHello }

func (h *Hello) algoCount() int {
	return len(h.HashAlgos) + len(h.CipherAlgos) + len(h.AuthTagAlgos) +
		len(h.KeyAgreementAlgos) + len(h.SASAlgos)
}

func (h *Hello) bodyLength() int {
	return 4 + ClientIDLength + HashImageLength + ZIDLength + 4 + 4*h.algoCount() + MACLength
}

func (h *Hello) encodeBody(buf []byte, _ *buildOptions) error {
	lists := [][]crypto.Algo{h.HashAlgos, h.CipherAlgos, h.AuthTagAlgos, h.KeyAgreementAlgos, h.SASAlgos}
	for _, l := range lists {
		if len(l) > maxAlgoCount {
			return fmt.Errorf("%w: %d algorithms in one Hello family", ErrInvalidMessage, len(l))
		}
	}

	off := copy(buf, h.Version[:])
	off += copy(buf[off:], h.ClientID[:])
	off += copy(buf[off:], h.H3[:])
	off += copy(buf[off:], h.ZID[:])

	var flags byte
	if h.SignatureCapable {
		flags |= 1 << 6
	}
	if h.MiTM {
		flags |= 1 << 5
	}
	if h.Passive {
		flags |= 1 << 4
	}
	buf[off] = flags
	buf[off+1] = byte(len(h.HashAlgos)) & 0x0f
	buf[off+2] = byte(len(h.CipherAlgos))<<4 | byte(len(h.AuthTagAlgos))&0x0f
	buf[off+3] = byte(len(h.KeyAgreementAlgos))<<4 | byte(len(h.SASAlgos))&0x0f
	off += 4

	for _, l := range lists {
		for _, a := range l {
			off += copy(buf[off:off+4], a.String())
		}
	}
	copy(buf[off:], h.MAC[:])
	return nil
}

func (h *Hello) decodeBody(body []byte, _ *DecodeContext) error {
	const fixed = 4 + ClientIDLength + HashImageLength + ZIDLength + 4
	if len(body) < fixed+MACLength {
		return ErrInvalidLength
	}
	off := copy(h.Version[:], body)
	off += copy(h.ClientID[:], body[off:])
	off += copy(h.H3[:], body[off:])
	off += copy(h.ZID[:], body[off:])

	flags := body[off]
	h.SignatureCapable = flags&(1<<6) != 0
	h.MiTM = flags&(1<<5) != 0
	h.Passive = flags&(1<<4) != 0

	counts := []struct {
		t crypto.AlgoType
		n int
		l *[]crypto.Algo
	}{
		{crypto.AlgoTypeHash, int(body[off+1] & 0x0f), &h.HashAlgos},
		{crypto.AlgoTypeCipher, int(body[off+2] >> 4), &h.CipherAlgos},
		{crypto.AlgoTypeAuthTag, int(body[off+2] & 0x0f), &h.AuthTagAlgos},
		{crypto.AlgoTypeKeyAgreement, int(body[off+3] >> 4), &h.KeyAgreementAlgos},
		{crypto.AlgoTypeSAS, int(body[off+3] & 0x0f), &h.SASAlgos},
	}
	off += 4

	total := 0
	for _, c := range counts {
		if c.n > maxAlgoCount {
			return fmt.Errorf("%w: Hello advertises %d %s algorithms", ErrInvalidMessage, c.n, c.t)
		}
		total += c.n
	}
	if len(body) != fixed+4*total+MACLength {
		return ErrInvalidLength
	}

	for _, c := range counts {
		*c.l = nil
		for i := 0; i < c.n; i++ {
			// Unknown algorithms are skipped, the peer may support more than we do.
			if a, ok := crypto.ParseAlgo(c.t, body[off:off+4]); ok {
				*c.l = append(*c.l, a)
			}
			off += 4
		}
		if len(*c.l) == 0 {
			*c.l = crypto.Mandatory(c.t)
		}
	}
	copy(h.MAC[:], body[off:])
	return nil
}

// HelloACK acknowledges a Hello.
type HelloACK struct{}

// Type implements Message.
func (HelloACK) Type() MessageType                     { return TypeHelloACK }
func (HelloACK) bodyLength() int                       { return 0 }
func (HelloACK) encodeBody([]byte, *buildOptions) error { return nil }
func (HelloACK) decodeBody(body []byte, _ *DecodeContext) error {
	return checkEmpty(body)
}

// Conf2ACK acknowledges a Confirm2 and completes the key agreement.
type Conf2ACK struct{}

// Type implements Message.
func (Conf2ACK) Type() MessageType                     { return TypeConf2ACK }
func (Conf2ACK) bodyLength() int                       { return 0 }
func (Conf2ACK) encodeBody([]byte, *buildOptions) error { return nil }
func (Conf2ACK) decodeBody(body []byte, _ *DecodeContext) error {
	return checkEmpty(body)
}

// ErrorACK acknowledges an Error message.
type ErrorACK struct{}

// Type implements Message.
func (ErrorACK) Type() MessageType                     { return TypeErrorACK }
func (ErrorACK) bodyLength() int                       { return 0 }
func (ErrorACK) encodeBody([]byte, *buildOptions) error { return nil }
func (ErrorACK) decodeBody(body []byte, _ *DecodeContext) error {
	return checkEmpty(body)
}

func checkEmpty(body []byte) error {
	if len(body) != 0 {
		return ErrInvalidLength
	}
	return nil
}

// Commit starts the key agreement with the negotiated algorithms
// (RFC 6189 Section 5.4).
type Commit struct {
	H2  [HashImageLength]byte
	ZID [ZIDLength]byte

	Hash         crypto.Algo
	Cipher       crypto.Algo
	AuthTag      crypto.Algo
	KeyAgreement crypto.Algo
	SAS          crypto.Algo

	// HVI is the hash value of the initiator in DH and KEM modes.
	HVI [HVILength]byte
	// PublicKey is the initiator's encapsulation key in KEM mode.
	PublicKey []byte
	// Nonce is used in Mult and Prsh modes.
	Nonce [NonceLength]byte
	// KeyID identifies the preshared key in Prsh mode.
	KeyID [KeyIDLength]byte

	// MAC is the Commit MAC keyed by H1.
	MAC [MACLength]byte
}

// Type implements Message.
func (*Commit) Type() MessageType { return TypeCommit }

const commitFixedLength = HashImageLength + ZIDLength + 5*4

func (c *Commit) bodyLength() int {
	n := commitFixedLength + MACLength
	switch {
	case c.KeyAgreement == crypto.KeyAgreementMult:
		n += NonceLength
	case c.KeyAgreement == crypto.KeyAgreementPrsh:
		n += NonceLength + KeyIDLength
	case c.KeyAgreement.IsKEM():
		n += HVILength + crypto.PublicValueLength(c.KeyAgreement, crypto.PublicValueCommit)
	default:
		n += HVILength
	}
	return n
}

func (c *Commit) encodeBody(buf []byte, _ *buildOptions) error {
	off := copy(buf, c.H2[:])
	off += copy(buf[off:], c.ZID[:])
	for _, a := range []crypto.Algo{c.Hash, c.Cipher, c.AuthTag, c.KeyAgreement, c.SAS} {
		if !crypto.IsImplemented(a) {
			return fmt.Errorf("%w: %s in Commit", ErrUnknownAlgorithm, a)
		}
		off += copy(buf[off:off+4], a.String())
	}

	switch {
	case c.KeyAgreement == crypto.KeyAgreementMult:
		off += copy(buf[off:], c.Nonce[:])
	case c.KeyAgreement == crypto.KeyAgreementPrsh:
		off += copy(buf[off:], c.Nonce[:])
		off += copy(buf[off:], c.KeyID[:])
	case c.KeyAgreement.IsKEM():
		off += copy(buf[off:], c.HVI[:])
		pkLen := crypto.PublicValueLength(c.KeyAgreement, crypto.PublicValueCommit)
		if len(c.PublicKey) > pkLen {
			return fmt.Errorf("%w: KEM public key of %d bytes", ErrInvalidMessage, len(c.PublicKey))
		}
		copy(buf[off:off+pkLen], c.PublicKey)
		off += pkLen
	default:
		off += copy(buf[off:], c.HVI[:])
	}
	copy(buf[off:], c.MAC[:])
	return nil
}

func (c *Commit) decodeBody(body []byte, _ *DecodeContext) error {
	if len(body) < commitFixedLength+MACLength {
		return ErrInvalidLength
	}
	off := copy(c.H2[:], body)
	off += copy(c.ZID[:], body[off:])

	algos := []struct {
		t crypto.AlgoType
		a *crypto.Algo
	}{
		{crypto.AlgoTypeHash, &c.Hash},
		{crypto.AlgoTypeCipher, &c.Cipher},
		{crypto.AlgoTypeAuthTag, &c.AuthTag},
		{crypto.AlgoTypeKeyAgreement, &c.KeyAgreement},
		{crypto.AlgoTypeSAS, &c.SAS},
	}
	for _, f := range algos {
		a, ok := crypto.ParseAlgo(f.t, body[off:off+4])
		if !ok || !crypto.IsImplemented(a) {
			return fmt.Errorf("%w: %q in Commit", ErrUnknownAlgorithm, body[off:off+4])
		}
		*f.a = a
		off += 4
	}

	if len(body) != c.bodyLength() {
		return ErrInvalidLength
	}
	switch {
	case c.KeyAgreement == crypto.KeyAgreementMult:
		off += copy(c.Nonce[:], body[off:])
	case c.KeyAgreement == crypto.KeyAgreementPrsh:
		off += copy(c.Nonce[:], body[off:])
		off += copy(c.KeyID[:], body[off:])
	case c.KeyAgreement.IsKEM():
		off += copy(c.HVI[:], body[off:])
		pkLen := crypto.PublicValueLength(c.KeyAgreement, crypto.PublicValueCommit)
		c.PublicKey = append([]byte(nil), body[off:off+pkLen]...)
		off += pkLen
	default:
		off += copy(c.HVI[:], body[off:])
	}
	copy(c.MAC[:], body[off:])
	return nil
}

// DHPart carries a public value and the retained secret identifiers
// (RFC 6189 Sections 5.5 and 5.6). DHPart1 is sent by the responder,
// DHPart2 by the initiator.
type DHPart struct {
	// Kind is TypeDHPart1 or TypeDHPart2.
	Kind MessageType

	H1    [HashImageLength]byte
	RS1ID [SecretIDLength]byte
	RS2ID [SecretIDLength]byte
	AuxID [SecretIDLength]byte
	PBXID [SecretIDLength]byte

	// PublicValue is the DH or ECDH public value. In KEM mode DHPart1 carries
	// the ciphertext and DHPart2 a nonce.
	PublicValue []byte

	// MAC is the DHPart MAC keyed by H0.
	MAC [MACLength]byte
}

// Type implements Message.
func (d *DHPart) Type() MessageType { return d.Kind }

const dhPartFixedLength = HashImageLength + 4*SecretIDLength

func (d *DHPart) bodyLength() int {
	return dhPartFixedLength + len(d.PublicValue) + MACLength
}

func (d *DHPart) encodeBody(buf []byte, _ *buildOptions) error {
	if d.Kind != TypeDHPart1 && d.Kind != TypeDHPart2 {
		return fmt.Errorf("%w: DHPart kind %s", ErrInvalidMessage, d.Kind)
	}
	if len(d.PublicValue)%4 != 0 {
		return fmt.Errorf("%w: public value of %d bytes", ErrInvalidMessage, len(d.PublicValue))
	}
	off := copy(buf, d.H1[:])
	off += copy(buf[off:], d.RS1ID[:])
	off += copy(buf[off:], d.RS2ID[:])
	off += copy(buf[off:], d.AuxID[:])
	off += copy(buf[off:], d.PBXID[:])
	off += copy(buf[off:], d.PublicValue)
	copy(buf[off:], d.MAC[:])
	return nil
}

func (d *DHPart) decodeBody(body []byte, dc *DecodeContext) error {
	if dc == nil || dc.KeyAgreement == crypto.AlgoUnset {
		return ErrMissingContext
	}
	role := crypto.PublicValueDHPart2
	if d.Kind == TypeDHPart1 {
		role = crypto.PublicValueDHPart1
	}
	pvLen := crypto.PublicValueLength(dc.KeyAgreement, role)
	if pvLen == 0 {
		return fmt.Errorf("%w: no DHPart in %s mode", ErrInvalidMessage, dc.KeyAgreement)
	}
	if len(body) != dhPartFixedLength+pvLen+MACLength {
		return ErrInvalidLength
	}
	off := copy(d.H1[:], body)
	off += copy(d.RS1ID[:], body[off:])
	off += copy(d.RS2ID[:], body[off:])
	off += copy(d.AuxID[:], body[off:])
	off += copy(d.PBXID[:], body[off:])
	d.PublicValue = append([]byte(nil), body[off:off+pvLen]...)
	off += pvLen
	copy(d.MAC[:], body[off:])
	return nil
}

// Confirm carries the H0 preimage and the SAS and cache flags, encrypted
// with zrtpkeyi or zrtpkeyr (RFC 6189 Section 5.7).
type Confirm struct {
	// Kind is TypeConfirm1 or TypeConfirm2.
	Kind MessageType

	// ConfirmMAC is the HMAC of the encrypted part, filled in by Build and Parse.
	ConfirmMAC [MACLength]byte
	// IV is the CFB initialization vector, chosen by the sender.
	IV [crypto.CFBIVSize]byte

	H0 [HashImageLength]byte

	// Enrollment is the E flag.
	Enrollment bool
	// SASVerified is the V flag.
	SASVerified bool
	// AllowClear is the A flag.
	AllowClear bool
	// Disclosure is the D flag.
	Disclosure bool

	// CacheExpiration is the retained secret lifetime in seconds,
	// 0xFFFFFFFF meaning forever.
	CacheExpiration uint32

	// Signature is an optional signature block, a multiple of 4 bytes.
	Signature []byte
}

// Type implements Message.
func (c *Confirm) Type() MessageType { return c.Kind }

const confirmPlainFixedLength = HashImageLength + 8

func (c *Confirm) bodyLength() int {
	return MACLength + crypto.CFBIVSize + confirmPlainFixedLength + len(c.Signature)
}

func (c *Confirm) encodeBody(buf []byte, o *buildOptions) error {
	if c.Kind != TypeConfirm1 && c.Kind != TypeConfirm2 {
		return fmt.Errorf("%w: Confirm kind %s", ErrInvalidMessage, c.Kind)
	}
	if o.confirmMACKey == nil || o.zrtpKey == nil {
		return ErrMissingContext
	}
	sigWords := len(c.Signature) / 4
	if len(c.Signature)%4 != 0 || sigWords > 0x1ff {
		return fmt.Errorf("%w: signature of %d bytes", ErrInvalidMessage, len(c.Signature))
	}

	plain := make([]byte, confirmPlainFixedLength+len(c.Signature))
	off := copy(plain, c.H0[:])
	plain[off] = 0
	plain[off+1] = byte(sigWords>>8) & 0x01
	plain[off+2] = byte(sigWords)
	var flags byte
	if c.Enrollment {
		flags |= 1 << 3
	}
	if c.SASVerified {
		flags |= 1 << 2
	}
	if c.AllowClear {
		flags |= 1 << 1
	}
	if c.Disclosure {
		flags |= 1
	}
	plain[off+3] = flags
	binary.BigEndian.PutUint32(plain[off+4:off+8], c.CacheExpiration)
	copy(plain[off+8:], c.Signature)

	encrypted, err := crypto.CFBEncrypt(o.cipher, o.zrtpKey, c.IV[:], plain)
	crypto.Wipe(plain)
	if err != nil {
		return err
	}
	mac, err := crypto.HMAC(o.hash, o.confirmMACKey, MACLength, encrypted)
	if err != nil {
		return err
	}
	copy(c.ConfirmMAC[:], mac)

	off = copy(buf, mac)
	off += copy(buf[off:], c.IV[:])
	copy(buf[off:], encrypted)
	return nil
}

func (c *Confirm) decodeBody(body []byte, dc *DecodeContext) error {
	if dc == nil || dc.ZRTPKey == nil || dc.MACKey == nil {
		return ErrMissingContext
	}
	if len(body) < MACLength+crypto.CFBIVSize+confirmPlainFixedLength {
		return ErrInvalidLength
	}
	copy(c.ConfirmMAC[:], body)
	copy(c.IV[:], body[MACLength:])
	encrypted := body[MACLength+crypto.CFBIVSize:]

	mac, err := crypto.HMAC(dc.Hash, dc.MACKey, MACLength, encrypted)
	if err != nil {
		return err
	}
	if !crypto.HMACEqual(mac, c.ConfirmMAC[:]) {
		return ErrUnmatchingConfirmMAC
	}

	plain, err := crypto.CFBDecrypt(dc.Cipher, dc.ZRTPKey, c.IV[:], encrypted)
	if err != nil {
		return err
	}
	off := copy(c.H0[:], plain)
	sigWords := int(plain[off+1]&0x01)<<8 | int(plain[off+2])
	if len(plain) != confirmPlainFixedLength+4*sigWords {
		return ErrInvalidLength
	}
	flags := plain[off+3]
	c.Enrollment = flags&(1<<3) != 0
	c.SASVerified = flags&(1<<2) != 0
	c.AllowClear = flags&(1<<1) != 0
	c.Disclosure = flags&1 != 0
	c.CacheExpiration = binary.BigEndian.Uint32(plain[off+4 : off+8])
	c.Signature = nil
	if sigWords > 0 {
		c.Signature = append([]byte(nil), plain[off+8:]...)
	}
	return nil
}

// Error reports a protocol failure to the peer (RFC 6189 Section 5.9).
type Error struct {
	Code ErrorCode
}

// Type implements Message.
func (*Error) Type() MessageType { return TypeError }
func (*Error) bodyLength() int   { return 4 }

func (e *Error) encodeBody(buf []byte, _ *buildOptions) error {
	binary.BigEndian.PutUint32(buf, uint32(e.Code))
	return nil
}

func (e *Error) decodeBody(body []byte, _ *DecodeContext) error {
	if len(body) != 4 {
		return ErrInvalidLength
	}
	e.Code = ErrorCode(binary.BigEndian.Uint32(body))
	return nil
}

// Ping probes a ZRTP endpoint (RFC 6189 Section 5.15).
type Ping struct {
	Version      [4]byte
	EndpointHash [EndpointHashLength]byte
}

// Type implements Message.
func (*Ping) Type() MessageType { return TypePing }
func (*Ping) bodyLength() int   { return 4 + EndpointHashLength }

func (p *Ping) encodeBody(buf []byte, _ *buildOptions) error {
	off := copy(buf, p.Version[:])
	copy(buf[off:], p.EndpointHash[:])
	return nil
}

func (p *Ping) decodeBody(body []byte, _ *DecodeContext) error {
	if len(body) != p.bodyLength() {
		return ErrInvalidLength
	}
	off := copy(p.Version[:], body)
	copy(p.EndpointHash[:], body[off:])
	return nil
}

// PingACK answers a Ping (RFC 6189 Section 5.16).
type PingACK struct {
	Version [4]byte
	// EndpointHash identifies the endpoint sending the PingACK.
	EndpointHash [EndpointHashLength]byte
	// PeerEndpointHash echoes the hash of the received Ping.
	PeerEndpointHash [EndpointHashLength]byte
	// SSRC echoes the SSRC of the received Ping.
	SSRC uint32
}

// Type implements Message.
func (*PingACK) Type() MessageType { return TypePingACK }
func (*PingACK) bodyLength() int   { return 4 + 2*EndpointHashLength + 4 }

func (p *PingACK) encodeBody(buf []byte, _ *buildOptions) error {
	off := copy(buf, p.Version[:])
	off += copy(buf[off:], p.EndpointHash[:])
	off += copy(buf[off:], p.PeerEndpointHash[:])
	binary.BigEndian.PutUint32(buf[off:], p.SSRC)
	return nil
}

func (p *PingACK) decodeBody(body []byte, _ *DecodeContext) error {
	if len(body) != p.bodyLength() {
		return ErrInvalidLength
	}
	off := copy(p.Version[:], body)
	off += copy(p.EndpointHash[:], body[off:])
	off += copy(p.PeerEndpointHash[:], body[off:])
	p.SSRC = binary.BigEndian.Uint32(body[off:])
	return nil
}
