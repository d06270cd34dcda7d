package zrtp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// agreedAlgos are the algorithms negotiated from the Hello exchange, or
// adopted from the peer Commit when the channel turned responder.
type agreedAlgos struct {
	hash         crypto.Algo
	cipher       crypto.Algo
	authTag      crypto.Algo
	keyAgreement crypto.Algo
	sas          crypto.Algo
}

func (a agreedAlgos) hashLength() int      { return crypto.HashLength(a.hash) }
func (a agreedAlgos) cipherKeyLength() int { return crypto.CipherKeyLength(a.cipher) }

// channel is the state of one ZRTP stream. Channels are owned by their
// Session and handled by Session methods.
type channel struct {
	ssrc  uint32
	main  bool
	state state
	role  Role
	timer retransmitTimer

	// self and peer keep the last packet sent and received in each
	// category, for retransmission and duplicate detection.
	self [packet.NumCategories]*packet.Packet
	peer [packet.NumCategories]*packet.Packet

	selfSeq uint16
	peerSeq uint16

	// selfH is the hash chain H0..H3 of RFC 6189 Section 9.
	// peerH holds the peer elements revealed so far.
	selfH [4][packet.HashImageLength]byte
	peerH [4][packet.HashImageLength]byte

	// peerHelloHash is the peer Hello hash received through signaling.
	peerHelloHash []byte

	algos agreedAlgos

	// Auxiliary secret identifiers: the one we send, computed over our H3,
	// and the one expected from the peer, computed over its H3.
	selfAuxID [packet.SecretIDLength]byte
	peerAuxID [packet.SecretIDLength]byte
	auxStatus AuxSecretStatus

	peerPVS bool

	// Key material, wiped as soon as it is no longer needed.
	s0         []byte
	kdfContext []byte
	mackeyI    []byte
	mackeyR    []byte
	zrtpkeyI   []byte
	zrtpkeyR   []byte
	srtp       *SRTPSecrets

	failure error

	log logging.LeveledLogger
}

// newChannel draws the hash chain and initial sequence number, and builds
// the Hello packet.
func (s *Session) newChannel(ssrc uint32, main bool) (*channel, error) {
	c := &channel{
		ssrc:  ssrc,
		main:  main,
		state: stateIdle,
		role:  RoleInitiator,
	}
	if s.loggerFactory != nil {
		c.log = s.loggerFactory.NewLogger("zrtp-channel")
	}

	if _, err := io.ReadFull(s.rand, c.selfH[0][:]); err != nil {
		return nil, fmt.Errorf("zrtp: draw H0: %w", err)
	}
	for i := 1; i < len(c.selfH); i++ {
		c.selfH[i] = packet.HashImage(c.selfH[i-1][:])
	}

	// The sequence number starts at a random 12-bit value so that it never
	// wraps during one exchange.
	var seq [2]byte
	if _, err := io.ReadFull(s.rand, seq[:]); err != nil {
		return nil, fmt.Errorf("zrtp: draw sequence number: %w", err)
	}
	c.selfSeq = binary.BigEndian.Uint16(seq[:])&0x0fff + 1

	c.timer.stop()
	c.timer.step = s.retransmit.Hello.Base

	hello, err := s.buildHello(c)
	if err != nil {
		return nil, err
	}
	c.self[packet.CategoryHello] = hello
	return c, nil
}

// buildHello builds the Hello packet advertising our identity, H3 and
// algorithm preferences. Its MAC is keyed by H2.
func (s *Session) buildHello(c *channel) (*packet.Packet, error) {
	hello := &packet.Hello{
		Version:           packet.Version,
		ClientID:          clientID(s.clientID),
		H3:                c.selfH[3],
		ZID:               s.selfZID,
		MiTM:              s.mitm,
		HashAlgos:         s.algos.hash,
		CipherAlgos:       s.algos.cipher,
		AuthTagAlgos:      s.algos.authTag,
		KeyAgreementAlgos: s.algos.keyAgreement,
		SASAlgos:          s.algos.sas,
	}
	return packet.Build(c.selfSeq, c.ssrc, hello, packet.WithMACKey(c.selfH[2][:]))
}

// peerHello returns the decoded peer Hello, or nil.
func (c *channel) peerHello() *packet.Hello {
	if p := c.peer[packet.CategoryHello]; p != nil {
		if h, ok := p.Message.(*packet.Hello); ok {
			return h
		}
	}
	return nil
}

// peerCommit returns the decoded peer Commit, or nil.
func (c *channel) peerCommit() *packet.Commit {
	if p := c.peer[packet.CategoryCommit]; p != nil {
		if m, ok := p.Message.(*packet.Commit); ok {
			return m
		}
	}
	return nil
}

// selfCommit returns our Commit, or nil.
func (c *channel) selfCommit() *packet.Commit {
	if p := c.self[packet.CategoryCommit]; p != nil {
		if m, ok := p.Message.(*packet.Commit); ok {
			return m
		}
	}
	return nil
}

// peerDHPart returns the decoded peer DHPart, or nil.
func (c *channel) peerDHPart() *packet.DHPart {
	if p := c.peer[packet.CategoryDHPart]; p != nil {
		if m, ok := p.Message.(*packet.DHPart); ok {
			return m
		}
	}
	return nil
}

// decodeContext returns the parameters needed to decode a peer message:
// the negotiated key agreement, and the Confirm keys of the peer's role.
func (c *channel) decodeContext() *packet.DecodeContext {
	dc := &packet.DecodeContext{
		KeyAgreement: c.algos.keyAgreement,
		Hash:         c.algos.hash,
		Cipher:       c.algos.cipher,
	}
	if c.role == RoleInitiator {
		dc.ZRTPKey, dc.MACKey = c.zrtpkeyR, c.mackeyR
	} else {
		dc.ZRTPKey, dc.MACKey = c.zrtpkeyI, c.mackeyI
	}
	return dc
}

// confirmKeys returns the Confirm keys of our role.
func (c *channel) confirmKeys() (zrtpKey, macKey []byte) {
	if c.role == RoleInitiator {
		return c.zrtpkeyI, c.mackeyI
	}
	return c.zrtpkeyR, c.mackeyR
}

// isRepetition checks an inbound packet against the stored peer packet of
// the same category. It returns false when nothing was stored yet, and
// ErrUnmatchingPacketRepetition when the stored packet differs.
func (c *channel) isRepetition(p *packet.Packet) (bool, error) {
	cat, ok := p.Type.Category()
	if !ok {
		return false, nil
	}
	stored := c.peer[cat]
	if stored == nil {
		return false, nil
	}
	if stored.Type != p.Type || !p.SameMessage(stored) {
		return true, ErrUnmatchingPacketRepetition
	}
	return true, nil
}

// wipeKeys zeroes every key held by the channel.
func (c *channel) wipeKeys() {
	crypto.Wipe(c.s0, c.kdfContext, c.mackeyI, c.mackeyR, c.zrtpkeyI, c.zrtpkeyR)
	c.s0, c.kdfContext = nil, nil
	c.mackeyI, c.mackeyR, c.zrtpkeyI, c.zrtpkeyR = nil, nil, nil, nil
	if c.srtp != nil {
		c.srtp.Wipe()
		c.srtp = nil
	}
}

// wipe releases every secret of the channel, including the hash chain.
func (c *channel) wipe() {
	c.wipeKeys()
	c.timer.stop()
	for i := range c.selfH {
		crypto.Wipe(c.selfH[i][:])
	}
}
