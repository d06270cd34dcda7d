package zrtp

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// peerVersion is the engine release detected from the peer client ID.
type peerVersion int

const (
	peerVersionUnknown peerVersion = iota
	peerVersionObsolete
	peerVersionCurrent
)

// responseToHello processes a new peer Hello: it checks the version and the
// signaled Hello hash, negotiates the algorithms, prepares the secret
// identifiers and our DHPart2, and acknowledges the Hello.
func (s *Session) responseToHello(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, nil); err != nil {
		return err
	}
	hello := p.Message.(*packet.Hello)

	// Any 1.1x version is accepted, RFC 6189 Section 4.1.1.
	if !bytes.Equal(hello.Version[:3], packet.Version[:3]) {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, hello.Version[:])
	}
	if c.peerHelloHash != nil {
		h := crypto.SHA256(p.MessageBytes())
		if !bytes.Equal(h[:], c.peerHelloHash) {
			return ErrHelloHashMismatch
		}
	}
	if !s.peerZID.IsZero() && s.peerZID != hello.ZID {
		return fmt.Errorf("%w: peer ZID %x differs from session peer %s", ErrInvalidContext, hello.ZID, s.peerZID)
	}

	s.peerZID = hello.ZID
	if err := s.loadSecrets(); err != nil {
		return err
	}

	allowPreshared := s.secrets != nil && s.secrets.RS1 != nil
	algos, err := negotiate(s.algos, hello, allowPreshared)
	if err != nil {
		return err
	}
	c.algos = algos
	s.peerSupportsMult = containsAlgo(hello.KeyAgreementAlgos, crypto.KeyAgreementMult)

	c.peerH[3] = hello.H3
	c.peer[packet.CategoryHello] = p
	c.peerSeq = p.SequenceNumber

	s.checkPeerVersion(c, hello)

	if s.peerSupportsMult && s.zrtpSess != nil {
		c.algos.keyAgreement = crypto.KeyAgreementMult
	} else {
		if err := s.computeSecretIDs(c); err != nil {
			return err
		}
		if c.algos.keyAgreement.IsDH() {
			if err := s.buildInitiatorDHPart(c); err != nil {
				return err
			}
		}
	}

	if c.log != nil {
		c.log.Debugf("ssrc %d: peer %s, agreed %s/%s/%s/%s/%s",
			c.ssrc, s.peerZID, c.algos.hash, c.algos.cipher, c.algos.authTag,
			c.algos.keyAgreement, c.algos.sas)
	}

	return s.sendHelloACK(c)
}

// checkPeerVersion recognizes the peer implementation from its client ID.
func (s *Session) checkPeerVersion(c *channel, hello *packet.Hello) {
	id := strings.TrimRight(string(hello.ClientID[:]), "\x00 ")
	switch id {
	case clientIDObsoleteLinphone, clientIDObsolete:
		s.peerVersion = peerVersionObsolete
		s.status(c, StatusLevelWarning, StatusPeerVersionObsolete, id)
	case DefaultClientID:
		s.peerVersion = peerVersionCurrent
	default:
		s.peerVersion = peerVersionUnknown
		s.status(c, StatusLevelLog, StatusPeerNotBZRTP, id)
	}
}

// sendHelloACK acknowledges a peer Hello.
func (s *Session) sendHelloACK(c *channel) error {
	p, err := packet.Build(c.selfSeq, c.ssrc, packet.HelloACK{})
	if err != nil {
		return err
	}
	s.sendPacket(c, p)
	return nil
}

// formatHelloHash renders a Hello hash the way it is carried in the SDP
// a=zrtp-hash attribute: the version, a space and the hex SHA-256 of the
// Hello message.
func formatHelloHash(msg []byte) string {
	h := crypto.SHA256(msg)
	return string(packet.Version[:]) + " " + hex.EncodeToString(h[:])
}

// parseHelloHash parses an a=zrtp-hash value. The version prefix is
// optional and ignored.
func parseHelloHash(s string) ([]byte, error) {
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		s = s[i+1:]
	}
	h, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("zrtp: invalid Hello hash: %w", err)
	}
	if len(h) != crypto.SHA256LenBytes {
		return nil, fmt.Errorf("zrtp: invalid Hello hash length %d", len(h))
	}
	return h, nil
}
