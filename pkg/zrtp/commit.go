package zrtp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// buildCommit builds our Commit for the negotiated key agreement
// (RFC 6189 Section 5.4). In DH and KEM modes it commits to our DHPart2
// through hvi; Mult and Prsh carry a random nonce instead.
func (s *Session) buildCommit(c *channel) (*packet.Packet, error) {
	commit := &packet.Commit{
		H2:           c.selfH[2],
		ZID:          s.selfZID,
		Hash:         c.algos.hash,
		Cipher:       c.algos.cipher,
		AuthTag:      c.algos.authTag,
		KeyAgreement: c.algos.keyAgreement,
		SAS:          c.algos.sas,
	}

	switch ka := c.algos.keyAgreement; {
	case ka == crypto.KeyAgreementMult:
		if _, err := io.ReadFull(s.rand, commit.Nonce[:]); err != nil {
			return nil, err
		}
	case ka == crypto.KeyAgreementPrsh:
		if _, err := io.ReadFull(s.rand, commit.Nonce[:]); err != nil {
			return nil, err
		}
		pk, err := s.presharedKey(c)
		if err != nil {
			return nil, err
		}
		keyID, err := crypto.HMAC(c.algos.hash, pk, packet.KeyIDLength, []byte(crypto.LabelPresharedKeyID))
		crypto.Wipe(pk)
		if err != nil {
			return nil, err
		}
		copy(commit.KeyID[:], keyID)
	default:
		dh := c.self[packet.CategoryDHPart]
		hello := c.peer[packet.CategoryHello]
		if dh == nil || hello == nil {
			return nil, fmt.Errorf("%w: hvi needs DHPart2 and peer Hello", ErrInvalidContext)
		}
		hvi, err := computeHVI(c.algos.hash, dh, hello)
		if err != nil {
			return nil, err
		}
		copy(commit.HVI[:], hvi)
		if ka.IsKEM() {
			if s.kem == nil {
				return nil, fmt.Errorf("%w: no KEM context", ErrInvalidContext)
			}
			commit.PublicKey = s.kem.PublicKey()
		}
	}

	return packet.Build(c.selfSeq, c.ssrc, commit, packet.WithMACKey(c.selfH[1][:]))
}

// computeHVI computes hvi = hash(initiator's DHPart2 || responder's Hello)
// truncated to 256 bits (RFC 6189 Section 4.4.1.1).
func computeHVI(h crypto.Algo, dhPart2, responderHello *packet.Packet) ([]byte, error) {
	sum, err := crypto.Hash(h, dhPart2.MessageBytes(), responderHello.MessageBytes())
	if err != nil {
		return nil, err
	}
	return sum[:packet.HVILength], nil
}

// loseContention resolves Commit contention (RFC 6189 Section 4.2) and
// reports whether we must become responder.
//
// A DH-class Commit wins over a Prsh one. Between two Prsh Commits, the
// side whose Hello carried the MiTM flag becomes responder. Otherwise the
// side with the lower hvi, or nonce in Prsh and Mult modes, becomes
// responder. Both sides reach opposite outcomes from the same inputs.
func loseContention(self, peer *packet.Commit, selfMiTM, peerMiTM bool) bool {
	selfPrsh := self.KeyAgreement == crypto.KeyAgreementPrsh
	peerPrsh := peer.KeyAgreement == crypto.KeyAgreementPrsh
	if selfPrsh != peerPrsh {
		return selfPrsh
	}
	if selfPrsh && selfMiTM != peerMiTM {
		return selfMiTM
	}
	return bytes.Compare(contentionValue(self), contentionValue(peer)) < 0
}

func contentionValue(c *packet.Commit) []byte {
	if c.KeyAgreement.IsDH() {
		return c.HVI[:]
	}
	return c.Nonce[:]
}

// receiveCommit handles a peer Commit while we may have sent our own.
// The peer Commit reveals H2, checked against the peer Hello.
func (s *Session) receiveCommit(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, nil); err != nil {
		return err
	}
	peer := p.Message.(*packet.Commit)
	if err := c.checkHelloKey(peer.H2[:]); err != nil {
		return err
	}

	if self := c.selfCommit(); self != nil {
		hello := c.peerHello()
		if !loseContention(self, peer, s.mitm, hello.MiTM) {
			// The peer turns responder and answers our Commit. Its Commit
			// is kept to recognize late copies.
			c.peer[packet.CategoryCommit] = p
			c.peerSeq = p.SequenceNumber
			if c.log != nil {
				c.log.Debugf("ssrc %d: won Commit contention", c.ssrc)
			}
			return nil
		}
		if c.log != nil {
			c.log.Debugf("ssrc %d: lost Commit contention, turning responder", c.ssrc)
		}
		c.self[packet.CategoryCommit] = nil
	}

	c.peerSeq = p.SequenceNumber
	return s.turnIntoResponder(c, p)
}

// turnIntoResponder adopts the algorithms of the peer Commit and answers
// it: with a DHPart1 in DH and KEM modes, with a Confirm1 otherwise.
func (s *Session) turnIntoResponder(c *channel, p *packet.Packet) error {
	commit := p.Message.(*packet.Commit)
	c.timer.stop()

	if err := s.checkCommitAlgos(commit); err != nil {
		return err
	}
	hashChanged := commit.Hash != c.algos.hash
	c.algos = agreedAlgos{
		hash:         commit.Hash,
		cipher:       commit.Cipher,
		authTag:      commit.AuthTag,
		keyAgreement: commit.KeyAgreement,
		sas:          commit.SAS,
	}
	c.peer[packet.CategoryCommit] = p
	c.peerH[2] = commit.H2
	c.role = RoleResponder

	if !commit.KeyAgreement.IsDH() {
		return s.enter(c, stateResponderSendingConfirm1)
	}

	// Secret identifiers depend on the hash, which the initiator chose.
	if hashChanged {
		s.idsComputed = false
	}
	if err := s.loadSecrets(); err != nil {
		return err
	}
	if err := s.computeSecretIDs(c); err != nil {
		return err
	}

	dh, err := s.buildResponderDHPart(c, commit)
	if err != nil {
		return err
	}
	c.self[packet.CategoryDHPart] = dh
	return s.enter(c, stateResponderSendingDHPart1)
}

// checkCommitAlgos rejects a Commit using algorithms we did not offer.
func (s *Session) checkCommitAlgos(commit *packet.Commit) error {
	checks := []struct {
		list []crypto.Algo
		a    crypto.Algo
	}{
		{s.algos.hash, commit.Hash},
		{s.algos.cipher, commit.Cipher},
		{s.algos.authTag, commit.AuthTag},
		{s.algos.keyAgreement, commit.KeyAgreement},
		{s.algos.sas, commit.SAS},
	}
	for _, ch := range checks {
		if !containsAlgo(ch.list, ch.a) {
			return fmt.Errorf("%w: Commit uses %s", ErrNoCommonAlgorithm, ch.a)
		}
	}
	return nil
}

// buildResponderDHPart builds our DHPart1 in answer to the peer Commit.
// In KEM mode the public value is the ciphertext encapsulated to the
// initiator public key.
func (s *Session) buildResponderDHPart(c *channel, commit *packet.Commit) (*packet.Packet, error) {
	ka := commit.KeyAgreement
	var pv []byte
	if ka.IsKEM() {
		s.destroyKeyAgreement()
		ct, ss, err := crypto.KEMEncapsulate(ka, commit.PublicKey, s.rand)
		if err != nil {
			return nil, err
		}
		s.kemSecret = ss
		pv = ct
	} else {
		if s.keyAgreement == nil || s.keyAgreement.Algo() != ka {
			s.destroyKeyAgreement()
			agreement, err := crypto.NewKeyAgreement(ka, crypto.KeyAgreementSecretLength(c.algos.cipher), s.rand)
			if err != nil {
				return nil, err
			}
			s.keyAgreement = agreement
		}
		pv = s.keyAgreement.PublicValue()
	}

	dh := &packet.DHPart{
		Kind:        packet.TypeDHPart1,
		H1:          c.selfH[1],
		RS1ID:       s.responderIDs.rs1,
		RS2ID:       s.responderIDs.rs2,
		AuxID:       c.selfAuxID,
		PBXID:       s.responderIDs.pbx,
		PublicValue: pv,
	}
	return packet.Build(c.selfSeq, c.ssrc, dh, packet.WithMACKey(c.selfH[0][:]))
}

// buildInitiatorDHPart prepares our DHPart2 once the algorithms are
// negotiated, since the Commit hvi covers it. In KEM mode the key pair
// goes in the Commit and DHPart2 carries a random nonce.
func (s *Session) buildInitiatorDHPart(c *channel) error {
	ka := c.algos.keyAgreement
	var pv []byte
	if ka.IsKEM() {
		s.destroyKeyAgreement()
		k, err := crypto.NewKEM(ka, s.rand)
		if err != nil {
			return err
		}
		s.kem = k
		pv = make([]byte, crypto.KEMNonceSize)
		if _, err := io.ReadFull(s.rand, pv); err != nil {
			return err
		}
	} else {
		if s.keyAgreement == nil || s.keyAgreement.Algo() != ka {
			s.destroyKeyAgreement()
			agreement, err := crypto.NewKeyAgreement(ka, crypto.KeyAgreementSecretLength(c.algos.cipher), s.rand)
			if err != nil {
				return err
			}
			s.keyAgreement = agreement
		}
		pv = s.keyAgreement.PublicValue()
	}

	dh := &packet.DHPart{
		Kind:        packet.TypeDHPart2,
		H1:          c.selfH[1],
		RS1ID:       s.initiatorIDs.rs1,
		RS2ID:       s.initiatorIDs.rs2,
		AuxID:       c.selfAuxID,
		PBXID:       s.initiatorIDs.pbx,
		PublicValue: pv,
	}
	// The sequence number is set when the packet is first sent.
	p, err := packet.Build(0, c.ssrc, dh, packet.WithMACKey(c.selfH[0][:]))
	if err != nil {
		return err
	}
	c.self[packet.CategoryDHPart] = p
	return nil
}

// buildConfirm builds our Confirm1 or Confirm2, revealing H0 and the
// verified SAS flag, encrypted and authenticated with the keys of our role.
func (s *Session) buildConfirm(c *channel, kind packet.MessageType) (*packet.Packet, error) {
	conf := &packet.Confirm{
		Kind:            kind,
		H0:              c.selfH[0],
		SASVerified:     s.previouslyVerified(),
		CacheExpiration: 0xFFFFFFFF,
	}
	if _, err := io.ReadFull(s.rand, conf.IV[:]); err != nil {
		return nil, err
	}
	zrtpKey, macKey := c.confirmKeys()
	if zrtpKey == nil || macKey == nil {
		return nil, fmt.Errorf("%w: Confirm keys not derived", ErrInvalidContext)
	}
	return packet.Build(c.selfSeq, c.ssrc, conf,
		packet.WithConfirmKeys(c.algos.hash, c.algos.cipher, zrtpKey, macKey))
}

// Hash chain checks (RFC 6189 Section 9). Each revealed element must hash
// to the one revealed before it, and authenticates the earlier message
// whose MAC it keys.

// checkHelloKey checks a revealed H2 against the peer Hello.
func (c *channel) checkHelloKey(h2 []byte) error {
	hello := c.peer[packet.CategoryHello]
	if hello == nil {
		return fmt.Errorf("%w: no peer Hello", ErrInvalidContext)
	}
	if err := packet.VerifyHashImage(h2, c.peerH[3][:]); err != nil {
		return err
	}
	return packet.VerifyMAC(hello, h2)
}

// checkCommitKey checks a revealed H1 against the peer Commit.
func (c *channel) checkCommitKey(h1 []byte) error {
	commit := c.peer[packet.CategoryCommit]
	if commit == nil {
		return fmt.Errorf("%w: no peer Commit", ErrInvalidContext)
	}
	if err := packet.VerifyHashImage(h1, c.peerH[2][:]); err != nil {
		return err
	}
	return packet.VerifyMAC(commit, h1)
}

// checkDHPartKey checks a revealed H0 against the peer DHPart.
func (c *channel) checkDHPartKey(h0 []byte) error {
	dh := c.peer[packet.CategoryDHPart]
	if dh == nil {
		return fmt.Errorf("%w: no peer DHPart", ErrInvalidContext)
	}
	if err := packet.VerifyHashImage(h0, c.peerH[1][:]); err != nil {
		return err
	}
	return packet.VerifyMAC(dh, h0)
}
