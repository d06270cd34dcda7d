package zrtp

import (
	"fmt"
	"io"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// secretIDs are the identifiers of the cached secrets one role announces in
// its DHPart (RFC 6189 Section 4.3.1).
type secretIDs struct {
	rs1 [packet.SecretIDLength]byte
	rs2 [packet.SecretIDLength]byte
	pbx [packet.SecretIDLength]byte
}

// loadSecrets fetches the secrets cached for the peer, once per session.
// The auxiliary secret is the cached one followed by the transient one.
func (s *Session) loadSecrets() error {
	if s.secrets != nil {
		return nil
	}
	secrets, err := s.store.GetSecrets(s.peerZID)
	if err != nil {
		return fmt.Errorf("zrtp: load cached secrets: %w", err)
	}
	s.secrets = secrets
	if len(secrets.Aux) > 0 || len(s.transientAux) > 0 {
		s.aux = append(append([]byte(nil), secrets.Aux...), s.transientAux...)
	}
	return nil
}

// computeSecretIDs computes the rs1, rs2 and pbx identifiers of both roles
// once per session, and the auxiliary secret identifiers of the channel:
//
//	rs1IDi = MAC(rs1, "Initiator"), rs1IDr = MAC(rs1, "Responder")
//	auxsecretIDi = MAC(auxsecret, H3 of the initiator)
//
// truncated to 64 bits. An absent secret gets random identifiers so that it
// never matches.
func (s *Session) computeSecretIDs(c *channel) error {
	h := c.algos.hash
	if !s.idsComputed {
		secrets := []struct {
			secret    []byte
			initiator *[packet.SecretIDLength]byte
			responder *[packet.SecretIDLength]byte
		}{
			{s.secrets.RS1, &s.initiatorIDs.rs1, &s.responderIDs.rs1},
			{s.secrets.RS2, &s.initiatorIDs.rs2, &s.responderIDs.rs2},
			{s.secrets.PBX, &s.initiatorIDs.pbx, &s.responderIDs.pbx},
		}
		for _, sc := range secrets {
			if err := s.secretID(h, sc.secret, []byte(crypto.LabelInitiatorSecretID), sc.initiator); err != nil {
				return err
			}
			if err := s.secretID(h, sc.secret, []byte(crypto.LabelResponderSecretID), sc.responder); err != nil {
				return err
			}
		}
		s.idsComputed = true
	}

	if err := s.secretID(h, s.aux, c.selfH[3][:], &c.selfAuxID); err != nil {
		return err
	}
	return s.secretID(h, s.aux, c.peerH[3][:], &c.peerAuxID)
}

func (s *Session) secretID(h crypto.Algo, secret, msg []byte, out *[packet.SecretIDLength]byte) error {
	if secret == nil {
		_, err := io.ReadFull(s.rand, out[:])
		return err
	}
	id, err := crypto.HMAC(h, secret, packet.SecretIDLength, msg)
	if err != nil {
		return err
	}
	copy(out[:], id)
	return nil
}

// initiatorProbeSecrets matches our cached secrets against the identifiers
// of the responder DHPart1. A retained secret matches when our responder
// identifier equals either identifier the peer sent; unmatched secrets are
// dropped before s0 is computed.
//
// The probing order is part of the protocol: both sides must settle on the
// same secret.
func (s *Session) initiatorProbeSecrets(c *channel, dh *packet.DHPart) {
	mismatch := false
	if s.secrets.RS1 != nil && s.responderIDs.rs1 != dh.RS1ID && s.responderIDs.rs1 != dh.RS2ID {
		s.dropSecret(&s.secrets.RS1)
		mismatch = true
	}
	if mismatch && s.secrets.RS2 != nil {
		if s.responderIDs.rs2 == dh.RS1ID || s.responderIDs.rs2 == dh.RS2ID {
			mismatch = false
		} else {
			s.dropSecret(&s.secrets.RS2)
		}
	}
	s.probeAuxAndPBX(c, dh, s.responderIDs.pbx)
	if mismatch {
		s.reportCacheMismatch(c)
	}
}

// responderProbeSecrets matches our cached secrets against the identifiers
// of the initiator DHPart2, following RFC 6189 Section 4.3.1: rs1 against
// rs1IDi, then rs2 against rs1IDi, then rs1 against rs2IDi, then rs2
// against rs2IDi.
func (s *Session) responderProbeSecrets(c *channel, dh *packet.DHPart) {
	mismatch := false
	matched := false
	if s.secrets.RS1 != nil {
		if s.initiatorIDs.rs1 == dh.RS1ID {
			matched = true
		} else if s.secrets.RS2 != nil && s.initiatorIDs.rs2 == dh.RS1ID {
			matched = true
			s.dropSecret(&s.secrets.RS1)
		}
	}
	if s.secrets.RS1 != nil && !matched && s.initiatorIDs.rs1 != dh.RS2ID {
		s.dropSecret(&s.secrets.RS1)
		if s.secrets.RS2 != nil {
			if s.initiatorIDs.rs2 != dh.RS2ID {
				s.dropSecret(&s.secrets.RS2)
				mismatch = true
			}
		} else {
			mismatch = true
		}
	}
	s.probeAuxAndPBX(c, dh, s.initiatorIDs.pbx)
	if mismatch {
		s.reportCacheMismatch(c)
	}
}

// probeAuxAndPBX drops the auxiliary and PBX secrets when their identifiers
// do not match the peer DHPart. pbxID is our identifier for the peer role.
func (s *Session) probeAuxAndPBX(c *channel, dh *packet.DHPart, pbxID [packet.SecretIDLength]byte) {
	if s.aux != nil {
		if c.peerAuxID != dh.AuxID {
			s.dropSecret(&s.aux)
			c.auxStatus = AuxSecretMismatch
		} else {
			c.auxStatus = AuxSecretMatch
		}
	}
	if s.secrets.PBX != nil && pbxID != dh.PBXID {
		s.dropSecret(&s.secrets.PBX)
	}
}

func (s *Session) dropSecret(secret *[]byte) {
	crypto.Wipe(*secret)
	*secret = nil
}

// reportCacheMismatch clears the previously verified SAS flag and warns the
// application: the SAS must be compared again (RFC 6189 Section 4.3.2).
func (s *Session) reportCacheMismatch(c *channel) {
	s.cacheMismatch = true
	s.secrets.PreviouslyVerifiedSAS = false
	if err := s.store.SetPreviouslyVerifiedSAS(s.peerZID, false); err != nil && s.log != nil {
		s.log.Warnf("clear verified SAS flag of %s: %v", s.peerZID, err)
	}
	if c.log != nil {
		c.log.Warnf("ssrc %d: cache mismatch with peer %s", c.ssrc, s.peerZID)
	}
	s.status(c, StatusLevelError, StatusCacheMismatch, "cached secrets do not match, verify the SAS")
	if s.cb.CacheMismatch != nil {
		s.cb.CacheMismatch(c.ssrc)
	}
}

// previouslyVerified reports the cached verified SAS flag.
func (s *Session) previouslyVerified() bool {
	return s.secrets != nil && s.secrets.PreviouslyVerifiedSAS
}

// updateCachedSecrets derives the new retained secret once the Confirm
// exchange completed, and releases s0. On multistream channels only s0 is
// released. After a cache mismatch the new rs1 is held back until the SAS
// is verified.
func (s *Session) updateCachedSecrets(c *channel) error {
	defer func() {
		crypto.Wipe(c.s0)
		c.s0 = nil
	}()
	if c.algos.keyAgreement == crypto.KeyAgreementMult {
		return nil
	}

	h := c.algos.hash
	if s.exportedKey == nil {
		key, err := crypto.KDF(h, c.s0, crypto.LabelExportedKey, c.kdfContext, c.algos.hashLength())
		if err != nil {
			return err
		}
		s.exportedKey = key
		s.exportHash = h
		s.exportContext = append([]byte(nil), c.kdfContext...)
	}

	rs1, err := crypto.KDF(h, c.s0, crypto.LabelRetainedSecret, c.kdfContext, cache.RetainedSecretLength)
	if err != nil {
		return err
	}
	if s.cacheMismatch {
		crypto.Wipe(s.pendingRS1)
		s.pendingRS1 = rs1
		s.pendingRole = c.role
		return nil
	}
	return s.commitRS1(rs1, c.role)
}

// commitRS1 stores a new retained secret and releases the cached ones.
func (s *Session) commitRS1(rs1 []byte, role Role) error {
	defer crypto.Wipe(rs1)
	if err := s.store.PutRS1(s.peerZID, rs1); err != nil {
		return fmt.Errorf("zrtp: store retained secret: %w", err)
	}
	if s.log != nil {
		s.log.Debugf("retained secret updated for peer %s", s.peerZID)
	}
	if s.secrets != nil {
		s.secrets.Wipe()
	}
	s.dropSecret(&s.aux)

	if s.cb.ContextReadyForExportedKeys != nil {
		s.cb.ContextReadyForExportedKeys(s.peerZID, role)
	}
	return nil
}

// SASVerified records that the user confirmed the SAS with the peer. If the
// exchange had a cache mismatch, the retained secret update held back until
// now is committed.
func (s *Session) SASVerified() error {
	if s.peerZID.IsZero() {
		return ErrContextNotReady
	}
	if s.cacheMismatch {
		s.cacheMismatch = false
		if s.pendingRS1 != nil {
			rs1 := s.pendingRS1
			s.pendingRS1 = nil
			if err := s.commitRS1(rs1, s.pendingRole); err != nil {
				return err
			}
		}
	}
	if s.secrets != nil {
		s.secrets.PreviouslyVerifiedSAS = true
	}
	return s.store.SetPreviouslyVerifiedSAS(s.peerZID, true)
}

// ResetSASVerified clears the verified SAS flag of the peer.
func (s *Session) ResetSASVerified() error {
	if s.peerZID.IsZero() {
		return ErrContextNotReady
	}
	if s.secrets != nil {
		s.secrets.PreviouslyVerifiedSAS = false
	}
	return s.store.SetPreviouslyVerifiedSAS(s.peerZID, false)
}

// SetAuxSecret sets the transient auxiliary secret. It must be called
// before the main channel is started.
func (s *Session) SetAuxSecret(aux []byte) error {
	for _, c := range s.channels {
		if c != nil && c.state != stateIdle {
			return ErrContextNotReady
		}
	}
	crypto.Wipe(s.transientAux)
	s.transientAux = append([]byte(nil), aux...)
	return nil
}

// AuxSecretMismatch reports the auxiliary secret comparison outcome of a
// channel.
func (s *Session) AuxSecretMismatch(ssrc uint32) AuxSecretStatus {
	c := s.channel(ssrc)
	if c == nil {
		return AuxSecretUnset
	}
	return c.auxStatus
}
