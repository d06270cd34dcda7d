package zrtp

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// SRTP master salts are 112 bits (RFC 3711).
const srtpSaltLength = 14

// sasHashLength is the length of the SAS hash (RFC 6189 Section 4.5.2).
const sasHashLength = 32

// zidPair returns the initiator and responder ZIDs of the channel.
func (s *Session) zidPair(c *channel) (zidI, zidR []byte) {
	if c.role == RoleInitiator {
		return s.selfZID[:], s.peerZID[:]
	}
	return s.peerZID[:], s.selfZID[:]
}

// setKDFContext computes KDF_Context = ZIDi || ZIDr || total_hash, with the
// total hash over the given message bytes (RFC 6189 Section 4.4.1.4).
func (s *Session) setKDFContext(c *channel, messages ...[]byte) error {
	totalHash, err := crypto.Hash(c.algos.hash, messages...)
	if err != nil {
		return err
	}
	zidI, zidR := s.zidPair(c)
	crypto.Wipe(c.kdfContext)
	c.kdfContext = make([]byte, 0, len(zidI)+len(zidR)+len(totalHash))
	c.kdfContext = append(c.kdfContext, zidI...)
	c.kdfContext = append(c.kdfContext, zidR...)
	c.kdfContext = append(c.kdfContext, totalHash...)
	return nil
}

// dhMessages returns the messages covered by the total hash in DH mode:
// the responder Hello, the Commit, DHPart1 and DHPart2.
func (c *channel) dhMessages() ([][]byte, error) {
	var hello, commit, dh1, dh2 *packet.Packet
	if c.role == RoleResponder {
		hello, commit = c.self[packet.CategoryHello], c.peer[packet.CategoryCommit]
		dh1, dh2 = c.self[packet.CategoryDHPart], c.peer[packet.CategoryDHPart]
	} else {
		hello, commit = c.peer[packet.CategoryHello], c.self[packet.CategoryCommit]
		dh1, dh2 = c.peer[packet.CategoryDHPart], c.self[packet.CategoryDHPart]
	}
	if hello == nil || commit == nil || dh1 == nil || dh2 == nil {
		return nil, fmt.Errorf("%w: total hash needs Hello, Commit and both DHPart", ErrInvalidContext)
	}
	return [][]byte{hello.MessageBytes(), commit.MessageBytes(), dh1.MessageBytes(), dh2.MessageBytes()}, nil
}

// commitMessages returns the messages covered by the total hash in Prsh and
// Mult modes: the responder Hello and the Commit.
func (c *channel) commitMessages() ([][]byte, error) {
	var hello, commit *packet.Packet
	if c.role == RoleResponder {
		hello, commit = c.self[packet.CategoryHello], c.peer[packet.CategoryCommit]
	} else {
		hello, commit = c.peer[packet.CategoryHello], c.self[packet.CategoryCommit]
	}
	if hello == nil || commit == nil {
		return nil, fmt.Errorf("%w: total hash needs Hello and Commit", ErrInvalidContext)
	}
	return [][]byte{hello.MessageBytes(), commit.MessageBytes()}, nil
}

// sharedSecret computes the DH result from the peer DHPart public value.
// In KEM mode the initiator decapsulates the responder ciphertext and the
// responder uses the secret it encapsulated when turning responder.
func (s *Session) sharedSecret(c *channel, peer *packet.DHPart) ([]byte, error) {
	if c.algos.keyAgreement.IsKEM() {
		if c.role == RoleResponder {
			if s.kemSecret == nil {
				return nil, fmt.Errorf("%w: no encapsulated secret", ErrInvalidContext)
			}
			ss := s.kemSecret
			s.kemSecret = nil
			return ss, nil
		}
		if s.kem == nil {
			return nil, fmt.Errorf("%w: no KEM context", ErrInvalidContext)
		}
		return s.kem.Decapsulate(peer.PublicValue)
	}
	if s.keyAgreement == nil {
		return nil, fmt.Errorf("%w: no key agreement context", ErrInvalidContext)
	}
	return s.keyAgreement.SharedSecret(peer.PublicValue)
}

// computeS0DH derives s0 from the DH result and the cached secrets that
// survived probing (RFC 6189 Section 4.4.1.4):
//
//	s0 = hash(counter || DHResult || "ZRTP-HMAC-KDF" || ZIDi || ZIDr ||
//	          total_hash || len(s1) || s1 || len(s2) || s2 || len(s3) || s3)
//
// It then derives the session key, if not done yet, and the Confirm keys.
// The DH result and the key agreement context are erased.
func (s *Session) computeS0DH(c *channel, dhResult []byte) error {
	defer crypto.Wipe(dhResult)
	defer s.destroyKeyAgreement()

	msgs, err := c.dhMessages()
	if err != nil {
		return err
	}
	if err := s.setKDFContext(c, msgs...); err != nil {
		return err
	}

	s1 := s.secrets.RS1
	if s1 == nil {
		s1 = s.secrets.RS2
	}
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	s0, err := crypto.Hash(c.algos.hash,
		counter[:], dhResult, []byte(crypto.LabelS0), c.kdfContext,
		lengthPrefix(s1), s1,
		lengthPrefix(s.aux), s.aux,
		lengthPrefix(s.secrets.PBX), s.secrets.PBX,
	)
	if err != nil {
		return err
	}
	c.s0 = s0

	if err := s.deriveSessionKey(c); err != nil {
		return err
	}
	return s.deriveKeys(c)
}

// computeS0Mult derives s0 of a multistream channel from the session key
// (RFC 6189 Section 4.4.3.2).
func (s *Session) computeS0Mult(c *channel) error {
	if s.zrtpSess == nil {
		return fmt.Errorf("%w: no session key for multistream", ErrInvalidContext)
	}
	msgs, err := c.commitMessages()
	if err != nil {
		return err
	}
	if err := s.setKDFContext(c, msgs...); err != nil {
		return err
	}
	s0, err := crypto.KDF(c.algos.hash, s.zrtpSess, crypto.LabelMultiStream, c.kdfContext, c.algos.hashLength())
	if err != nil {
		return err
	}
	c.s0 = s0
	return s.deriveKeys(c)
}

// computeS0Prsh derives s0 in preshared mode (RFC 6189 Section 4.4.2):
//
//	s0 = KDF(preshared_key, "ZRTP PSK", KDF_Context, negotiated hash length)
//
// The responder checks the keyID of the peer Commit first.
func (s *Session) computeS0Prsh(c *channel) error {
	pk, err := s.presharedKey(c)
	if err != nil {
		return err
	}
	defer crypto.Wipe(pk)

	if c.role == RoleResponder {
		commit := c.peerCommit()
		if commit == nil {
			return fmt.Errorf("%w: no peer Commit", ErrInvalidContext)
		}
		keyID, err := crypto.HMAC(c.algos.hash, pk, packet.KeyIDLength, []byte(crypto.LabelPresharedKeyID))
		if err != nil {
			return err
		}
		if !crypto.HMACEqual(keyID, commit.KeyID[:]) {
			return ErrNoSharedSecret
		}
	}

	msgs, err := c.commitMessages()
	if err != nil {
		return err
	}
	if err := s.setKDFContext(c, msgs...); err != nil {
		return err
	}
	s0, err := crypto.KDF(c.algos.hash, pk, crypto.LabelS0Preshared, c.kdfContext, c.algos.hashLength())
	if err != nil {
		return err
	}
	c.s0 = s0

	if err := s.deriveSessionKey(c); err != nil {
		return err
	}
	return s.deriveKeys(c)
}

// presharedKey computes
//
//	preshared_key = hash(len(rs1) || rs1 || len(auxsecret) || auxsecret ||
//	                     len(pbxsecret) || pbxsecret)
//
// with 32-bit lengths. It needs a retained secret.
func (s *Session) presharedKey(c *channel) ([]byte, error) {
	if s.secrets == nil || s.secrets.RS1 == nil {
		return nil, ErrNoSharedSecret
	}
	return crypto.Hash(c.algos.hash,
		lengthPrefix(s.secrets.RS1), s.secrets.RS1,
		lengthPrefix(s.aux), s.aux,
		lengthPrefix(s.secrets.PBX), s.secrets.PBX,
	)
}

func lengthPrefix(b []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	return l[:]
}

// deriveSessionKey computes ZRTPSess once per session, from the first
// channel that runs a DH or preshared exchange.
func (s *Session) deriveSessionKey(c *channel) error {
	if s.zrtpSess != nil {
		return nil
	}
	key, err := crypto.KDF(c.algos.hash, c.s0, crypto.LabelSessionKey, c.kdfContext, c.algos.hashLength())
	if err != nil {
		return err
	}
	s.zrtpSess = key
	return nil
}

// deriveKeys derives the keys protecting the Confirm messages
// (RFC 6189 Section 4.5.3).
func (s *Session) deriveKeys(c *channel) error {
	h, ctx := c.algos.hash, c.kdfContext
	var err error
	if c.mackeyI, err = crypto.KDF(h, c.s0, crypto.LabelInitiatorHMACKey, ctx, c.algos.hashLength()); err != nil {
		return err
	}
	if c.mackeyR, err = crypto.KDF(h, c.s0, crypto.LabelResponderHMACKey, ctx, c.algos.hashLength()); err != nil {
		return err
	}
	if c.zrtpkeyI, err = crypto.KDF(h, c.s0, crypto.LabelInitiatorZRTPKey, ctx, c.algos.cipherKeyLength()); err != nil {
		return err
	}
	if c.zrtpkeyR, err = crypto.KDF(h, c.s0, crypto.LabelResponderZRTPKey, ctx, c.algos.cipherKeyLength()); err != nil {
		return err
	}
	return nil
}

// deriveSrtpKeys derives the SRTP master keys and salts and, except on
// multistream channels, the SAS (RFC 6189 Sections 4.5.3 and 7).
func (s *Session) deriveSrtpKeys(c *channel) error {
	if c.s0 == nil {
		return fmt.Errorf("%w: s0 released", ErrInvalidContext)
	}
	h, ctx := c.algos.hash, c.kdfContext
	keyLen := c.algos.cipherKeyLength()

	derive := func(label string, n int) ([]byte, error) {
		return crypto.KDF(h, c.s0, label, ctx, n)
	}
	keyI, err := derive(crypto.LabelInitiatorSRTPKey, keyLen)
	if err != nil {
		return err
	}
	saltI, err := derive(crypto.LabelInitiatorSRTPSalt, srtpSaltLength)
	if err != nil {
		return err
	}
	keyR, err := derive(crypto.LabelResponderSRTPKey, keyLen)
	if err != nil {
		return err
	}
	saltR, err := derive(crypto.LabelResponderSRTPSalt, srtpSaltLength)
	if err != nil {
		return err
	}

	secrets := &SRTPSecrets{
		Cipher:        c.algos.cipher,
		AuthTag:       c.algos.authTag,
		Hash:          c.algos.hash,
		KeyAgreement:  c.algos.keyAgreement,
		SASAlgo:       c.algos.sas,
		CacheMismatch: s.cacheMismatch,
		AuxSecret:     c.auxStatus,
	}
	if c.role == RoleInitiator {
		secrets.SelfKey, secrets.SelfSalt, secrets.PeerKey, secrets.PeerSalt = keyI, saltI, keyR, saltR
	} else {
		secrets.SelfKey, secrets.SelfSalt, secrets.PeerKey, secrets.PeerSalt = keyR, saltR, keyI, saltI
	}

	if c.algos.keyAgreement != crypto.KeyAgreementMult {
		sasHash, err := derive(crypto.LabelSAS, sasHashLength)
		if err != nil {
			return err
		}
		sas, err := crypto.RenderSAS(c.algos.sas, crypto.SASValue(sasHash))
		crypto.Wipe(sasHash)
		if err != nil {
			return err
		}
		secrets.SAS = sas
	}

	if c.srtp != nil {
		c.srtp.Wipe()
	}
	c.srtp = secrets
	return nil
}

// ExportKey derives a key for another protocol from the exported key of
// the session (RFC 6189 Section 4.5.2):
//
//	KDF(ExportedKey, label, KDF_Context, length)
//
// length is capped to the negotiated hash length. After a cache mismatch
// the key is withheld with ErrCacheMismatch until SASVerified.
func (s *Session) ExportKey(label string, length int) ([]byte, error) {
	if s.exportedKey == nil {
		return nil, ErrExportNotAvailable
	}
	if s.cacheMismatch {
		return nil, ErrCacheMismatch
	}
	if hl := crypto.HashLength(s.exportHash); length > hl {
		length = hl
	}
	return crypto.KDF(s.exportHash, s.exportedKey, label, s.exportContext, length)
}
