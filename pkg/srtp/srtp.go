// Package srtp turns the SRTP secrets negotiated by a ZRTP exchange into
// pion SRTP contexts protecting media in both directions.
//
// ZRTP negotiates the cipher and the authentication tag length separately
// (RFC 6189 Sections 5.1.3 and 5.1.4). They map to the SRTP protection
// profiles of RFC 3711 and RFC 6188:
//
//	AES1 + HS80 -> AES_CM_128_HMAC_SHA1_80
//	AES1 + HS32 -> AES_CM_128_HMAC_SHA1_32
//	AES3 + HS80 -> AES_256_CM_HMAC_SHA1_80
//	AES3 + HS32 -> AES_256_CM_HMAC_SHA1_32
//
// Twofish ciphers have no SRTP profile in pion and are rejected.
package srtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
	pionsrtp "github.com/pion/srtp/v3"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/zrtp"
)

var (
	// ErrUnsupportedProfile is returned when the negotiated cipher and
	// auth tag have no SRTP protection profile.
	ErrUnsupportedProfile = errors.New("srtp: unsupported protection profile")

	// ErrMissingKeys is returned when the secrets do not carry both
	// directions.
	ErrMissingKeys = errors.New("srtp: missing keys")
)

// Profile returns the SRTP protection profile of a negotiated cipher and
// auth tag.
func Profile(cipher, authTag crypto.Algo) (pionsrtp.ProtectionProfile, error) {
	switch {
	case cipher == crypto.CipherAES1 && authTag == crypto.AuthTagHS80:
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case cipher == crypto.CipherAES1 && authTag == crypto.AuthTagHS32:
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case cipher == crypto.CipherAES3 && authTag == crypto.AuthTagHS80:
		return pionsrtp.ProtectionProfileAes256CmHmacSha1_80, nil
	case cipher == crypto.CipherAES3 && authTag == crypto.AuthTagHS32:
		return pionsrtp.ProtectionProfileAes256CmHmacSha1_32, nil
	}
	return 0, fmt.Errorf("%w: %s/%s", ErrUnsupportedProfile, cipher, authTag)
}

// Session protects outbound media with the self keys and unprotects
// inbound media with the peer keys. A Session is not safe for concurrent
// use in the same direction.
type Session struct {
	profile pionsrtp.ProtectionProfile
	local   *pionsrtp.Context
	remote  *pionsrtp.Context
}

// NewSession creates the SRTP contexts of both directions.
func NewSession(secrets *zrtp.SRTPSecrets) (*Session, error) {
	if secrets == nil || secrets.SelfKey == nil || secrets.PeerKey == nil {
		return nil, ErrMissingKeys
	}
	profile, err := Profile(secrets.Cipher, secrets.AuthTag)
	if err != nil {
		return nil, err
	}

	local, err := pionsrtp.CreateContext(secrets.SelfKey, secrets.SelfSalt, profile)
	if err != nil {
		return nil, fmt.Errorf("srtp: create outbound context: %w", err)
	}
	remote, err := pionsrtp.CreateContext(secrets.PeerKey, secrets.PeerSalt, profile)
	if err != nil {
		return nil, fmt.Errorf("srtp: create inbound context: %w", err)
	}
	return &Session{profile: profile, local: local, remote: remote}, nil
}

// Profile returns the protection profile of the session.
func (s *Session) Profile() pionsrtp.ProtectionProfile { return s.profile }

// EncryptRTP marshals and protects an RTP packet.
func (s *Session) EncryptRTP(pkt *rtp.Packet) ([]byte, error) {
	plain, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return s.local.EncryptRTP(nil, plain, &pkt.Header)
}

// DecryptRTP unprotects and parses an SRTP packet.
func (s *Session) DecryptRTP(data []byte) (*rtp.Packet, error) {
	plain, err := s.remote.DecryptRTP(nil, data, nil)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plain); err != nil {
		return nil, err
	}
	return pkt, nil
}

// EncryptRTCP protects a marshaled RTCP compound packet.
func (s *Session) EncryptRTCP(data []byte) ([]byte, error) {
	return s.local.EncryptRTCP(nil, data, nil)
}

// DecryptRTCP unprotects an SRTCP packet.
func (s *Session) DecryptRTCP(data []byte) ([]byte, error) {
	return s.remote.DecryptRTCP(nil, data, nil)
}
