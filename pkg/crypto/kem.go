package crypto

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// In KEM mode the initiator sends its public key in the Commit message, the
// responder encapsulates a shared secret to it and returns the ciphertext in
// DHPart1, and the initiator answers with a random nonce in DHPart2.

func kemScheme(a Algo) kem.Scheme {
	switch a {
	case KeyAgreementKYB1:
		return kyber512.Scheme()
	case KeyAgreementKYB2:
		return kyber768.Scheme()
	case KeyAgreementKYB3:
		return kyber1024.Scheme()
	}
	return nil
}

// KEM is the initiator side of a KEM key agreement.
type KEM struct {
	algo   Algo
	scheme kem.Scheme
	sk     kem.PrivateKey
	public []byte
}

// NewKEM derives a key pair from randomness read from rand.
func NewKEM(a Algo, rand io.Reader) (*KEM, error) {
	scheme := kemScheme(a)
	if scheme == nil {
		return nil, fmt.Errorf("%w: KEM %s", ErrUnsupportedAlgo, a)
	}
	seed := make([]byte, scheme.SeedSize())
	defer Wipe(seed)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, fmt.Errorf("crypto: read KEM seed: %w", err)
	}
	pk, sk := scheme.DeriveKeyPair(seed)
	raw, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	public := make([]byte, PublicValueLength(a, PublicValueCommit))
	copy(public, raw)
	return &KEM{algo: a, scheme: scheme, sk: sk, public: public}, nil
}

// Algo returns the KEM type.
func (k *KEM) Algo() Algo { return k.algo }

// PublicKey returns the encoded public key, zero padded to a 4-byte boundary.
func (k *KEM) PublicKey() []byte { return k.public }

// Decapsulate recovers the shared secret from a (possibly padded) ciphertext.
func (k *KEM) Decapsulate(ciphertext []byte) ([]byte, error) {
	if k.sk == nil {
		return nil, ErrKeyAgreementDestroyed
	}
	n := k.scheme.CiphertextSize()
	if len(ciphertext) < n {
		return nil, ErrInvalidPublicValue
	}
	return k.scheme.Decapsulate(k.sk, ciphertext[:n])
}

// Destroy drops the private key.
func (k *KEM) Destroy() { k.sk = nil }

// KEMEncapsulate is the responder side of a KEM key agreement: it
// encapsulates a fresh shared secret to the initiator public key. The
// returned ciphertext is zero padded to a 4-byte boundary.
func KEMEncapsulate(a Algo, peerPublic []byte, rand io.Reader) (ciphertext, sharedSecret []byte, err error) {
	scheme := kemScheme(a)
	if scheme == nil {
		return nil, nil, fmt.Errorf("%w: KEM %s", ErrUnsupportedAlgo, a)
	}
	n := scheme.PublicKeySize()
	if len(peerPublic) < n {
		return nil, nil, ErrInvalidPublicValue
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(peerPublic[:n])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicValue, err)
	}
	seed := make([]byte, scheme.EncapsulationSeedSize())
	defer Wipe(seed)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, fmt.Errorf("crypto: read KEM seed: %w", err)
	}
	ct, ss, err := scheme.EncapsulateDeterministically(pk, seed)
	if err != nil {
		return nil, nil, err
	}
	padded := make([]byte, PublicValueLength(a, PublicValueDHPart1))
	copy(padded, ct)
	return padded, ss, nil
}
