package crypto

import (
	"crypto/ecdh"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/dh/x448"
	"golang.org/x/crypto/curve25519"
)

// KeyAgreement is a Diffie-Hellman style key agreement context. It holds the
// private value from creation until Destroy, and must be destroyed as soon as
// the shared secret has been computed.
type KeyAgreement interface {
	// Algo returns the key agreement type.
	Algo() Algo
	// PublicValue returns the public value as carried in DHPart messages.
	PublicValue() []byte
	// SharedSecret computes the shared secret from the peer public value.
	SharedSecret(peerPublic []byte) ([]byte, error)
	// Destroy erases the private value.
	Destroy()
}

// NewKeyAgreement generates a fresh key pair for a DH or ECDH key agreement.
// secretLen is the private exponent length used by finite field groups
// (see KeyAgreementSecretLength); elliptic curves ignore it.
// KEM key agreements are created with NewKEM instead.
func NewKeyAgreement(a Algo, secretLen int, rand io.Reader) (KeyAgreement, error) {
	switch a {
	case KeyAgreementDH2k:
		return newFiniteFieldDH(a, rfc3526Group14, secretLen, rand)
	case KeyAgreementDH3k:
		return newFiniteFieldDH(a, rfc3526Group15, secretLen, rand)
	case KeyAgreementEC25:
		return newECDH(a, ecdh.P256(), rand)
	case KeyAgreementEC38:
		return newECDH(a, ecdh.P384(), rand)
	case KeyAgreementEC52:
		return newECDH(a, ecdh.P521(), rand)
	case KeyAgreementX255:
		return newX25519(rand)
	case KeyAgreementX448:
		return newX448(rand)
	default:
		return nil, fmt.Errorf("%w: key agreement %s", ErrUnsupportedAlgo, a)
	}
}

// RFC 3526 MODP groups, generator 2.
var (
	rfc3526Group14 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AACAA68FFFFFFFFFFFFFFFF")

	rfc3526Group15 = mustPrime("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
		"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
		"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
		"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
		"43DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF")

	dhGenerator = big.NewInt(2)
)

func mustPrime(s string) *big.Int {
	p, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("crypto: bad prime constant")
	}
	return p
}

type finiteFieldDH struct {
	algo   Algo
	p      *big.Int
	priv   *big.Int
	public []byte
}

func newFiniteFieldDH(a Algo, p *big.Int, secretLen int, rand io.Reader) (*finiteFieldDH, error) {
	if secretLen <= 0 {
		secretLen = 32
	}
	buf := make([]byte, secretLen)
	defer Wipe(buf)
	if _, err := io.ReadFull(rand, buf); err != nil {
		return nil, fmt.Errorf("crypto: read DH secret: %w", err)
	}
	priv := new(big.Int).SetBytes(buf)
	if priv.Cmp(big.NewInt(1)) <= 0 {
		priv.SetInt64(2)
	}
	pub := new(big.Int).Exp(dhGenerator, priv, p)

	return &finiteFieldDH{
		algo:   a,
		p:      p,
		priv:   priv,
		public: pub.FillBytes(make([]byte, PublicValueLength(a, PublicValueDHPart1))),
	}, nil
}

func (d *finiteFieldDH) Algo() Algo          { return d.algo }
func (d *finiteFieldDH) PublicValue() []byte { return d.public }

// SharedSecret rejects peer values outside (1, p-1) as required by
// RFC 6189 Section 4.4.1.4.
func (d *finiteFieldDH) SharedSecret(peerPublic []byte) ([]byte, error) {
	if d.priv == nil {
		return nil, ErrKeyAgreementDestroyed
	}
	y := new(big.Int).SetBytes(peerPublic)
	pMinus1 := new(big.Int).Sub(d.p, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(pMinus1) >= 0 {
		return nil, ErrInvalidPublicValue
	}
	s := new(big.Int).Exp(y, d.priv, d.p)
	return s.FillBytes(make([]byte, len(d.public))), nil
}

func (d *finiteFieldDH) Destroy() {
	if d.priv != nil {
		d.priv.SetInt64(0)
		d.priv = nil
	}
}

// ecdhKA implements EC25, EC38 and EC52. ZRTP carries the point as X || Y
// without the SEC1 0x04 prefix and uses the X coordinate as shared secret.
type ecdhKA struct {
	algo  Algo
	curve ecdh.Curve
	priv  *ecdh.PrivateKey
}

// maxScalarDraws bounds the rejection sampling of an ECDH scalar. A draw
// is out of range with probability below 2^-32 on every supported curve.
const maxScalarDraws = 16

// newECDH draws the private scalar from rand itself instead of calling
// ecdh.Curve.GenerateKey, which may consume a random extra byte: the key
// must be a function of the reader only. Out of range draws are retried.
func newECDH(a Algo, curve ecdh.Curve, rand io.Reader) (*ecdhKA, error) {
	size, topMask := ecdhScalarShape(a)
	scalar := make([]byte, size)
	defer Wipe(scalar)
	for i := 0; i < maxScalarDraws; i++ {
		if _, err := io.ReadFull(rand, scalar); err != nil {
			return nil, fmt.Errorf("crypto: read %s secret: %w", a, err)
		}
		scalar[0] &= topMask
		if ka, err := newECDHFromPrivate(a, curve, scalar); err == nil {
			return ka, nil
		}
	}
	return nil, fmt.Errorf("crypto: generate %s key: no scalar in range after %d draws", a, maxScalarDraws)
}

// ecdhScalarShape returns the private scalar length of a NIST curve and the
// mask clearing the bits of the first byte above the order.
func ecdhScalarShape(a Algo) (size int, topMask byte) {
	switch a {
	case KeyAgreementEC38:
		return 48, 0xff
	case KeyAgreementEC52:
		return 66, 0x01
	default:
		return 32, 0xff
	}
}

func newECDHFromPrivate(a Algo, curve ecdh.Curve, key []byte) (*ecdhKA, error) {
	priv, err := curve.NewPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &ecdhKA{algo: a, curve: curve, priv: priv}, nil
}

func (e *ecdhKA) Algo() Algo { return e.algo }

func (e *ecdhKA) PublicValue() []byte {
	return e.priv.PublicKey().Bytes()[1:]
}

func (e *ecdhKA) SharedSecret(peerPublic []byte) ([]byte, error) {
	if e.priv == nil {
		return nil, ErrKeyAgreementDestroyed
	}
	if len(peerPublic) != PublicValueLength(e.algo, PublicValueDHPart1) {
		return nil, ErrInvalidPublicValue
	}
	pub, err := e.curve.NewPublicKey(append([]byte{0x04}, peerPublic...))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicValue, err)
	}
	return e.priv.ECDH(pub)
}

func (e *ecdhKA) Destroy() { e.priv = nil }

type x25519KA struct {
	priv   []byte
	public []byte
}

func newX25519(rand io.Reader) (*x25519KA, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand, priv); err != nil {
		return nil, fmt.Errorf("crypto: read X25519 secret: %w", err)
	}
	return newX25519FromPrivate(priv)
}

func newX25519FromPrivate(priv []byte) (*x25519KA, error) {
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &x25519KA{priv: priv, public: pub}, nil
}

func (x *x25519KA) Algo() Algo          { return KeyAgreementX255 }
func (x *x25519KA) PublicValue() []byte { return x.public }

func (x *x25519KA) SharedSecret(peerPublic []byte) ([]byte, error) {
	if x.priv == nil {
		return nil, ErrKeyAgreementDestroyed
	}
	s, err := curve25519.X25519(x.priv, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicValue, err)
	}
	return s, nil
}

func (x *x25519KA) Destroy() {
	Wipe(x.priv)
	x.priv = nil
}

type x448KA struct {
	priv   x448.Key
	public x448.Key
	alive  bool
}

func newX448(rand io.Reader) (*x448KA, error) {
	k := &x448KA{alive: true}
	if _, err := io.ReadFull(rand, k.priv[:]); err != nil {
		return nil, fmt.Errorf("crypto: read X448 secret: %w", err)
	}
	x448.KeyGen(&k.public, &k.priv)
	return k, nil
}

func (x *x448KA) Algo() Algo          { return KeyAgreementX448 }
func (x *x448KA) PublicValue() []byte { return append([]byte(nil), x.public[:]...) }

func (x *x448KA) SharedSecret(peerPublic []byte) ([]byte, error) {
	if !x.alive {
		return nil, ErrKeyAgreementDestroyed
	}
	if len(peerPublic) != x448.Size {
		return nil, ErrInvalidPublicValue
	}
	var peer, shared x448.Key
	copy(peer[:], peerPublic)
	if !x448.Shared(&shared, &x.priv, &peer) {
		return nil, ErrInvalidPublicValue
	}
	return shared[:], nil
}

func (x *x448KA) Destroy() {
	Wipe(x.priv[:])
	x.alive = false
}
