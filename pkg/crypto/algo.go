package crypto

import "fmt"

// AlgoType identifies one of the five algorithm families negotiated in a
// ZRTP Hello message (RFC 6189 Section 5.1.2 to 5.1.6).
type AlgoType uint8

// Algorithm families.
const (
	AlgoTypeHash         AlgoType = 0x01
	AlgoTypeCipher       AlgoType = 0x02
	AlgoTypeAuthTag      AlgoType = 0x04
	AlgoTypeKeyAgreement AlgoType = 0x08
	AlgoTypeSAS          AlgoType = 0x10
)

// String returns the family name.
func (t AlgoType) String() string {
	switch t {
	case AlgoTypeHash:
		return "Hash"
	case AlgoTypeCipher:
		return "Cipher"
	case AlgoTypeAuthTag:
		return "AuthTag"
	case AlgoTypeKeyAgreement:
		return "KeyAgreement"
	case AlgoTypeSAS:
		return "SAS"
	default:
		return "Unknown"
	}
}

// Algo is a ZRTP algorithm identifier. The high nibble encodes the family,
// which keeps identifiers unique across families.
type Algo uint8

// AlgoUnset marks a slot without a negotiated algorithm.
const AlgoUnset Algo = 0x00

// Hash algorithms.
const (
	HashS256 Algo = 0x11
	HashS384 Algo = 0x12
	HashS512 Algo = 0x13
	HashN256 Algo = 0x14
	HashN384 Algo = 0x15
)

// Block ciphers.
const (
	CipherAES1 Algo = 0x21
	CipherAES2 Algo = 0x22
	CipherAES3 Algo = 0x23
	Cipher2FS1 Algo = 0x24
	Cipher2FS2 Algo = 0x25
	Cipher2FS3 Algo = 0x26
)

// SRTP authentication tags.
const (
	AuthTagHS32 Algo = 0x31
	AuthTagHS80 Algo = 0x32
	AuthTagSK32 Algo = 0x33
	AuthTagSK64 Algo = 0x34
)

// Key agreement types. The numeric order doubles as a speed ranking:
// a lower value is computed faster.
const (
	KeyAgreementDH2k Algo = 0x41
	KeyAgreementX255 Algo = 0x42
	KeyAgreementEC25 Algo = 0x44
	KeyAgreementX448 Algo = 0x45
	KeyAgreementDH3k Algo = 0x47
	KeyAgreementEC38 Algo = 0x48
	KeyAgreementEC52 Algo = 0x49
	KeyAgreementKYB1 Algo = 0x4a
	KeyAgreementKYB2 Algo = 0x4b
	KeyAgreementKYB3 Algo = 0x4c
	KeyAgreementPrsh Algo = 0x9e
	KeyAgreementMult Algo = 0x9f
)

// SAS rendering schemes.
const (
	SASB32  Algo = 0xa1
	SASB256 Algo = 0xa2
)

// MaxAlgoPerType is the maximum number of algorithms a Hello message can
// advertise per family (a 3-bit count on the wire, with 7 as upper bound).
const MaxAlgoPerType = 7

var algoNames = map[Algo]string{
	HashS256:         "S256",
	HashS384:         "S384",
	HashS512:         "S512",
	HashN256:         "N256",
	HashN384:         "N384",
	CipherAES1:       "AES1",
	CipherAES2:       "AES2",
	CipherAES3:       "AES3",
	Cipher2FS1:       "2FS1",
	Cipher2FS2:       "2FS2",
	Cipher2FS3:       "2FS3",
	AuthTagHS32:      "HS32",
	AuthTagHS80:      "HS80",
	AuthTagSK32:      "SK32",
	AuthTagSK64:      "SK64",
	KeyAgreementDH2k: "DH2k",
	KeyAgreementX255: "X255",
	KeyAgreementEC25: "EC25",
	KeyAgreementX448: "X448",
	KeyAgreementDH3k: "DH3k",
	KeyAgreementEC38: "EC38",
	KeyAgreementEC52: "EC52",
	KeyAgreementKYB1: "KYB1",
	KeyAgreementKYB2: "KYB2",
	KeyAgreementKYB3: "KYB3",
	KeyAgreementPrsh: "Prsh",
	KeyAgreementMult: "Mult",
	SASB32:           "B32 ",
	SASB256:          "B256",
}

// String returns the 4-character wire name of the algorithm.
func (a Algo) String() string {
	if name, ok := algoNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algo(0x%02x)", uint8(a))
}

// Type returns the algorithm family.
func (a Algo) Type() AlgoType {
	switch a >> 4 {
	case 0x1:
		return AlgoTypeHash
	case 0x2:
		return AlgoTypeCipher
	case 0x3:
		return AlgoTypeAuthTag
	case 0x4, 0x9:
		return AlgoTypeKeyAgreement
	case 0xa:
		return AlgoTypeSAS
	default:
		return 0
	}
}

// ParseAlgo maps a 4-character wire name to an algorithm of the given family.
// Unknown names return AlgoUnset and false; a peer may advertise algorithms
// this implementation does not know.
func ParseAlgo(t AlgoType, name []byte) (Algo, bool) {
	if len(name) != 4 {
		return AlgoUnset, false
	}
	for a, n := range algoNames {
		if a.Type() == t && n == string(name) {
			return a, true
		}
	}
	return AlgoUnset, false
}

// IsKEM reports whether the key agreement is a key encapsulation mechanism.
func (a Algo) IsKEM() bool {
	switch a {
	case KeyAgreementKYB1, KeyAgreementKYB2, KeyAgreementKYB3:
		return true
	}
	return false
}

// IsDH reports whether the key agreement performs a fresh exchange
// (finite field DH, ECDH or KEM), as opposed to Prsh and Mult.
func (a Algo) IsDH() bool {
	return a.Type() == AlgoTypeKeyAgreement && a != KeyAgreementPrsh && a != KeyAgreementMult
}

// implemented lists every algorithm this package can run, in default
// preference order. Mult is always last.
var implemented = map[AlgoType][]Algo{
	AlgoTypeHash:    {HashS256, HashS384, HashN256, HashN384},
	AlgoTypeCipher:  {CipherAES1, CipherAES3, Cipher2FS1, Cipher2FS3},
	AlgoTypeAuthTag: {AuthTagHS32, AuthTagHS80},
	AlgoTypeKeyAgreement: {
		KeyAgreementDH3k, KeyAgreementX255, KeyAgreementX448,
		KeyAgreementEC25, KeyAgreementEC38, KeyAgreementEC52,
		KeyAgreementDH2k, KeyAgreementKYB1, KeyAgreementKYB2, KeyAgreementKYB3,
		KeyAgreementPrsh, KeyAgreementMult,
	},
	AlgoTypeSAS: {SASB32, SASB256},
}

// mandatory lists the algorithms RFC 6189 requires every endpoint to offer.
var mandatory = map[AlgoType][]Algo{
	AlgoTypeHash:         {HashS256},
	AlgoTypeCipher:       {CipherAES1},
	AlgoTypeAuthTag:      {AuthTagHS32, AuthTagHS80},
	AlgoTypeKeyAgreement: {KeyAgreementDH3k, KeyAgreementMult},
	AlgoTypeSAS:          {SASB32},
}

// Implemented returns the algorithms of a family this package implements.
func Implemented(t AlgoType) []Algo {
	return append([]Algo(nil), implemented[t]...)
}

// Mandatory returns the mandatory algorithms of a family.
func Mandatory(t AlgoType) []Algo {
	return append([]Algo(nil), mandatory[t]...)
}

// IsImplemented reports whether a is implemented by this package.
func IsImplemented(a Algo) bool {
	for _, b := range implemented[a.Type()] {
		if a == b {
			return true
		}
	}
	return false
}

// HashLength returns the digest length in bytes of a hash algorithm,
// or 0 if unknown.
func HashLength(a Algo) int {
	switch a {
	case HashS256, HashN256:
		return 32
	case HashS384, HashN384:
		return 48
	case HashS512:
		return 64
	}
	return 0
}

// CipherKeyLength returns the key length in bytes of a block cipher,
// or 0 if unknown.
func CipherKeyLength(a Algo) int {
	switch a {
	case CipherAES1, Cipher2FS1:
		return 16
	case CipherAES2, Cipher2FS2:
		return 24
	case CipherAES3, Cipher2FS3:
		return 32
	}
	return 0
}

// KeyAgreementSecretLength returns the length of the DH/ECDH/KEM private
// value to generate for a given cipher, following RFC 6189 Section 5.1.5:
// AES-256 class ciphers get a 512-bit exponent, AES-192 class 384 bits,
// everything else 256 bits.
func KeyAgreementSecretLength(cipher Algo) int {
	switch cipher {
	case CipherAES3, Cipher2FS3:
		return 64
	case CipherAES2, Cipher2FS2:
		return 48
	}
	return 32
}

// KEMNonceSize is the size of the nonce carried by a DHPart2 message in KEM mode.
const KEMNonceSize = 16

// PublicValueRole selects which value a message carries in KEM mode.
type PublicValueRole int

// Public value roles.
const (
	// PublicValueDHPart1 is the responder's value: DH public value or KEM ciphertext.
	PublicValueDHPart1 PublicValueRole = iota
	// PublicValueDHPart2 is the initiator's value: DH public value or KEM nonce.
	PublicValueDHPart2
	// PublicValueCommit is the KEM public key carried by a Commit message.
	PublicValueCommit
)

// PublicValueLength returns the length in bytes of the public value carried
// by a message for the given key agreement. KEM values are padded to a
// multiple of 4 since message lengths are counted in 32-bit words.
func PublicValueLength(a Algo, role PublicValueRole) int {
	switch a {
	case KeyAgreementDH3k:
		return 384
	case KeyAgreementDH2k:
		return 256
	case KeyAgreementX255:
		return 32
	case KeyAgreementX448:
		return 56
	case KeyAgreementEC25:
		return 64
	case KeyAgreementEC38:
		return 96
	case KeyAgreementEC52:
		return 132
	}
	if !a.IsKEM() {
		return 0
	}
	var n int
	switch role {
	case PublicValueCommit:
		n = kemScheme(a).PublicKeySize()
	case PublicValueDHPart1:
		n = kemScheme(a).CiphertextSize()
	default:
		return KEMNonceSize
	}
	return pad4(n)
}

func pad4(n int) int {
	if r := n % 4; r != 0 {
		return n + 4 - r
	}
	return n
}
