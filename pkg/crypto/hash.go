// Package crypto provides the cryptographic capabilities consumed by the ZRTP
// engine: algorithm identifiers, hashes, HMAC, the ZRTP KDF, CFB block
// ciphers, DH/ECDH/KEM key agreement, SAS rendering and the packet CRC.
//
// Everything here is stateless except the key agreement contexts, which hold
// private values until Destroy is called.
package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// SHA-256 constants. The hash chain H0..H3 and the MACs protecting Hello,
// Commit and DHPart messages always use SHA-256, whatever hash was negotiated.
const (
	// SHA256LenBytes is the SHA-256 output length in bytes.
	SHA256LenBytes = 32
)

// SHA256 computes the SHA-256 hash of a message.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}

// SHA256Slice computes the SHA-256 hash and returns it as a slice.
func SHA256Slice(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

// NewHash returns the constructor of a negotiated ZRTP hash algorithm.
//
// N256 and N384 are the SHA-3 (Keccak, FIPS 202) variants registered for
// ZRTP; S512 is accepted for completeness but never advertised.
func NewHash(a Algo) (func() hash.Hash, error) {
	switch a {
	case HashS256:
		return sha256.New, nil
	case HashS384:
		return sha512.New384, nil
	case HashS512:
		return sha512.New, nil
	case HashN256:
		return sha3.New256, nil
	case HashN384:
		return sha3.New384, nil
	default:
		return nil, fmt.Errorf("%w: hash %s", ErrUnsupportedAlgo, a)
	}
}

// Hash computes the digest of the concatenation of the given parts with the
// negotiated hash algorithm.
//
// Usage:
//
//	totalHash, err := crypto.Hash(crypto.HashS256, hello, commit, dhPart1, dhPart2)
func Hash(a Algo, parts ...[]byte) ([]byte, error) {
	newHash, err := NewHash(a)
	if err != nil {
		return nil, err
	}
	h := newHash()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}
