// Package cache implements the ZRTP secret cache of RFC 6189 Section 4.9:
// the durable store of retained secrets and trust flags kept per peer ZID,
// and the endpoint's own ZID.
package cache

import (
	"encoding/hex"
	"io"

	"github.com/backkem/zrtp/pkg/crypto"
)

// ZIDLength is the size of a ZRTP identifier.
const ZIDLength = 12

// RetainedSecretLength is the size of rs1 and rs2.
const RetainedSecretLength = 32

// ZID is a ZRTP endpoint identifier.
type ZID [ZIDLength]byte

// String returns the ZID in hex.
func (z ZID) String() string {
	return hex.EncodeToString(z[:])
}

// IsZero reports whether the ZID is unset.
func (z ZID) IsZero() bool {
	return z == ZID{}
}

// NewZID draws a random ZID from rand.
func NewZID(rand io.Reader) (ZID, error) {
	var z ZID
	_, err := io.ReadFull(rand, z[:])
	return z, err
}

// ParseZID parses a hex encoded ZID.
func ParseZID(s string) (ZID, error) {
	var z ZID
	b, err := hex.DecodeString(s)
	if err != nil {
		return z, err
	}
	if len(b) != ZIDLength {
		return z, ErrInvalidZID
	}
	copy(z[:], b)
	return z, nil
}

// Secrets are the cached secrets shared with one peer.
// Nil fields are absent secrets.
type Secrets struct {
	// RS1 is the most recent retained secret.
	RS1 []byte
	// RS2 is the retained secret RS1 replaced.
	RS2 []byte
	// Aux is a long term auxiliary secret.
	Aux []byte
	// PBX is the trusted MiTM secret.
	PBX []byte

	// PreviouslyVerifiedSAS is set once the user confirmed the SAS with
	// this peer, and cleared on cache mismatch.
	PreviouslyVerifiedSAS bool
}

// Clone returns a deep copy of the secrets.
func (s *Secrets) Clone() *Secrets {
	return &Secrets{
		RS1:                   cloneBytes(s.RS1),
		RS2:                   cloneBytes(s.RS2),
		Aux:                   cloneBytes(s.Aux),
		PBX:                   cloneBytes(s.PBX),
		PreviouslyVerifiedSAS: s.PreviouslyVerifiedSAS,
	}
}

// Wipe zeroes every secret buffer and drops the references.
func (s *Secrets) Wipe() {
	crypto.Wipe(s.RS1, s.RS2, s.Aux, s.PBX)
	s.RS1, s.RS2, s.Aux, s.PBX = nil, nil, nil, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Store is the secret cache consumed by the ZRTP engine.
//
// Implementations must be safe for concurrent use. PutRS1 must be atomic
// per peer: reading the current rs1, demoting it to rs2 and writing the
// new rs1 happen as one step.
type Store interface {
	// SelfZID returns this endpoint's ZID, generating and persisting it
	// on first use.
	SelfZID() (ZID, error)

	// GetSecrets returns a copy of the secrets cached for peer. An unknown
	// peer yields empty secrets and no error.
	GetSecrets(peer ZID) (*Secrets, error)

	// PutRS1 stores a new retained secret for peer, moving the current rs1
	// to rs2.
	PutRS1(peer ZID, rs1 []byte) error

	// SetPreviouslyVerifiedSAS sets or clears the verified SAS flag of peer.
	SetPreviouslyVerifiedSAS(peer ZID, verified bool) error
}
