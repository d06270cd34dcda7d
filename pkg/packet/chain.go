package packet

import (
	"crypto/subtle"

	"github.com/backkem/zrtp/pkg/crypto"
)

// The hash chain of RFC 6189 Section 9 links the messages of one exchange:
// H1 = SHA256(H0), H2 = SHA256(H1), H3 = SHA256(H2). Each message reveals
// the preimage of the image sent before it and is authenticated with a MAC
// keyed by the next revealed element. The chain always uses SHA-256,
// whatever hash was negotiated.

// HashImage returns SHA256(preimage).
func HashImage(preimage []byte) [HashImageLength]byte {
	return crypto.SHA256(preimage)
}

// VerifyHashImage checks that SHA256(preimage) equals image.
func VerifyHashImage(preimage, image []byte) error {
	h := crypto.SHA256(preimage)
	if subtle.ConstantTimeCompare(h[:], image) != 1 {
		return ErrUnmatchingHashChain
	}
	return nil
}

// VerifyMAC checks the trailing MAC of a Hello, Commit or DHPart packet
// against the revealed hash chain element key.
func VerifyMAC(p *Packet, key []byte) error {
	covered, mac, ok := p.macTrailer()
	if !ok {
		return ErrInvalidMessage
	}
	if !crypto.HMACEqual(crypto.HMACSHA256(key, covered, MACLength), mac) {
		return ErrUnmatchingMAC
	}
	return nil
}
