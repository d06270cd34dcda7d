package crypto

import (
	"encoding/binary"
	"fmt"
)

// KDF labels from RFC 6189 Section 4.5.
const (
	LabelS0Preshared       = "ZRTP PSK"
	LabelMultiStream       = "ZRTP MSK"
	LabelSessionKey        = "ZRTP Session Key"
	LabelInitiatorHMACKey  = "Initiator HMAC key"
	LabelResponderHMACKey  = "Responder HMAC key"
	LabelInitiatorZRTPKey  = "Initiator ZRTP key"
	LabelResponderZRTPKey  = "Responder ZRTP key"
	LabelInitiatorSRTPKey  = "Initiator SRTP master key"
	LabelResponderSRTPKey  = "Responder SRTP master key"
	LabelInitiatorSRTPSalt = "Initiator SRTP master salt"
	LabelResponderSRTPSalt = "Responder SRTP master salt"
	LabelSAS               = "SAS"
	LabelRetainedSecret    = "retained secret"
	LabelExportedKey       = "Exported key"
	LabelS0                = "ZRTP-HMAC-KDF"
	LabelPresharedKeyID    = "Prsh"
	LabelInitiatorSecretID = "Initiator"
	LabelResponderSecretID = "Responder"
)

// KDF implements the ZRTP key derivation function of RFC 6189 Section 4.5.1:
//
//	KDF(KI, Label, Context, L) = HMAC(KI, i || Label || 0x00 || Context || L)
//
// where i is the 32-bit big-endian counter fixed to 1 and L the output length
// in bits as a 32-bit big-endian integer. A single HMAC round is computed, so
// length must not exceed the digest size of the negotiated hash.
func KDF(a Algo, key []byte, label string, context []byte, length int) ([]byte, error) {
	if hl := HashLength(a); length <= 0 || length > hl {
		return nil, fmt.Errorf("crypto: invalid KDF output length %d for %s", length, a)
	}

	var counter, bits [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	binary.BigEndian.PutUint32(bits[:], uint32(length)*8)

	return HMAC(a, key, length, counter[:], []byte(label), []byte{0x00}, context, bits[:])
}
