package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestKEM_RoundTrip(t *testing.T) {
	for _, a := range []Algo{KeyAgreementKYB1, KeyAgreementKYB2, KeyAgreementKYB3} {
		t.Run(a.String(), func(t *testing.T) {
			initiator, err := NewKEM(a, rand.Reader)
			if err != nil {
				t.Fatalf("NewKEM() error = %v", err)
			}
			pk := initiator.PublicKey()
			if len(pk)%4 != 0 || len(pk) != PublicValueLength(a, PublicValueCommit) {
				t.Errorf("public key length = %d", len(pk))
			}

			ct, ssResponder, err := KEMEncapsulate(a, pk, rand.Reader)
			if err != nil {
				t.Fatalf("KEMEncapsulate() error = %v", err)
			}
			if len(ct) != PublicValueLength(a, PublicValueDHPart1) {
				t.Errorf("ciphertext length = %d", len(ct))
			}

			ssInitiator, err := initiator.Decapsulate(ct)
			if err != nil {
				t.Fatalf("Decapsulate() error = %v", err)
			}
			if !bytes.Equal(ssInitiator, ssResponder) {
				t.Error("shared secrets differ")
			}
			if PublicValueLength(a, PublicValueDHPart2) != KEMNonceSize {
				t.Error("DHPart2 in KEM mode must carry a nonce")
			}
		})
	}
}

// TestKEM_Deterministic checks key generation depends only on the RNG.
func TestKEM_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 256)
	k1, err := NewKEM(KeyAgreementKYB1, bytes.NewReader(seed))
	if err != nil {
		t.Fatal(err)
	}
	k2, err := NewKEM(KeyAgreementKYB1, bytes.NewReader(seed))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1.PublicKey(), k2.PublicKey()) {
		t.Error("same seed produced different public keys")
	}
}
