package crypto

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"testing"
)

// RFC 5903 Section 8.1, 256-bit random ECP group. ZRTP drops the 0x04 prefix.
func TestECDH_RFC5903(t *testing.T) {
	privI := mustHex(t, "c88f01f510d9ac3f70a292daa2316de544e9aab8afe84049c62a9c57862d1433")
	privR := mustHex(t, "c6ef9c5d78ae012a011164acb397ce2088685d8f06bf9be0b283ab46476bee53")
	pubI := mustHex(t, "dad0b65394221cf9b051e1feca5787d098dfe637fc90b9ef945d0c3772581180"+
		"5271a0461cdb8252d61f1c456fa3e59ab1f45b33accf5f58389e0577b8990bb3")
	pubR := mustHex(t, "d12dfb5289c8d4f81208b70270398c342296970a0bccb74c736fc7554494bf63"+
		"56fbf3ca366cc23e8157854c13c58d6aac23f046ada30f8353e74f33039872ab")
	want := mustHex(t, "d6840f6b42f6edafd13116e0e12565202fef8e9ece7dce03812464d04b9442de")

	initiator, err := newECDHFromPrivate(KeyAgreementEC25, ecdh.P256(), privI)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(initiator.PublicValue(), pubI) {
		t.Errorf("PublicValue() = %x, want %x", initiator.PublicValue(), pubI)
	}
	if got := len(initiator.PublicValue()); got != PublicValueLength(KeyAgreementEC25, PublicValueDHPart2) {
		t.Errorf("public value length = %d", got)
	}

	responder, err := newECDHFromPrivate(KeyAgreementEC25, ecdh.P256(), privR)
	if err != nil {
		t.Fatal(err)
	}
	s1, err := initiator.SharedSecret(pubR)
	if err != nil {
		t.Fatalf("initiator SharedSecret() error = %v", err)
	}
	s2, err := responder.SharedSecret(pubI)
	if err != nil {
		t.Fatalf("responder SharedSecret() error = %v", err)
	}
	if !bytes.Equal(s1, want) || !bytes.Equal(s2, want) {
		t.Errorf("shared = %x / %x, want %x", s1, s2, want)
	}
}

// RFC 7748 Section 6.1.
func TestX25519_RFC7748(t *testing.T) {
	alice, err := newX25519FromPrivate(mustHex(t, "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"))
	if err != nil {
		t.Fatal(err)
	}
	bobPub := mustHex(t, "de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f")
	wantAlicePub := mustHex(t, "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a")
	want := mustHex(t, "4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742")

	if !bytes.Equal(alice.PublicValue(), wantAlicePub) {
		t.Errorf("PublicValue() = %x, want %x", alice.PublicValue(), wantAlicePub)
	}
	s, err := alice.SharedSecret(bobPub)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s, want) {
		t.Errorf("SharedSecret() = %x, want %x", s, want)
	}
}

// TestKeyAgreement_RoundTrip runs every DH/ECDH type between two parties.
func TestKeyAgreement_RoundTrip(t *testing.T) {
	algos := []Algo{
		KeyAgreementDH2k, KeyAgreementDH3k, KeyAgreementEC25, KeyAgreementEC38,
		KeyAgreementEC52, KeyAgreementX255, KeyAgreementX448,
	}
	for _, a := range algos {
		t.Run(a.String(), func(t *testing.T) {
			ka1, err := NewKeyAgreement(a, 32, rand.Reader)
			if err != nil {
				t.Fatalf("NewKeyAgreement() error = %v", err)
			}
			ka2, err := NewKeyAgreement(a, 32, rand.Reader)
			if err != nil {
				t.Fatalf("NewKeyAgreement() error = %v", err)
			}
			if ka1.Algo() != a {
				t.Errorf("Algo() = %s, want %s", ka1.Algo(), a)
			}
			if got, want := len(ka1.PublicValue()), PublicValueLength(a, PublicValueDHPart1); got != want {
				t.Errorf("public value length = %d, want %d", got, want)
			}

			s1, err := ka1.SharedSecret(ka2.PublicValue())
			if err != nil {
				t.Fatal(err)
			}
			s2, err := ka2.SharedSecret(ka1.PublicValue())
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(s1, s2) {
				t.Error("shared secrets differ")
			}

			ka1.Destroy()
			if _, err := ka1.SharedSecret(ka2.PublicValue()); !errors.Is(err, ErrKeyAgreementDestroyed) {
				t.Errorf("after Destroy err = %v, want ErrKeyAgreementDestroyed", err)
			}
		})
	}
}

func TestFiniteFieldDH_RejectsDegenerateValues(t *testing.T) {
	ka, err := NewKeyAgreement(KeyAgreementDH2k, 32, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	one := make([]byte, 256)
	one[255] = 1
	pMinus1 := rfc3526Group14.Bytes()
	pMinus1[len(pMinus1)-1]--

	for name, v := range map[string][]byte{"zero": make([]byte, 256), "one": one, "p-1": pMinus1} {
		if _, err := ka.SharedSecret(v); !errors.Is(err, ErrInvalidPublicValue) {
			t.Errorf("%s: err = %v, want ErrInvalidPublicValue", name, err)
		}
	}
}

func TestNewKeyAgreement_Unsupported(t *testing.T) {
	for _, a := range []Algo{KeyAgreementMult, KeyAgreementPrsh, KeyAgreementKYB1} {
		if _, err := NewKeyAgreement(a, 32, rand.Reader); !errors.Is(err, ErrUnsupportedAlgo) {
			t.Errorf("%s: err = %v, want ErrUnsupportedAlgo", a, err)
		}
	}
}

func TestNewKeyAgreement_DeterministicReader(t *testing.T) {
	seed := make([]byte, 1024)
	for i := range seed {
		seed[i] = byte(i*7 + 3)
	}
	for _, a := range []Algo{KeyAgreementEC25, KeyAgreementEC38, KeyAgreementEC52, KeyAgreementX255, KeyAgreementDH3k} {
		t.Run(a.String(), func(t *testing.T) {
			ka1, err := NewKeyAgreement(a, 32, bytes.NewReader(seed))
			if err != nil {
				t.Fatal(err)
			}
			ka2, err := NewKeyAgreement(a, 32, bytes.NewReader(seed))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(ka1.PublicValue(), ka2.PublicValue()) {
				t.Error("same reader produced different public values")
			}
		})
	}
}

func TestNewECDH_RetriesOutOfRangeScalar(t *testing.T) {
	// All ones is above the P-256 order and must be skipped.
	valid := mustHex(t, "c88f01f510d9ac3f70a292daa2316de544e9aab8afe84049c62a9c57862d1433")
	stream := append(bytes.Repeat([]byte{0xff}, 32), valid...)

	got, err := newECDH(KeyAgreementEC25, ecdh.P256(), bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	want, err := newECDHFromPrivate(KeyAgreementEC25, ecdh.P256(), valid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.PublicValue(), want.PublicValue()) {
		t.Error("out of range draw was not rejected")
	}

	if _, err := newECDH(KeyAgreementEC25, ecdh.P256(), bytes.NewReader(make([]byte, 16))); err == nil {
		t.Error("short reader accepted")
	}
}
