package crypto

import (
	"encoding/hex"
	"testing"
)

// RFC 4231 Test Case 2.
const (
	rfc4231Key  = "Jefe"
	rfc4231Data = "what do ya want for nothing?"
)

func TestHMAC_RFC4231(t *testing.T) {
	tests := []struct {
		algo Algo
		want string
	}{
		{HashS256, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"},
		{HashS384, "af45d2e376484031617f78d2b58a6b1b9c7ef464f5a01b47e42ec3736322445e8e2240ca5e69e2c78b3239ecfab21649"},
	}
	for _, tc := range tests {
		got, err := HMAC(tc.algo, []byte(rfc4231Key), 0, []byte(rfc4231Data))
		if err != nil {
			t.Fatalf("%s: HMAC() error = %v", tc.algo, err)
		}
		if hex.EncodeToString(got) != tc.want {
			t.Errorf("%s: HMAC() = %x, want %s", tc.algo, got, tc.want)
		}
	}
}

func TestHMACSHA256_Truncation(t *testing.T) {
	full := HMACSHA256([]byte(rfc4231Key), []byte(rfc4231Data), 0)
	trunc := HMACSHA256([]byte(rfc4231Key), []byte(rfc4231Data), 8)
	if len(full) != 32 || len(trunc) != 8 {
		t.Fatalf("lengths = %d/%d, want 32/8", len(full), len(trunc))
	}
	if !HMACEqual(full[:8], trunc) {
		t.Error("truncated MAC is not a prefix of the full MAC")
	}
	if HMACEqual(full[:8], full[8:16]) {
		t.Error("HMACEqual matched different values")
	}
}
