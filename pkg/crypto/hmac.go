package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSHA256 computes HMAC-SHA256 of a message truncated to outLen bytes.
// outLen values outside (0, 32] return the full MAC.
func HMACSHA256(key, message []byte, outLen int) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	mac := h.Sum(nil)
	if outLen > 0 && outLen < len(mac) {
		return mac[:outLen]
	}
	return mac
}

// HMAC computes the HMAC of the concatenated parts with the negotiated hash
// algorithm, truncated to outLen bytes (full length when outLen <= 0).
func HMAC(a Algo, key []byte, outLen int, parts ...[]byte) ([]byte, error) {
	newHash, err := NewHash(a)
	if err != nil {
		return nil, err
	}
	h := hmac.New(newHash, key)
	for _, p := range parts {
		h.Write(p)
	}
	mac := h.Sum(nil)
	if outLen > 0 && outLen < len(mac) {
		return mac[:outLen], nil
	}
	return mac, nil
}

// HMACEqual compares two MACs for equality in constant time.
// This should be used instead of bytes.Equal to prevent timing attacks.
func HMACEqual(mac1, mac2 []byte) bool {
	return hmac.Equal(mac1, mac2)
}
