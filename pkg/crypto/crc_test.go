package crypto

import "testing"

func TestCRC32C(t *testing.T) {
	// RFC 3720 Appendix B.4 check value.
	if got := CRC32C([]byte("123456789")); got != 0xe3069283 {
		t.Errorf("CRC32C() = %08x, want e3069283", got)
	}

	var trailer [CRCSize]byte
	PutCRC(trailer[:], []byte("123456789"))
	if trailer != [4]byte{0x83, 0x92, 0x06, 0xe3} {
		t.Errorf("PutCRC() = %x", trailer)
	}
	if !CheckCRC(trailer[:], []byte("123456789")) {
		t.Error("CheckCRC() = false for a valid trailer")
	}
	trailer[0] ^= 1
	if CheckCRC(trailer[:], []byte("123456789")) {
		t.Error("CheckCRC() = true for a corrupted trailer")
	}
}
