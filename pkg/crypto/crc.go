package crypto

import (
	"encoding/binary"
	"hash/crc32"
)

// CRCSize is the size of the CRC trailer of a ZRTP packet.
const CRCSize = 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the ZRTP packet checksum (RFC 6189 Section 5, using the
// Castagnoli polynomial of RFC 3309).
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// PutCRC writes the checksum of data into the 4-byte trailer buf. The value
// goes on the wire in the byte order used by deployed ZRTP stacks, which is
// the little-endian image of the CRC register.
func PutCRC(buf, data []byte) {
	binary.LittleEndian.PutUint32(buf, CRC32C(data))
}

// CheckCRC reports whether trailer holds the checksum of data.
func CheckCRC(trailer, data []byte) bool {
	return len(trailer) == CRCSize && binary.LittleEndian.Uint32(trailer) == CRC32C(data)
}
