package crypto

import "github.com/awnumar/memguard"

// Wipe overwrites every given buffer with zeroes. Derived keys, s0, the
// session key and retained secrets are wiped as soon as they are released.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		if len(b) > 0 {
			memguard.WipeBytes(b)
		}
	}
}
