// CFB encryption of the Confirm message body.
// RFC 6189 Section 5.7 encrypts the confidential part of Confirm1/Confirm2
// with the negotiated block cipher in 128-bit Cipher Feedback mode, keyed by
// zrtpkeyi or zrtpkeyr, with a random 128-bit IV carried in clear.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/twofish"
)

// CFBIVSize is the size of the CFB initialisation vector carried in Confirm.
const CFBIVSize = 16

// CFB is a block cipher instance used in CFB-128 mode.
type CFB struct {
	block cipher.Block
}

// NewCFB creates a CFB cipher for a negotiated ZRTP cipher. The key length
// must match CipherKeyLength(a).
func NewCFB(a Algo, key []byte) (*CFB, error) {
	if want := CipherKeyLength(a); want == 0 {
		return nil, fmt.Errorf("%w: cipher %s", ErrUnsupportedAlgo, a)
	} else if len(key) != want {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrInvalidKeyLength, a, want, len(key))
	}

	var (
		block cipher.Block
		err   error
	)
	switch a {
	case CipherAES1, CipherAES2, CipherAES3:
		block, err = aes.NewCipher(key)
	case Cipher2FS1, Cipher2FS2, Cipher2FS3:
		block, err = twofish.NewCipher(key)
	}
	if err != nil {
		return nil, err
	}
	return &CFB{block: block}, nil
}

// Encrypt encrypts plaintext with the given 16-byte IV.
// Returns ciphertext of the same length as plaintext.
func (c *CFB) Encrypt(iv, plaintext []byte) ([]byte, error) {
	if len(iv) != CFBIVSize {
		return nil, fmt.Errorf("crypto: invalid CFB IV size %d", len(iv))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(c.block, iv).XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt decrypts ciphertext with the IV used for encryption.
func (c *CFB) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != CFBIVSize {
		return nil, fmt.Errorf("crypto: invalid CFB IV size %d", len(iv))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(c.block, iv).XORKeyStream(out, ciphertext)
	return out, nil
}

// CFBEncrypt is a convenience function for one-shot encryption.
func CFBEncrypt(a Algo, key, iv, plaintext []byte) ([]byte, error) {
	c, err := NewCFB(a, key)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(iv, plaintext)
}

// CFBDecrypt is a convenience function for one-shot decryption.
func CFBDecrypt(a Algo, key, iv, ciphertext []byte) ([]byte, error) {
	c, err := NewCFB(a, key)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(iv, ciphertext)
}
