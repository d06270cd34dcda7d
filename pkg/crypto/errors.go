package crypto

import "errors"

var (
	// ErrUnsupportedAlgo is returned when an operation is requested for an
	// algorithm this package does not implement.
	ErrUnsupportedAlgo = errors.New("crypto: unsupported algorithm")

	// ErrInvalidPublicValue is returned when a peer public value is malformed
	// or outside the valid range of its group.
	ErrInvalidPublicValue = errors.New("crypto: invalid public value")

	// ErrInvalidKeyLength is returned when a key does not match the cipher.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length")

	// ErrKeyAgreementDestroyed is returned when a destroyed context is used.
	ErrKeyAgreementDestroyed = errors.New("crypto: key agreement context destroyed")
)
