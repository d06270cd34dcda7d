package cache

import "errors"

var (
	// ErrInvalidZID is returned when a ZID does not have 12 bytes.
	ErrInvalidZID = errors.New("cache: invalid ZID")

	// ErrInvalidSecret is returned when a retained secret has the wrong length.
	ErrInvalidSecret = errors.New("cache: invalid retained secret")

	// ErrNoPath is returned when a file store is configured without a path.
	ErrNoPath = errors.New("cache: file store path required")

	// ErrCorrupt is returned when a cache file cannot be decoded.
	ErrCorrupt = errors.New("cache: corrupt cache file")
)
