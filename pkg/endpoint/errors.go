package endpoint

import "errors"

// Endpoint errors.
var (
	// ErrNoConn is returned when Config.Conn is nil.
	ErrNoConn = errors.New("endpoint: packet connection is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("endpoint: already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("endpoint: not started")

	// ErrStopped is returned by operations on a stopped endpoint.
	ErrStopped = errors.New("endpoint: stopped")

	// ErrNoPeerAddr is returned when sending before the peer address is
	// known.
	ErrNoPeerAddr = errors.New("endpoint: peer address unknown")

	// ErrStreamExists is returned when a local SSRC is added twice.
	ErrStreamExists = errors.New("endpoint: stream already exists")
)
