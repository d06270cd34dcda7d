package transport

import "errors"

var (
	// ErrClosed is returned by operations on a stopped transport.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoHandler is returned by NewUDP without a MessageHandler.
	ErrNoHandler = errors.New("transport: missing message handler")

	// ErrInvalidAddress is returned by Send without a destination.
	ErrInvalidAddress = errors.New("transport: missing destination address")

	// ErrMessageTooLarge is returned by Send for data over MaxDatagramSize.
	ErrMessageTooLarge = errors.New("transport: datagram exceeds MaxDatagramSize")
)
