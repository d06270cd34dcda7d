// Package transport moves ZRTP and media datagrams between endpoints: a
// UDP read loop over any net.PacketConn, and an in-memory Pipe with
// configurable loss for tests and demos.
package transport

import "net"

// ReceivedMessage is a datagram read from the network. Data holds the raw
// bytes as received: a ZRTP packet or SRTP/SRTCP media sharing the port.
// Higher layers tell them apart and parse them.
type ReceivedMessage struct {
	// Data contains the raw datagram bytes.
	Data []byte
	// Addr is the source address of the datagram.
	Addr net.Addr
}

// MessageHandler is called for each received message.
// Implementations should process messages quickly or dispatch to a goroutine
// to avoid blocking the transport's read loop.
type MessageHandler func(msg *ReceivedMessage)
