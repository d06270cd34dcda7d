package endpoint

import (
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/zrtp"
)

// DefaultTickInterval is the default period of the retransmission ticker.
// It is finer than the shortest Hello retransmission step (50 ms).
const DefaultTickInterval = 10 * time.Millisecond

// DefaultQueueSize is the default number of received datagrams buffered
// for the event loop.
const DefaultQueueSize = 64

// Config configures an Endpoint.
type Config struct {
	// Conn carries ZRTP packets and media. Required. It is closed by Stop.
	Conn net.PacketConn

	// PeerAddr is the destination of outbound packets. If nil, it is
	// learned from the first ZRTP packet received.
	PeerAddr net.Addr

	// Session configures the ZRTP session. Callbacks.SendData is replaced
	// by the endpoint; the other callbacks run on the event loop.
	Session zrtp.Config

	// TickInterval is the period at which the retransmission timers are
	// advanced. Default: DefaultTickInterval.
	TickInterval time.Duration

	// QueueSize bounds the received datagrams waiting for the event loop.
	// Datagrams arriving on a full queue are dropped.
	// Default: DefaultQueueSize.
	QueueSize int

	// OnMedia is called on the event loop for every received datagram that
	// is not a ZRTP packet.
	OnMedia func(data []byte)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled. It is also handed to the session and the
	// transport when they have none.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Session.LoggerFactory == nil {
		c.Session.LoggerFactory = c.LoggerFactory
	}
}
