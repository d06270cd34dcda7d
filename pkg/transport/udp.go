package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// MaxDatagramSize is the largest datagram sent or read. It holds the
// largest ZRTP packet (3072 bytes) and RTP media on common MTUs.
const MaxDatagramSize = 8192

const (
	udpIdle int32 = iota
	udpRunning
	udpStopped
)

// UDPStats counts the datagrams that went through a UDP transport.
type UDPStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ReadErrors      uint64
}

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Conn is the packet connection to use, such as one end of a Pipe or
	// a socket the application already bound. The transport owns it and
	// closes it on Stop.
	Conn net.PacketConn

	// ListenAddr is bound when Conn is nil. Default: ":0"
	ListenAddr string

	// MessageHandler receives every datagram read. Required. It runs on
	// the read goroutine, so it should hand the datagram off quickly.
	MessageHandler MessageHandler

	// LoggerFactory creates the transport logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// UDP moves datagrams between a net.PacketConn and a MessageHandler.
// ZRTP packets and SRTP media share the connection; telling them apart is
// left to the handler.
type UDP struct {
	conn    net.PacketConn
	handler MessageHandler
	log     logging.LeveledLogger

	state    atomic.Int32
	stopOnce sync.Once
	loopDone chan struct{}

	packetsSent, packetsReceived atomic.Uint64
	bytesSent, bytesReceived     atomic.Uint64
	readErrors                   atomic.Uint64
}

// NewUDP creates a UDP transport. It binds ListenAddr when no Conn is
// given.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}

	conn := config.Conn
	if conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		var err error
		if conn, err = net.ListenPacket("udp", addr); err != nil {
			return nil, err
		}
	}

	u := &UDP{
		conn:     conn,
		handler:  config.MessageHandler,
		loopDone: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	return u, nil
}

// Start launches the read goroutine.
func (u *UDP) Start() error {
	if !u.state.CompareAndSwap(udpIdle, udpRunning) {
		if u.state.Load() == udpStopped {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	if u.log != nil {
		u.log.Debugf("reading datagrams on %s", u.conn.LocalAddr())
	}
	go u.readLoop()
	return nil
}

// Stop closes the connection and waits for the read goroutine, if any, to
// return. A second Stop returns ErrClosed.
func (u *UDP) Stop() error {
	err := ErrClosed
	u.stopOnce.Do(func() {
		err = nil
		wasRunning := u.state.Swap(udpStopped) == udpRunning

		// Unblock a pending ReadFrom before closing.
		_ = u.conn.SetReadDeadline(time.Now())
		if cerr := u.conn.Close(); cerr != nil && !isClosedError(cerr) {
			err = cerr
		}
		if wasRunning {
			<-u.loopDone
		}
		if u.log != nil {
			s := u.Stats()
			u.log.Debugf("stopped: %d datagrams sent, %d received", s.PacketsSent, s.PacketsReceived)
		}
	})
	return err
}

// Send writes one datagram to addr. Sending does not require Start.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	switch {
	case u.state.Load() == udpStopped:
		return ErrClosed
	case addr == nil:
		return ErrInvalidAddress
	case len(data) > MaxDatagramSize:
		return ErrMessageTooLarge
	}

	n, err := u.conn.WriteTo(data, addr)
	if err != nil {
		if u.log != nil {
			u.log.Warnf("write to %v: %v", addr, err)
		}
		return err
	}
	u.packetsSent.Add(1)
	u.bytesSent.Add(uint64(n))
	if u.log != nil {
		u.log.Tracef("-> %v %d bytes", addr, n)
	}
	return nil
}

// LocalAddr returns the address of the connection.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Stats returns the datagram counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		PacketsSent:     u.packetsSent.Load(),
		PacketsReceived: u.packetsReceived.Load(),
		BytesSent:       u.bytesSent.Load(),
		BytesReceived:   u.bytesReceived.Load(),
		ReadErrors:      u.readErrors.Load(),
	}
}

func (u *UDP) readLoop() {
	defer close(u.loopDone)

	buf := make([]byte, MaxDatagramSize)
	for u.state.Load() == udpRunning {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.state.Load() != udpRunning || isClosedError(err) {
				return
			}
			u.readErrors.Add(1)
			if u.log != nil {
				u.log.Warnf("read: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		u.packetsReceived.Add(1)
		u.bytesReceived.Add(uint64(n))
		if u.log != nil {
			u.log.Tracef("<- %v %d bytes", addr, n)
		}
		u.handler(&ReceivedMessage{Data: append([]byte(nil), buf[:n]...), Addr: addr})
	}
}

// isClosedError reports whether err means the connection is gone, as
// opposed to a transient failure.
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
