// Package endpoint runs a ZRTP session over a packet connection.
//
// An Endpoint owns one zrtp.Session and drives it from a single event loop
// goroutine: received datagrams, retransmission ticks and calls made
// through Do are serialized on that goroutine, so the session is never
// accessed concurrently.
//
// ZRTP packets share the transport with media (RFC 6189 Section 5). The
// loop tells them apart by the packet header and hands everything else to
// Config.OnMedia. ZRTP packets are routed to the channel of the local
// stream bound to the sender SSRC; a sender SSRC seen for the first time
// is bound to the first local stream that has no peer yet.
package endpoint

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/packet"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
)

// stream binds a local SSRC, the channel key of the session, to the SSRC
// the peer sends from.
type stream struct {
	local uint32
	peer  uint32
	bound bool
}

// Endpoint drives a zrtp.Session over a net.PacketConn.
type Endpoint struct {
	config  Config
	log     logging.LeveledLogger
	session *zrtp.Session
	udp     *transport.UDP

	inbound chan *transport.ReceivedMessage
	calls   chan func()

	// Owned by whoever runs the session: the caller before Start, the
	// event loop afterwards.
	streams []*stream

	addrMu   sync.RWMutex
	peerAddr net.Addr

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an endpoint and its session. Streams are added with
// AddStream and the exchange begins with StartStream once Start was
// called.
func New(config Config) (*Endpoint, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	config.applyDefaults()

	e := &Endpoint{
		config:   config,
		peerAddr: config.PeerAddr,
		inbound:  make(chan *transport.ReceivedMessage, config.QueueSize),
		calls:    make(chan func()),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("zrtp-endpoint")
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           config.Conn,
		MessageHandler: e.onMessage,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	e.udp = udp

	sessionConfig := config.Session
	sessionConfig.Callbacks.SendData = e.sendZRTP
	session, err := zrtp.NewSession(sessionConfig)
	if err != nil {
		return nil, err
	}
	e.session = session
	return e, nil
}

// Start begins reading from the connection and runs the event loop until
// Stop is called or ctx is cancelled.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}
	if err := e.udp.Start(); err != nil {
		return err
	}
	e.started = true

	go e.loop()
	go func() {
		select {
		case <-ctx.Done():
			_ = e.Stop()
		case <-e.doneCh:
		}
	}()

	if e.log != nil {
		e.log.Infof("started, ZID %s, local %s", e.session.SelfZID(), e.udp.LocalAddr())
	}
	return nil
}

// Stop ends the event loop, closes the connection and releases the
// session secrets. It must not be called from a session callback.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()

	<-e.doneCh
	err := e.udp.Stop()
	_ = e.session.Close()

	if e.log != nil {
		stats := e.udp.Stats()
		e.log.Infof("stopped after %d datagrams out, %d in", stats.PacketsSent, stats.PacketsReceived)
	}
	return err
}

// Done is closed when the event loop has exited.
func (e *Endpoint) Done() <-chan struct{} {
	return e.doneCh
}

// Do runs fn with the session on the event loop and returns its error.
// Before Start, fn runs on the calling goroutine.
func (e *Endpoint) Do(fn func(s *zrtp.Session) error) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if !e.started {
		defer e.mu.Unlock()
		return fn(e.session)
	}
	e.mu.Unlock()

	res := make(chan error, 1)
	select {
	case e.calls <- func() { res <- fn(e.session) }:
	case <-e.doneCh:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-e.doneCh:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// AddStream adds a session channel keyed by the local SSRC. The first
// stream carries the main channel; later streams are multistream channels.
func (e *Endpoint) AddStream(local uint32) error {
	return e.Do(func(s *zrtp.Session) error {
		for _, st := range e.streams {
			if st.local == local {
				return ErrStreamExists
			}
		}
		if err := s.AddChannel(local); err != nil {
			return err
		}
		e.streams = append(e.streams, &stream{local: local})
		return nil
	})
}

// StartStream starts the exchange on the channel of a local stream.
func (e *Endpoint) StartStream(local uint32) error {
	return e.Do(func(s *zrtp.Session) error {
		return s.StartChannel(local)
	})
}

// SendMedia sends a datagram that is not a ZRTP packet, such as SRTP, to
// the peer.
func (e *Endpoint) SendMedia(data []byte) error {
	addr := e.PeerAddr()
	if addr == nil {
		return ErrNoPeerAddr
	}
	return e.udp.Send(data, addr)
}

// LocalAddr returns the local address of the connection.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.udp.LocalAddr()
}

// PeerAddr returns the destination of outbound packets, nil while unknown.
func (e *Endpoint) PeerAddr() net.Addr {
	e.addrMu.RLock()
	defer e.addrMu.RUnlock()
	return e.peerAddr
}

// sendZRTP is the SendData callback of the session.
func (e *Endpoint) sendZRTP(ssrc uint32, data []byte) error {
	addr := e.PeerAddr()
	if addr == nil {
		return ErrNoPeerAddr
	}
	return e.udp.Send(data, addr)
}

// onMessage queues a received datagram for the event loop.
func (e *Endpoint) onMessage(msg *transport.ReceivedMessage) {
	select {
	case e.inbound <- msg:
	default:
		if e.log != nil {
			e.log.Warnf("receive queue full, dropping %d bytes from %v", len(msg.Data), msg.Addr)
		}
	}
}

func (e *Endpoint) loop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case msg := <-e.inbound:
			e.handleDatagram(msg)
		case fn := <-e.calls:
			fn()
		case now := <-ticker.C:
			e.iterate(now)
		}
	}
}

// iterate advances the timers of every stream.
func (e *Endpoint) iterate(now time.Time) {
	for _, st := range e.streams {
		if err := e.session.Iterate(st.local, now); err != nil && e.log != nil {
			e.log.Warnf("ssrc %d: iterate: %v", st.local, err)
		}
	}
}

func (e *Endpoint) handleDatagram(msg *transport.ReceivedMessage) {
	var h packet.Header
	if err := h.Decode(msg.Data); err != nil {
		if e.config.OnMedia != nil {
			e.config.OnMedia(msg.Data)
		}
		return
	}

	st := e.route(h.SSRC)
	if st == nil {
		if e.log != nil {
			e.log.Debugf("no stream for peer ssrc %d, dropping packet", h.SSRC)
		}
		return
	}

	e.addrMu.Lock()
	if e.peerAddr == nil {
		e.peerAddr = msg.Addr
		if e.log != nil {
			e.log.Infof("peer address learned: %v", msg.Addr)
		}
	}
	e.addrMu.Unlock()

	err := e.session.ProcessMessage(st.local, msg.Data)
	switch {
	case err == nil:
	case errors.Is(err, packet.ErrOutOfOrder):
		if e.log != nil {
			e.log.Tracef("ssrc %d: %v", st.local, err)
		}
	default:
		if e.log != nil {
			e.log.Debugf("ssrc %d: process message: %v", st.local, err)
		}
	}
}

// route returns the stream bound to a peer SSRC, binding it to the first
// free stream when seen for the first time.
func (e *Endpoint) route(peer uint32) *stream {
	var free *stream
	for _, st := range e.streams {
		if st.bound && st.peer == peer {
			return st
		}
		if !st.bound && free == nil {
			free = st
		}
	}
	if free != nil {
		free.peer = peer
		free.bound = true
		if e.log != nil {
			e.log.Debugf("peer ssrc %d bound to local ssrc %d", peer, free.local)
		}
	}
	return free
}
