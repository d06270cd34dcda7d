package zrtp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// Session is a ZRTP context shared by the channels of one call with a peer.
//
// The session holds what outlives a single channel: the peer identity, the
// cached secrets, the session key ZRTPSess that keys multistream channels
// and the exported key. It is not safe for concurrent use.
type Session struct {
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory

	rand         io.Reader
	store        cache.Store
	cb           Callbacks
	algos        supportedAlgos
	retransmit   RetransmitConfig
	messageLevel StatusLevel
	clientID     string
	mitm         bool

	selfZID cache.ZID
	peerZID cache.ZID

	channels [MaxChannels]*channel

	// now is the clock of the last Iterate call. Timers armed while
	// processing a message are scheduled from it.
	now time.Time

	// Key agreement context of the main channel, shared between the DHPart2
	// prepared at Hello time and the DHPart1 built on turning responder.
	keyAgreement crypto.KeyAgreement
	kem          *crypto.KEM
	kemSecret    []byte

	// Cached secrets of the peer, loaded once its ZID is known.
	secrets      *cache.Secrets
	aux          []byte
	transientAux []byte
	idsComputed  bool
	initiatorIDs secretIDs
	responderIDs secretIDs

	cacheMismatch bool
	pendingRS1    []byte
	pendingRole   Role

	zrtpSess      []byte
	exportedKey   []byte
	exportHash    crypto.Algo
	exportContext []byte

	isSecure         bool
	peerSupportsMult bool
	peerVersion      peerVersion
}

// NewSession creates a session. Channels are added with AddChannel.
func NewSession(config Config) (*Session, error) {
	if len(config.ClientID) > packet.ClientIDLength {
		return nil, fmt.Errorf("zrtp: client ID %q longer than %d bytes", config.ClientID, packet.ClientIDLength)
	}

	s := &Session{
		loggerFactory: config.LoggerFactory,
		rand:          config.Rand,
		store:         config.Store,
		cb:            config.Callbacks,
		algos:         newSupportedAlgos(&config),
		retransmit:    config.Retransmit.withDefaults(),
		messageLevel:  config.MessageLevel,
		clientID:      config.ClientID,
		mitm:          config.MiTM,
		transientAux:  append([]byte(nil), config.AuxSecret...),
	}
	if len(s.transientAux) == 0 {
		s.transientAux = nil
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("zrtp")
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	if s.store == nil {
		zid, err := cache.NewZID(s.rand)
		if err != nil {
			return nil, fmt.Errorf("zrtp: generate ZID: %w", err)
		}
		s.store = cache.NewMemoryStore(zid)
	}

	zid, err := s.store.SelfZID()
	if err != nil {
		return nil, fmt.Errorf("zrtp: read self ZID: %w", err)
	}
	s.selfZID = zid

	if s.log != nil {
		s.log.Debugf("session created, ZID %s", s.selfZID)
	}
	return s, nil
}

// SelfZID returns our ZID.
func (s *Session) SelfZID() cache.ZID { return s.selfZID }

// PeerZID returns the peer ZID, zero until a peer Hello was accepted.
func (s *Session) PeerZID() cache.ZID { return s.peerZID }

// IsSecure reports whether the main channel reached the secure state.
func (s *Session) IsSecure() bool { return s.isSecure }

// PeerSupportsMultiChannel reports whether the peer offered Mult in its
// Hello.
func (s *Session) PeerSupportsMultiChannel() bool { return s.peerSupportsMult }

// channel returns the channel bound to ssrc, or nil.
func (s *Session) channel(ssrc uint32) *channel {
	for _, c := range s.channels {
		if c != nil && c.ssrc == ssrc {
			return c
		}
	}
	return nil
}

// AddChannel creates a channel for ssrc. The first channel of a session is
// the main channel; a channel added once the session is secure is a
// multistream channel.
func (s *Session) AddChannel(ssrc uint32) error {
	if s.channel(ssrc) != nil {
		return fmt.Errorf("%w: ssrc %d in use", ErrUnableToAddChannel, ssrc)
	}
	slot := -1
	hasMain := false
	for i, c := range s.channels {
		if c == nil {
			if slot < 0 {
				slot = i
			}
			continue
		}
		if c.main {
			hasMain = true
		}
	}
	if slot < 0 {
		return fmt.Errorf("%w: session holds %d channels", ErrUnableToAddChannel, MaxChannels)
	}

	c, err := s.newChannel(ssrc, !hasMain && !s.isSecure)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnableToAddChannel, err)
	}
	s.channels[slot] = c
	if c.log != nil {
		c.log.Debugf("ssrc %d: channel added, main %t", ssrc, c.main)
	}
	return nil
}

// StartChannel starts the discovery phase of a channel: its Hello is sent
// on the next Iterate. A multistream channel can only start once the
// session is secure and the peer supports Mult.
func (s *Session) StartChannel(ssrc uint32) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	if c.state != stateIdle {
		return ErrChannelAlreadyStarted
	}
	if !c.main {
		if !s.isSecure {
			return ErrContextNotReady
		}
		if !s.peerSupportsMult {
			return ErrMultichannelNotSupportedByPeer
		}
	}

	if err := s.enter(c, stateDiscoveryInit); err != nil {
		s.fail(c, err, false)
		return fmt.Errorf("%w: %v", ErrUnableToStartChannel, err)
	}
	return nil
}

// RemoveChannel aborts a channel and releases its secrets. Removing the
// last channel also releases the session secrets.
func (s *Session) RemoveChannel(ssrc uint32) error {
	for i, c := range s.channels {
		if c == nil || c.ssrc != ssrc {
			continue
		}
		c.wipe()
		s.channels[i] = nil
		if c.log != nil {
			c.log.Debugf("ssrc %d: channel removed", ssrc)
		}
		if s.liveChannels() == 0 {
			s.releaseSession()
		}
		return nil
	}
	return ErrChannelNotFound
}

// Close removes every channel and releases all secrets.
func (s *Session) Close() error {
	for i, c := range s.channels {
		if c != nil {
			c.wipe()
			s.channels[i] = nil
		}
	}
	s.releaseSession()
	return nil
}

// ChannelStatus reports the progress of the channel bound to ssrc.
func (s *Session) ChannelStatus(ssrc uint32) ChannelStatus {
	c := s.channel(ssrc)
	if c == nil {
		return ChannelStatusNotFound
	}
	switch c.state {
	case stateIdle:
		return ChannelStatusInitialised
	case stateSecure:
		return ChannelStatusSecure
	case stateFailed:
		return ChannelStatusFailed
	default:
		return ChannelStatusOngoing
	}
}

// ChannelError returns the error that aborted a failed channel.
func (s *Session) ChannelError(ssrc uint32) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	return c.failure
}

// ProcessMessage handles a ZRTP packet received on the channel bound to
// ssrc.
//
// Framing errors (bad CRC, stale sequence number, unknown message) are
// returned and the packet dropped; the channel keeps running. Protocol
// errors abort the channel: the peer is sent an Error message when
// possible and Callbacks.Failure is invoked.
func (s *Session) ProcessMessage(ssrc uint32, data []byte) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	if c.state == stateFailed {
		return ErrChannelFailed
	}
	if c.state == stateIdle {
		return fmt.Errorf("%w: channel %d not started", ErrInvalidContext, ssrc)
	}

	p, err := packet.Parse(data, c.peerSeq)
	if err != nil {
		return err
	}

	switch p.Type {
	case packet.TypePing:
		return s.answerPing(c, p)
	case packet.TypeError:
		return s.handlePeerError(c, p)
	case packet.TypeErrorACK, packet.TypePingACK:
		return nil
	case packet.TypeGoClear, packet.TypeClearACK, packet.TypeSASRelay, packet.TypeRelayACK:
		return fmt.Errorf("%w: %s", packet.ErrUnsupportedMessage, p.Type)
	}

	if err := s.dispatch(c, eventMessage, p); err != nil {
		if errors.Is(err, ErrHelloHashMismatch) {
			return err
		}
		s.fail(c, err, true)
		return err
	}
	return nil
}

// Iterate advances the retransmission timer of the channel bound to ssrc
// to now, resending the last packet when due.
func (s *Session) Iterate(ssrc uint32, now time.Time) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	s.now = now
	if c.state == stateFailed || !c.timer.due(now) {
		return nil
	}
	c.timer.count++
	return s.dispatch(c, eventTimer, nil)
}

// ResetRetransmissionTimer restarts the retransmissions of an initiator
// channel from the first step, for example after a network change.
func (s *Session) ResetRetransmissionTimer(ssrc uint32) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	switch c.state {
	case stateIdle, stateSecure, stateFailed:
		return nil
	}
	if c.role != RoleInitiator {
		return nil
	}
	b := s.retransmit.NonHello
	if c.state.isDiscovery() {
		b = s.retransmit.Hello
	}
	c.timer.arm(b, time.Time{})
	// The dispatch increments count, so the first resend runs with count 0.
	c.timer.count = -1
	return nil
}

// SelfHelloHash returns the hash of our Hello on the channel, formatted
// for the SDP a=zrtp-hash attribute.
func (s *Session) SelfHelloHash(ssrc uint32) (string, error) {
	c := s.channel(ssrc)
	if c == nil {
		return "", ErrChannelNotFound
	}
	return formatHelloHash(c.self[packet.CategoryHello].MessageBytes()), nil
}

// SetPeerHelloHash sets the peer Hello hash received through signaling.
// If the peer Hello was already received and does not match, the channel
// restarts its discovery and ErrHelloHashMismatch is returned.
func (s *Session) SetPeerHelloHash(ssrc uint32, hash string) error {
	c := s.channel(ssrc)
	if c == nil {
		return ErrChannelNotFound
	}
	h, err := parseHelloHash(hash)
	if err != nil {
		return err
	}
	c.peerHelloHash = h

	if p := c.peer[packet.CategoryHello]; p != nil {
		got := crypto.SHA256(p.MessageBytes())
		if !crypto.HMACEqual(got[:], h) {
			if c.log != nil {
				c.log.Warnf("ssrc %d: peer Hello does not match signaled hash, restarting discovery", ssrc)
			}
			if err := s.resetChannel(c); err != nil {
				s.fail(c, err, false)
				return err
			}
			return ErrHelloHashMismatch
		}
	}
	return nil
}

// resetChannel drops everything learned from the peer and restarts the
// discovery of the channel.
func (s *Session) resetChannel(c *channel) error {
	c.timer.stop()
	c.wipeKeys()
	for i := range c.self {
		if packet.Category(i) != packet.CategoryHello {
			c.self[i] = nil
		}
		c.peer[i] = nil
	}
	c.peerH = [4][packet.HashImageLength]byte{}
	c.algos = agreedAlgos{}
	c.auxStatus = AuxSecretUnset
	c.peerPVS = false
	c.role = RoleInitiator

	if c.main && !s.isSecure {
		s.destroyKeyAgreement()
		s.wipeSession()
		s.peerZID = cache.ZID{}
	}

	return s.enter(c, stateDiscoveryInit)
}

// enter moves the channel to st and delivers the init event.
func (s *Session) enter(c *channel, st state) error {
	if c.log != nil {
		c.log.Tracef("ssrc %d: %s -> %s", c.ssrc, c.state, st)
	}
	c.state = st
	return s.dispatch(c, eventInit, nil)
}

// dispatch delivers an event to the handler of the current state.
func (s *Session) dispatch(c *channel, ev eventKind, p *packet.Packet) error {
	switch c.state {
	case stateDiscoveryInit:
		return s.discoveryInit(c, ev, p)
	case stateDiscoveryWaitingForHello:
		return s.discoveryWaitingForHello(c, ev, p)
	case stateDiscoveryWaitingForHelloAck:
		return s.discoveryWaitingForHelloAck(c, ev, p)
	case stateSendingCommit:
		return s.sendingCommit(c, ev, p)
	case stateResponderSendingDHPart1:
		return s.responderSendingDHPart1(c, ev, p)
	case stateInitiatorSendingDHPart2:
		return s.initiatorSendingDHPart2(c, ev, p)
	case stateResponderSendingConfirm1:
		return s.responderSendingConfirm1(c, ev, p)
	case stateInitiatorSendingConfirm2:
		return s.initiatorSendingConfirm2(c, ev, p)
	case stateSecure:
		return s.secure(c, ev, p)
	case stateFailed:
		return ErrChannelFailed
	default:
		return fmt.Errorf("%w: channel %d in state %s", ErrInvalidContext, c.ssrc, c.state)
	}
}

// ignoreStale handles a message the current state has no transition for.
//
// On a lossy network the peer keeps retransmitting a packet until it sees
// our answer, so an old packet may arrive after we moved on. A packet of a
// category already received is dropped if it is an identical copy, and a
// late HelloACK or Conf2ACK is dropped. Anything else is a protocol error.
func (s *Session) ignoreStale(c *channel, p *packet.Packet) error {
	if p.Type == packet.TypeHelloACK || p.Type == packet.TypeConf2ACK {
		return nil
	}
	repeated, err := c.isRepetition(p)
	if err != nil {
		return err
	}
	if repeated {
		c.peerSeq = p.SequenceNumber
		return nil
	}
	return fmt.Errorf("%w: %s in state %s", ErrUnexpectedMessage, p.Type, c.state)
}

// send hands a copy of the packet bytes to the transport. A send failure is
// only logged: retransmissions recover from it.
func (s *Session) send(c *channel, p *packet.Packet) {
	if s.cb.SendData == nil {
		return
	}
	data := append([]byte(nil), p.Bytes()...)
	if err := s.cb.SendData(c.ssrc, data); err != nil && c.log != nil {
		c.log.Warnf("ssrc %d: send %s: %v", c.ssrc, p.Type, err)
	}
}

// sendPacket sends a packet under the next sequence number of the channel.
// Every sent packet, first copy or retransmission, consumes one number.
func (s *Session) sendPacket(c *channel, p *packet.Packet) {
	p.SetSequenceNumber(c.selfSeq)
	s.send(c, p)
	c.selfSeq++
}

// resend retransmits the stored packet of a category under a new sequence
// number.
func (s *Session) resend(c *channel, cat packet.Category) error {
	p := c.self[cat]
	if p == nil {
		return fmt.Errorf("%w: no %s packet to resend", ErrInvalidContext, cat)
	}
	s.sendPacket(c, p)
	return nil
}

// status delivers a status message when its level passes the filter.
func (s *Session) status(c *channel, level StatusLevel, id StatusID, msg string) {
	if s.cb.StatusMessage == nil || level > s.messageLevel {
		return
	}
	s.cb.StatusMessage(c.ssrc, level, id, msg)
}

// answerPing replies to a Ping with a PingACK (RFC 6189 Section 5.16).
// Ping does not take part in the exchange: the peer sequence number is not
// updated.
func (s *Session) answerPing(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, nil); err != nil {
		return err
	}
	ping := p.Message.(*packet.Ping)
	ack := &packet.PingACK{
		Version:          packet.Version,
		PeerEndpointHash: ping.EndpointHash,
		SSRC:             p.SSRC,
	}
	copy(ack.EndpointHash[:], s.selfZID[:packet.EndpointHashLength])
	resp, err := packet.Build(c.selfSeq, c.ssrc, ack)
	if err != nil {
		return err
	}
	s.sendPacket(c, resp)
	return nil
}

// handlePeerError acknowledges an Error message and aborts the channel.
func (s *Session) handlePeerError(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, nil); err != nil {
		return err
	}
	ack, err := packet.Build(c.selfSeq, c.ssrc, packet.ErrorACK{})
	if err != nil {
		return err
	}
	s.sendPacket(c, ack)
	c.peerSeq = p.SequenceNumber

	perr := &PeerError{Code: p.Message.(*packet.Error).Code}
	s.fail(c, perr, false)
	return perr
}

// fail aborts a channel. When notifyPeer is set and the peer is known, an
// Error message carrying the matching code is sent first.
func (s *Session) fail(c *channel, err error, notifyPeer bool) {
	if c.state == stateFailed {
		return
	}
	if notifyPeer && c.peer[packet.CategoryHello] != nil && !errors.Is(err, ErrPeerError) {
		if p, berr := packet.Build(c.selfSeq, c.ssrc, &packet.Error{Code: errorCode(err)}); berr == nil {
			s.sendPacket(c, p)
		}
	}

	c.state = stateFailed
	c.failure = err
	c.wipe()
	if s.liveChannels() == 0 {
		s.releaseSession()
	}

	if c.log != nil {
		c.log.Warnf("ssrc %d: channel failed: %v", c.ssrc, err)
	}
	if s.cb.Failure != nil {
		s.cb.Failure(c.ssrc, err)
	}
}

// liveChannels counts the channels still able to make progress.
func (s *Session) liveChannels() int {
	n := 0
	for _, c := range s.channels {
		if c != nil && c.state != stateFailed {
			n++
		}
	}
	return n
}

// destroyKeyAgreement erases the private key agreement values.
func (s *Session) destroyKeyAgreement() {
	if s.keyAgreement != nil {
		s.keyAgreement.Destroy()
		s.keyAgreement = nil
	}
	if s.kem != nil {
		s.kem.Destroy()
		s.kem = nil
	}
	crypto.Wipe(s.kemSecret)
	s.kemSecret = nil
}

// wipeSession releases the secrets loaded or derived for the key agreement.
// The session key and the exported key survive while a channel is live,
// since they key later multistream channels and exports.
func (s *Session) wipeSession() {
	s.destroyKeyAgreement()
	if s.secrets != nil {
		s.secrets.Wipe()
		s.secrets = nil
	}
	crypto.Wipe(s.aux, s.pendingRS1)
	s.aux, s.pendingRS1 = nil, nil
	s.idsComputed = false
	s.initiatorIDs, s.responderIDs = secretIDs{}, secretIDs{}
}

// releaseSession wipes every session secret once no live channel is left:
// the key agreement material, the session key ZRTPSess, the exported key
// and the transient auxiliary secret.
func (s *Session) releaseSession() {
	s.wipeSession()
	crypto.Wipe(s.zrtpSess, s.exportedKey, s.exportContext, s.transientAux)
	s.zrtpSess, s.exportedKey, s.exportContext, s.transientAux = nil, nil, nil, nil
	s.isSecure = false
	if s.log != nil {
		s.log.Debug("no live channel left, session secrets released")
	}
}
