package zrtp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/packet"
)

// State handlers. Each handler receives the init event when its state is
// entered, the inbound packets of the channel and, for the states where we
// retransmit, the timer events. A handler returning an error aborts the
// channel.
//
//	discoveryInit --Hello--> waitingForHelloAck --HelloACK--> sendingCommit
//	      \--HelloACK--> waitingForHello --Hello--------------^
//
//	sendingCommit --DHPart1--> initiatorSendingDHPart2 --Confirm1--> initiatorSendingConfirm2
//	      |       \--Confirm1 (Prsh, Mult)----------------------------^          |
//	      \--Commit--> responderSendingDHPart1 --DHPart2--> responderSendingConfirm1
//	                 \--(Prsh, Mult)-----------------------^        |
//	                                               Confirm2 --> secure <-- Conf2ACK

// discoveryInit sends our Hello until the peer Hello or HelloACK arrives.
func (s *Session) discoveryInit(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		// The first Hello goes out on the next Iterate, once the transport
		// is ready.
		c.timer.arm(s.retransmit.Hello, time.Time{})
		return nil
	case eventTimer:
		c.timer.next(s.now)
		return s.resend(c, packet.CategoryHello)
	}

	switch p.Type {
	case packet.TypeHello:
		if err := s.responseToHello(c, p); err != nil {
			return err
		}
		// Restart the Hello schedule: the peer may have started late and
		// lost our first Hello packets.
		c.timer.arm(s.retransmit.Hello, time.Time{})
		c.state = stateDiscoveryWaitingForHelloAck
		return nil
	case packet.TypeHelloACK:
		if err := packet.Decode(p, nil); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		c.timer.stop()
		c.state = stateDiscoveryWaitingForHello
		return nil
	case packet.TypeCommit:
		// The peer got our Hello while we lost its own; it keeps sending
		// Commit until we catch up with its Hello.
		return nil
	}
	return s.ignoreStale(c, p)
}

// discoveryWaitingForHello waits for the peer Hello after our Hello was
// acknowledged.
func (s *Session) discoveryWaitingForHello(c *channel, ev eventKind, p *packet.Packet) error {
	if ev != eventMessage {
		return nil
	}
	switch p.Type {
	case packet.TypeHello:
		if err := s.responseToHello(c, p); err != nil {
			return err
		}
		return s.enter(c, stateSendingCommit)
	case packet.TypeCommit:
		return nil
	}
	return s.ignoreStale(c, p)
}

// discoveryWaitingForHelloAck keeps sending Hello until the peer
// acknowledges it, either with HelloACK or with its Commit.
func (s *Session) discoveryWaitingForHelloAck(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		return nil
	case eventTimer:
		c.timer.next(s.now)
		return s.resend(c, packet.CategoryHello)
	}

	switch p.Type {
	case packet.TypeHello:
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return s.sendHelloACK(c)
	case packet.TypeHelloACK:
		if err := packet.Decode(p, nil); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		c.timer.stop()
		return s.enter(c, stateSendingCommit)
	case packet.TypeCommit:
		c.timer.stop()
		return s.receiveCommit(c, p)
	}
	return s.ignoreStale(c, p)
}

// sendingCommit sends our Commit until the peer answers it, or sends its
// own Commit.
func (s *Session) sendingCommit(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		if c.self[packet.CategoryCommit] == nil {
			commit, err := s.buildCommit(c)
			if err != nil {
				return err
			}
			c.self[packet.CategoryCommit] = commit
		}
		c.timer.arm(s.retransmit.NonHello, s.now.Add(s.retransmit.NonHello.Base))
		s.sendPacket(c, c.self[packet.CategoryCommit])
		return nil
	case eventTimer:
		c.timer.next(s.now)
		return s.resend(c, packet.CategoryCommit)
	}

	switch p.Type {
	case packet.TypeCommit:
		return s.receiveCommit(c, p)
	case packet.TypeDHPart1:
		if c.algos.keyAgreement.IsDH() {
			return s.receiveDHPart1(c, p)
		}
	case packet.TypeConfirm1:
		if !c.algos.keyAgreement.IsDH() {
			return s.receiveConfirm1NonDH(c, p)
		}
	}
	return s.ignoreStale(c, p)
}

// receiveDHPart1 handles the responder DHPart1: it checks the hash chain,
// probes the cached secrets and computes s0.
func (s *Session) receiveDHPart1(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, c.decodeContext()); err != nil {
		return err
	}
	dh := p.Message.(*packet.DHPart)

	h2 := packet.HashImage(dh.H1[:])
	if err := c.checkHelloKey(h2[:]); err != nil {
		return err
	}
	c.timer.stop()

	s.initiatorProbeSecrets(c, dh)

	c.peerSeq = p.SequenceNumber
	c.peerH[2] = h2
	c.peerH[1] = dh.H1
	c.peer[packet.CategoryDHPart] = p

	ss, err := s.sharedSecret(c, dh)
	if err != nil {
		return err
	}
	if err := s.computeS0DH(c, ss); err != nil {
		return err
	}
	return s.enter(c, stateInitiatorSendingDHPart2)
}

// receiveConfirm1NonDH handles the responder Confirm1 answering our Prsh or
// Mult Commit. s0 is computed first since the Confirm keys decrypt it.
func (s *Session) receiveConfirm1NonDH(c *channel, p *packet.Packet) error {
	var err error
	if c.algos.keyAgreement == crypto.KeyAgreementMult {
		err = s.computeS0Mult(c)
	} else {
		err = s.computeS0Prsh(c)
	}
	if err != nil {
		return err
	}
	if err := packet.Decode(p, c.decodeContext()); err != nil {
		return err
	}
	conf := p.Message.(*packet.Confirm)

	h1 := packet.HashImage(conf.H0[:])
	h2 := packet.HashImage(h1[:])
	if err := c.checkHelloKey(h2[:]); err != nil {
		return err
	}
	c.timer.stop()

	c.peerH[2], c.peerH[1], c.peerH[0] = h2, h1, conf.H0
	c.peerPVS = conf.SASVerified
	c.peer[packet.CategoryConfirm] = p
	c.peerSeq = p.SequenceNumber
	return s.enter(c, stateInitiatorSendingConfirm2)
}

// responderSendingDHPart1 answers the peer Commit with our DHPart1 and
// waits for its DHPart2. The responder never retransmits on its own: it
// resends DHPart1 when the Commit is retransmitted.
func (s *Session) responderSendingDHPart1(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		dh := c.self[packet.CategoryDHPart]
		if dh == nil || dh.Type != packet.TypeDHPart1 {
			return fmt.Errorf("%w: no DHPart1 to send", ErrInvalidContext)
		}
		c.timer.stop()
		s.sendPacket(c, dh)
		return nil
	case eventTimer:
		return nil
	}

	switch p.Type {
	case packet.TypeCommit:
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return s.resend(c, packet.CategoryDHPart)
	case packet.TypeDHPart2:
		return s.receiveDHPart2(c, p)
	}
	return s.ignoreStale(c, p)
}

// receiveDHPart2 handles the initiator DHPart2: it checks the hash chain
// and the committed hvi, probes the cached secrets and computes s0.
func (s *Session) receiveDHPart2(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, c.decodeContext()); err != nil {
		return err
	}
	dh := p.Message.(*packet.DHPart)

	if err := c.checkCommitKey(dh.H1[:]); err != nil {
		return err
	}
	hvi, err := computeHVI(c.algos.hash, p, c.self[packet.CategoryHello])
	if err != nil {
		return err
	}
	if !bytes.Equal(hvi, c.peerCommit().HVI[:]) {
		return ErrInvalidHVI
	}

	s.responderProbeSecrets(c, dh)

	c.peerSeq = p.SequenceNumber
	c.peerH[1] = dh.H1
	c.peer[packet.CategoryDHPart] = p

	ss, err := s.sharedSecret(c, dh)
	if err != nil {
		return err
	}
	if err := s.computeS0DH(c, ss); err != nil {
		return err
	}
	return s.enter(c, stateResponderSendingConfirm1)
}

// initiatorSendingDHPart2 sends our DHPart2 until the responder Confirm1
// arrives.
func (s *Session) initiatorSendingDHPart2(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		dh := c.self[packet.CategoryDHPart]
		if dh == nil {
			return fmt.Errorf("%w: no DHPart2 to send", ErrInvalidContext)
		}
		s.sendPacket(c, dh)
		c.timer.arm(s.retransmit.NonHello, s.now.Add(s.retransmit.NonHello.Base))
		return nil
	case eventTimer:
		c.timer.next(s.now)
		return s.resend(c, packet.CategoryDHPart)
	}

	switch p.Type {
	case packet.TypeDHPart1:
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return nil
	case packet.TypeConfirm1:
		if err := packet.Decode(p, c.decodeContext()); err != nil {
			return err
		}
		conf := p.Message.(*packet.Confirm)
		if err := c.checkDHPartKey(conf.H0[:]); err != nil {
			return err
		}
		c.timer.stop()
		c.peerH[0] = conf.H0
		c.peerPVS = conf.SASVerified
		c.peer[packet.CategoryConfirm] = p
		c.peerSeq = p.SequenceNumber
		return s.enter(c, stateInitiatorSendingConfirm2)
	}
	return s.ignoreStale(c, p)
}

// responderSendingConfirm1 sends our Confirm1 and waits for Confirm2. In
// Prsh and Mult modes it is entered straight from the Commit and computes
// s0 first.
func (s *Session) responderSendingConfirm1(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		switch c.algos.keyAgreement {
		case crypto.KeyAgreementMult:
			if err := s.computeS0Mult(c); err != nil {
				return err
			}
		case crypto.KeyAgreementPrsh:
			if err := s.computeS0Prsh(c); err != nil {
				return err
			}
		default:
			if c.mackeyR == nil || c.zrtpkeyR == nil {
				return fmt.Errorf("%w: responder keys not derived", ErrInvalidContext)
			}
		}
		c.timer.stop()
		conf, err := s.buildConfirm(c, packet.TypeConfirm1)
		if err != nil {
			return err
		}
		c.self[packet.CategoryConfirm] = conf
		s.sendPacket(c, conf)
		return nil
	case eventTimer:
		return nil
	}

	switch p.Type {
	case packet.TypeCommit:
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		if !c.algos.keyAgreement.IsDH() {
			return s.resend(c, packet.CategoryConfirm)
		}
		return nil
	case packet.TypeDHPart2:
		if !c.algos.keyAgreement.IsDH() {
			break
		}
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return s.resend(c, packet.CategoryConfirm)
	case packet.TypeConfirm2:
		return s.receiveConfirm2(c, p)
	}
	return s.ignoreStale(c, p)
}

// receiveConfirm2 handles the initiator Confirm2: the exchange completes,
// the SRTP keys are handed over and Conf2ACK is sent.
func (s *Session) receiveConfirm2(c *channel, p *packet.Packet) error {
	if err := packet.Decode(p, c.decodeContext()); err != nil {
		return err
	}
	conf := p.Message.(*packet.Confirm)

	if c.algos.keyAgreement.IsDH() {
		if err := c.checkDHPartKey(conf.H0[:]); err != nil {
			return err
		}
	} else {
		h1 := packet.HashImage(conf.H0[:])
		if err := c.checkCommitKey(h1[:]); err != nil {
			return err
		}
		c.peerH[1] = h1
	}
	c.peerH[0] = conf.H0
	c.peerPVS = conf.SASVerified
	c.peer[packet.CategoryConfirm] = p
	c.peerSeq = p.SequenceNumber

	if err := s.deriveSrtpKeys(c); err != nil {
		return err
	}
	if err := s.updateCachedSecrets(c); err != nil {
		return err
	}
	if s.cb.SRTPSecretsAvailable != nil {
		s.cb.SRTPSecretsAvailable(c.ssrc, c.srtp, DirectionReceiver)
	}

	if err := s.sendConf2ACK(c); err != nil {
		return err
	}
	if s.cb.SRTPSecretsAvailable != nil {
		s.cb.SRTPSecretsAvailable(c.ssrc, c.srtp, DirectionSender)
	}
	return s.enter(c, stateSecure)
}

func (s *Session) sendConf2ACK(c *channel) error {
	ack, err := packet.Build(c.selfSeq, c.ssrc, packet.Conf2ACK{})
	if err != nil {
		return err
	}
	s.sendPacket(c, ack)
	return nil
}

// initiatorSendingConfirm2 sends our Confirm2 until the responder
// acknowledges it. The receiver keys are available as soon as Confirm2 is
// built since the responder may start sending media on receiving it.
func (s *Session) initiatorSendingConfirm2(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		conf, err := s.buildConfirm(c, packet.TypeConfirm2)
		if err != nil {
			return err
		}
		c.self[packet.CategoryConfirm] = conf
		if err := s.deriveSrtpKeys(c); err != nil {
			return err
		}
		if s.cb.SRTPSecretsAvailable != nil {
			s.cb.SRTPSecretsAvailable(c.ssrc, c.srtp, DirectionReceiver)
		}
		s.sendPacket(c, conf)
		c.timer.arm(s.retransmit.NonHello, s.now.Add(s.retransmit.NonHello.Base))
		return nil
	case eventTimer:
		c.timer.next(s.now)
		return s.resend(c, packet.CategoryConfirm)
	}

	switch p.Type {
	case packet.TypeConfirm1:
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return nil
	case packet.TypeConf2ACK:
		if err := packet.Decode(p, nil); err != nil {
			return err
		}
		c.timer.stop()
		c.peerSeq = p.SequenceNumber
		if err := s.updateCachedSecrets(c); err != nil {
			return err
		}
		if s.cb.SRTPSecretsAvailable != nil {
			s.cb.SRTPSecretsAvailable(c.ssrc, c.srtp, DirectionSender)
		}
		return s.enter(c, stateSecure)
	}
	return s.ignoreStale(c, p)
}

// secure is the final state. The responder keeps answering Confirm2
// retransmissions, in case its Conf2ACK was lost.
func (s *Session) secure(c *channel, ev eventKind, p *packet.Packet) error {
	switch ev {
	case eventInit:
		c.timer.stop()
		if c.algos.keyAgreement != crypto.KeyAgreementMult {
			s.isSecure = true
		}
		if c.log != nil {
			c.log.Infof("ssrc %d: secure, %s", c.ssrc, c.algos.keyAgreement)
		}
		if s.cb.StartSRTPSession != nil {
			s.cb.StartSRTPSession(c.ssrc, c.srtp, s.previouslyVerified() && c.peerPVS)
		}
		return nil
	case eventTimer:
		return nil
	}

	if p.Type == packet.TypeConfirm2 && c.role == RoleResponder {
		if _, err := c.isRepetition(p); err != nil {
			return err
		}
		c.peerSeq = p.SequenceNumber
		return s.sendConf2ACK(c)
	}
	return s.ignoreStale(c, p)
}
