// Package zrtp implements the ZRTP key agreement engine of RFC 6189.
//
// A Session groups the channels of one call with a peer: one main channel
// running a full Diffie-Hellman (or preshared) exchange and at most one
// additional multistream channel keyed from the session key the main
// channel derived. The engine provides:
//
//   - The per-channel protocol state machine (discovery, key agreement and
//     confirmation) driven by inbound packets and retransmission timers
//   - Commit contention resolution
//   - The key derivation pipeline: s0, session key, Confirm keys, SRTP keys
//     and the Short Authentication String
//   - Retained secret continuity through a cache.Store
//
// The engine never blocks and takes no internal lock: every method runs to
// completion, invoking the Callbacks synchronously. Callers serialize all
// calls on a Session, typically from a single event loop goroutine (see
// pkg/endpoint).
//
// RFC References:
//   - Section 4: Protocol Description
//   - Section 4.5: Key Derivations
//   - Section 4.9: Retained Secret Cache
//   - Section 6: Retransmissions
package zrtp

// Role is the role of a channel in the key agreement. Every channel starts
// as initiator and turns responder when it receives a Commit it has to
// answer, or loses Commit contention (RFC 6189 Section 4.2).
type Role int

const (
	// RoleInitiator sends Commit and DHPart2.
	RoleInitiator Role = iota
	// RoleResponder sends DHPart1 and Confirm1.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// ChannelStatus summarizes the progress of a channel.
type ChannelStatus int

const (
	// ChannelStatusNotFound is returned for an unknown SSRC.
	ChannelStatusNotFound ChannelStatus = iota
	// ChannelStatusInitialised means the channel exists but was not started.
	ChannelStatusInitialised
	// ChannelStatusOngoing means the key agreement is in progress.
	ChannelStatusOngoing
	// ChannelStatusSecure means the channel reached the secure state.
	ChannelStatusSecure
	// ChannelStatusFailed means the channel was aborted by a protocol error.
	ChannelStatusFailed
)

// String returns the status name.
func (s ChannelStatus) String() string {
	switch s {
	case ChannelStatusNotFound:
		return "NotFound"
	case ChannelStatusInitialised:
		return "Initialised"
	case ChannelStatusOngoing:
		return "Ongoing"
	case ChannelStatusSecure:
		return "Secure"
	case ChannelStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Direction tells which SRTP keys became available.
type Direction int

const (
	// DirectionReceiver means the keys protecting inbound media are ready.
	DirectionReceiver Direction = iota
	// DirectionSender means the keys protecting outbound media are ready.
	DirectionSender
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionSender {
		return "Sender"
	}
	return "Receiver"
}

// StatusLevel is the severity of a status message. Lower values are more
// severe; a message is delivered when its level is at most
// Config.MessageLevel.
type StatusLevel int

const (
	StatusLevelError StatusLevel = iota
	StatusLevelWarning
	StatusLevelLog
	StatusLevelDebug
)

// String returns the level name.
func (l StatusLevel) String() string {
	switch l {
	case StatusLevelError:
		return "Error"
	case StatusLevelWarning:
		return "Warning"
	case StatusLevelLog:
		return "Log"
	case StatusLevelDebug:
		return "Debug"
	default:
		return "Unknown"
	}
}

// StatusID identifies a status message.
type StatusID int

const (
	// StatusCacheMismatch reports that a cached secret did not match the
	// peer's. The SAS must be verified again.
	StatusCacheMismatch StatusID = iota + 1
	// StatusPeerVersionObsolete reports a peer running an older release
	// of this engine.
	StatusPeerVersionObsolete
	// StatusPeerNotBZRTP reports a peer running another ZRTP implementation.
	StatusPeerNotBZRTP
)

// String returns the status identifier name.
func (id StatusID) String() string {
	switch id {
	case StatusCacheMismatch:
		return "CacheMismatch"
	case StatusPeerVersionObsolete:
		return "PeerVersionObsolete"
	case StatusPeerNotBZRTP:
		return "PeerNotBZRTP"
	default:
		return "Unknown"
	}
}

// AuxSecretStatus reports the outcome of the auxiliary secret comparison
// on a channel.
type AuxSecretStatus int

const (
	// AuxSecretUnset means no auxiliary secret was compared.
	AuxSecretUnset AuxSecretStatus = iota
	// AuxSecretMatch means both sides hold the same auxiliary secret.
	AuxSecretMatch
	// AuxSecretMismatch means the auxiliary secrets differ.
	AuxSecretMismatch
)

// String returns the status name.
func (s AuxSecretStatus) String() string {
	switch s {
	case AuxSecretMatch:
		return "Match"
	case AuxSecretMismatch:
		return "Mismatch"
	default:
		return "Unset"
	}
}

// state is a channel state machine state.
type state int

const (
	stateIdle state = iota
	stateDiscoveryInit
	stateDiscoveryWaitingForHello
	stateDiscoveryWaitingForHelloAck
	stateSendingCommit
	stateResponderSendingDHPart1
	stateInitiatorSendingDHPart2
	stateResponderSendingConfirm1
	stateInitiatorSendingConfirm2
	stateSecure
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDiscoveryInit:
		return "discovery_init"
	case stateDiscoveryWaitingForHello:
		return "discovery_waitingForHello"
	case stateDiscoveryWaitingForHelloAck:
		return "discovery_waitingForHelloAck"
	case stateSendingCommit:
		return "keyAgreement_sendingCommit"
	case stateResponderSendingDHPart1:
		return "keyAgreement_responderSendingDHPart1"
	case stateInitiatorSendingDHPart2:
		return "keyAgreement_initiatorSendingDHPart2"
	case stateResponderSendingConfirm1:
		return "confirmation_responderSendingConfirm1"
	case stateInitiatorSendingConfirm2:
		return "confirmation_initiatorSendingConfirm2"
	case stateSecure:
		return "secure"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// isDiscovery reports whether Hello is still being retransmitted.
func (s state) isDiscovery() bool {
	return s == stateDiscoveryInit || s == stateDiscoveryWaitingForHello || s == stateDiscoveryWaitingForHelloAck
}

// eventKind is the kind of event delivered to a state handler.
type eventKind int

const (
	// eventInit is delivered by the state machine when entering a state.
	eventInit eventKind = iota
	// eventMessage carries an inbound packet.
	eventMessage
	// eventTimer is delivered when the retransmission timer is due.
	eventTimer
)
