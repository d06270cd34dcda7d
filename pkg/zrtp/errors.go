package zrtp

import (
	"errors"
	"fmt"

	"github.com/backkem/zrtp/pkg/packet"
)

// Errors returned by the zrtp package.
var (
	// ErrInvalidContext is returned when key material or a packet needed at
	// this point of the exchange is missing, or the channel was not started.
	ErrInvalidContext = errors.New("zrtp: invalid context")

	// ErrContextNotReady is returned when starting a multistream channel
	// before the main channel is secure.
	ErrContextNotReady = errors.New("zrtp: session not ready")

	// ErrUnexpectedMessage is returned for a message type that is not
	// valid in the current state.
	ErrUnexpectedMessage = errors.New("zrtp: unexpected message")

	// ErrUnmatchingPacketRepetition is returned when a packet of an already
	// received category is not a byte-identical retransmission.
	ErrUnmatchingPacketRepetition = errors.New("zrtp: unmatching packet repetition")

	// ErrUnsupportedVersion is returned when the peer Hello advertises a
	// protocol version other than 1.1x.
	ErrUnsupportedVersion = errors.New("zrtp: unsupported protocol version")

	// ErrMultichannelNotSupportedByPeer is returned when starting a
	// multistream channel with a peer that did not offer Mult.
	ErrMultichannelNotSupportedByPeer = errors.New("zrtp: peer does not support multistream")

	// ErrUnableToAddChannel is returned when the session already holds the
	// maximum number of channels or the SSRC is in use.
	ErrUnableToAddChannel = errors.New("zrtp: unable to add channel")

	// ErrUnableToStartChannel is returned when a channel cannot be started.
	ErrUnableToStartChannel = errors.New("zrtp: unable to start channel")

	// ErrChannelNotFound is returned for an SSRC with no channel.
	ErrChannelNotFound = errors.New("zrtp: channel not found")

	// ErrChannelAlreadyStarted is returned when starting a started channel.
	ErrChannelAlreadyStarted = errors.New("zrtp: channel already started")

	// ErrHelloHashMismatch is returned when the peer Hello does not match
	// the hash received through signaling.
	ErrHelloHashMismatch = errors.New("zrtp: peer Hello hash mismatch")

	// ErrCacheMismatch is returned by ExportKey while the retained secrets
	// of the last exchange did not match and the SAS was not verified yet.
	ErrCacheMismatch = errors.New("zrtp: cache mismatch")

	// ErrChannelFailed is returned for any event on a failed channel.
	ErrChannelFailed = errors.New("zrtp: channel failed")

	// ErrNoCommonAlgorithm is returned when Hello negotiation finds no
	// usable algorithm in one family.
	ErrNoCommonAlgorithm = errors.New("zrtp: no common algorithm")

	// ErrInvalidHVI is returned when the hvi committed by the initiator does
	// not match its DHPart2.
	ErrInvalidHVI = errors.New("zrtp: hvi mismatch")

	// ErrNoSharedSecret is returned in preshared mode when the keyID does
	// not match the locally computed one.
	ErrNoSharedSecret = errors.New("zrtp: no shared secret")

	// ErrExportNotAvailable is returned by ExportKey before the main channel
	// is secure, or after its key material was released.
	ErrExportNotAvailable = errors.New("zrtp: exported key not available")
)

// PeerError is reported when the peer sends an Error message. It wraps
// ErrPeerError and carries the RFC 6189 error code.
type PeerError struct {
	Code packet.ErrorCode
}

// ErrPeerError matches any PeerError with errors.Is.
var ErrPeerError = errors.New("zrtp: peer reported an error")

// Error implements error.
func (e *PeerError) Error() string {
	return fmt.Sprintf("zrtp: peer reported error 0x%x (%s)", uint32(e.Code), e.Code)
}

// Unwrap returns ErrPeerError.
func (e *PeerError) Unwrap() error { return ErrPeerError }

// errorCode maps an engine error to the code of the Error message that
// reports it, as listed in RFC 6189 Section 5.9.
func errorCode(err error) packet.ErrorCode {
	switch {
	case errors.Is(err, ErrUnsupportedVersion):
		return packet.ErrorUnsupportedVersion
	case errors.Is(err, ErrNoCommonAlgorithm):
		return packet.ErrorUnsupportedKeyExchange
	case errors.Is(err, ErrInvalidHVI):
		return packet.ErrorBadHVI
	case errors.Is(err, ErrNoSharedSecret):
		return packet.ErrorNoSharedSecret
	case errors.Is(err, packet.ErrUnmatchingConfirmMAC):
		return packet.ErrorBadConfirmMAC
	case errors.Is(err, packet.ErrUnmatchingHashChain), errors.Is(err, packet.ErrUnmatchingMAC):
		return packet.ErrorHelloMismatch
	case errors.Is(err, packet.ErrInvalidMessage), errors.Is(err, packet.ErrInvalidLength):
		return packet.ErrorMalformedPacket
	default:
		return packet.ErrorCriticalSoftware
	}
}
