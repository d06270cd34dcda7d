package zrtp

import "time"

// Retransmission parameters from RFC 6189 Section 6.
//
// Hello is retransmitted on a short schedule since the peer may not be
// listening yet; every other message an initiator sends uses the longer
// schedule. The step doubles after each retransmission until it reaches the
// cap, and retransmissions stop after the maximum count.
const (
	// HelloBaseRetransmissionStep is the first Hello retransmission delay.
	// RFC: T1 = 50 ms
	HelloBaseRetransmissionStep = 50 * time.Millisecond

	// HelloCapRetransmissionStep caps the Hello retransmission delay.
	// RFC: T1 cap = 200 ms
	HelloCapRetransmissionStep = 200 * time.Millisecond

	// HelloMaxRetransmissions is the number of Hello retransmissions.
	// RFC: 20 retries
	HelloMaxRetransmissions = 20

	// NonHelloBaseRetransmissionStep is the first retransmission delay of
	// Commit, DHPart2 and Confirm2.
	// RFC: T2 = 150 ms
	NonHelloBaseRetransmissionStep = 150 * time.Millisecond

	// NonHelloCapRetransmissionStep caps the non-Hello retransmission delay.
	// RFC: T2 cap = 1200 ms
	NonHelloCapRetransmissionStep = 1200 * time.Millisecond

	// NonHelloMaxRetransmissions is the number of non-Hello retransmissions.
	// RFC: 10 retries
	NonHelloMaxRetransmissions = 10
)

// MaxChannels is the maximum number of channels in a session: the main
// channel and one multistream channel.
const MaxChannels = 2

// DefaultClientID is advertised in Hello when Config.ClientID is empty.
const DefaultClientID = "BZRTPv1.1"

// Client identifiers recognized in peer Hello messages.
const (
	clientIDObsoleteLinphone = "LINPHONE-ZRTPCPP"
	clientIDObsolete         = "BZRTP"
)

// Backoff is the retransmission schedule of one message class.
type Backoff struct {
	// Base is the delay before the first retransmission.
	Base time.Duration
	// Cap is the largest delay between two retransmissions.
	Cap time.Duration
	// Max is the number of retransmissions before giving up.
	Max int
}

// RetransmitConfig holds the retransmission schedules.
// Zero fields take the RFC 6189 defaults.
type RetransmitConfig struct {
	Hello    Backoff
	NonHello Backoff
}

// DefaultRetransmitConfig returns the RFC 6189 schedules.
func DefaultRetransmitConfig() RetransmitConfig {
	return RetransmitConfig{
		Hello: Backoff{
			Base: HelloBaseRetransmissionStep,
			Cap:  HelloCapRetransmissionStep,
			Max:  HelloMaxRetransmissions,
		},
		NonHello: Backoff{
			Base: NonHelloBaseRetransmissionStep,
			Cap:  NonHelloCapRetransmissionStep,
			Max:  NonHelloMaxRetransmissions,
		},
	}
}

func (b Backoff) withDefaults(d Backoff) Backoff {
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Cap <= 0 {
		b.Cap = d.Cap
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	return b
}

func (c RetransmitConfig) withDefaults() RetransmitConfig {
	d := DefaultRetransmitConfig()
	c.Hello = c.Hello.withDefaults(d.Hello)
	c.NonHello = c.NonHello.withDefaults(d.NonHello)
	return c
}
