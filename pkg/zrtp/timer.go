package zrtp

import "time"

// retransmitTimer schedules the retransmissions of the last packet sent by
// an initiator channel.
//
// The schedule from RFC 6189 Section 6:
//
//	step(0) = Base
//	step(n) = min(2 * step(n-1), Cap)
//
// The timer holds no goroutine: Session.Iterate compares the caller's clock
// with fireAt and delivers a timer event when it is due. A zero fireAt fires
// on the next Iterate.
type retransmitTimer struct {
	on     bool
	fireAt time.Time

	// count is the number of times the timer fired since it was armed.
	// It is incremented before the timer event is dispatched.
	count int

	step    time.Duration
	backoff Backoff
}

// arm starts the timer with the schedule b, first firing at fireAt.
func (t *retransmitTimer) arm(b Backoff, fireAt time.Time) {
	t.on = true
	t.fireAt = fireAt
	t.count = 0
	t.step = b.Base
	t.backoff = b
}

// stop turns the timer off.
func (t *retransmitTimer) stop() {
	t.on = false
}

// due reports whether the timer must fire at now.
func (t *retransmitTimer) due(now time.Time) bool {
	return t.on && !now.Before(t.fireAt)
}

// next schedules the following firing after a timer event at now, doubling
// the step until the cap. Once the timer has fired more than Max times it
// turns off; the packet is still resent for this last event.
func (t *retransmitTimer) next(now time.Time) {
	if t.count > t.backoff.Max {
		t.on = false
		return
	}
	if 2*t.step <= t.backoff.Cap {
		t.step *= 2
	}
	t.fireAt = now.Add(t.step)
}
