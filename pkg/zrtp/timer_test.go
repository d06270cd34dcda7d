package zrtp

import (
	"testing"
	"time"
)

func TestRetransmitTimerSchedule(t *testing.T) {
	b := Backoff{Base: 150 * time.Millisecond, Cap: 1200 * time.Millisecond, Max: 10}
	start := time.Unix(0, 0)

	var timer retransmitTimer
	timer.arm(b, start.Add(b.Base))
	if timer.due(start) {
		t.Fatalf("timer due before its first step")
	}

	wantSteps := []time.Duration{300, 600, 1200, 1200, 1200}
	now := start.Add(b.Base)
	for i, want := range wantSteps {
		if !timer.due(now) {
			t.Fatalf("fire %d: timer not due at %v", i, now.Sub(start))
		}
		timer.count++
		timer.next(now)
		if got := timer.fireAt.Sub(now); got != want*time.Millisecond {
			t.Errorf("fire %d: step = %v, want %v", i, got, want*time.Millisecond)
		}
		now = timer.fireAt
	}
}

func TestRetransmitTimerStops(t *testing.T) {
	b := Backoff{Base: 50 * time.Millisecond, Cap: 200 * time.Millisecond, Max: 3}
	now := time.Unix(0, 0)

	var timer retransmitTimer
	timer.arm(b, time.Time{})
	fired := 0
	for i := 0; i < 100 && timer.on; i++ {
		if timer.due(now) {
			timer.count++
			timer.next(now)
			fired++
		}
		now = now.Add(10 * time.Millisecond)
	}
	// The timer fires Max times plus the final firing that turns it off.
	if fired != b.Max+1 {
		t.Errorf("fired %d times, want %d", fired, b.Max+1)
	}
	if timer.on {
		t.Errorf("timer still on")
	}

	timer.arm(b, now)
	if !timer.on || timer.count != 0 || timer.step != b.Base {
		t.Errorf("arm() did not reset the timer: %+v", timer)
	}
	timer.stop()
	if timer.due(now) {
		t.Errorf("stopped timer is due")
	}
}

func TestRetransmitConfigDefaults(t *testing.T) {
	got := RetransmitConfig{NonHello: Backoff{Max: 3}}.withDefaults()
	want := DefaultRetransmitConfig()
	want.NonHello.Max = 3
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
}
