package zrtp

import (
	"testing"
	"time"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/packet"
)

// testEndpoint wraps a Session with an in-memory link to its peer and
// records every callback.
type testEndpoint struct {
	t     *testing.T
	name  string
	store *cache.MemoryStore
	s     *Session
	peer  *testEndpoint

	// route maps our SSRC to the peer SSRC of the same stream.
	route map[uint32]uint32
	inbox []inboundPacket

	// drop filters outbound packets by type.
	drop func(packet.MessageType) bool
	// duplicate delivers every outbound packet twice.
	duplicate bool

	sent       map[packet.MessageType]int
	wire       [][]byte
	seqs       map[uint32][]uint16
	available  map[uint32]map[Direction]*SRTPSecrets
	started    map[uint32]*SRTPSecrets
	verified   map[uint32]bool
	mismatches int
	failures   []error
	errs       []error
	readyFor   []cache.ZID
}

type inboundPacket struct {
	ssrc uint32
	data []byte
}

func newTestStore(t *testing.T, zid byte) *cache.MemoryStore {
	t.Helper()
	var id cache.ZID
	for i := range id {
		id[i] = zid
	}
	return cache.NewMemoryStore(id)
}

func newTestEndpoint(t *testing.T, name string, store *cache.MemoryStore, cfg Config) *testEndpoint {
	t.Helper()
	ep := &testEndpoint{
		t:         t,
		name:      name,
		store:     store,
		route:     make(map[uint32]uint32),
		sent:      make(map[packet.MessageType]int),
		seqs:      make(map[uint32][]uint16),
		available: make(map[uint32]map[Direction]*SRTPSecrets),
		started:   make(map[uint32]*SRTPSecrets),
		verified:  make(map[uint32]bool),
	}
	cfg.Store = store
	cfg.Callbacks = Callbacks{
		SendData: ep.sendData,
		SRTPSecretsAvailable: func(ssrc uint32, secrets *SRTPSecrets, dir Direction) {
			if ep.available[ssrc] == nil {
				ep.available[ssrc] = make(map[Direction]*SRTPSecrets)
			}
			ep.available[ssrc][dir] = cloneSecrets(secrets)
		},
		StartSRTPSession: func(ssrc uint32, secrets *SRTPSecrets, verified bool) {
			ep.started[ssrc] = cloneSecrets(secrets)
			ep.verified[ssrc] = verified
		},
		CacheMismatch: func(uint32) { ep.mismatches++ },
		Failure:       func(_ uint32, err error) { ep.failures = append(ep.failures, err) },
		ContextReadyForExportedKeys: func(peer cache.ZID, _ Role) {
			ep.readyFor = append(ep.readyFor, peer)
		},
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("%s: NewSession() error = %v", name, err)
	}
	ep.s = s
	return ep
}

func cloneSecrets(s *SRTPSecrets) *SRTPSecrets {
	c := *s
	c.SelfKey = append([]byte(nil), s.SelfKey...)
	c.SelfSalt = append([]byte(nil), s.SelfSalt...)
	c.PeerKey = append([]byte(nil), s.PeerKey...)
	c.PeerSalt = append([]byte(nil), s.PeerSalt...)
	return &c
}

func (ep *testEndpoint) sendData(ssrc uint32, data []byte) error {
	p, err := packet.Parse(data, 0)
	if err != nil {
		ep.t.Errorf("%s: sent unparsable packet: %v", ep.name, err)
		return nil
	}
	ep.sent[p.Type]++
	ep.wire = append(ep.wire, append([]byte(nil), data...))
	ep.seqs[ssrc] = append(ep.seqs[ssrc], p.SequenceNumber)
	if ep.drop != nil && ep.drop(p.Type) {
		return nil
	}
	if ep.peer != nil {
		in := inboundPacket{ssrc: ep.route[ssrc], data: data}
		ep.peer.inbox = append(ep.peer.inbox, in)
		if ep.duplicate {
			ep.peer.inbox = append(ep.peer.inbox, in)
		}
	}
	return nil
}

// deliver processes the queued inbound packets and reports whether any
// was pending.
func (ep *testEndpoint) deliver() bool {
	if len(ep.inbox) == 0 {
		return false
	}
	pending := ep.inbox
	ep.inbox = nil
	for _, in := range pending {
		if err := ep.s.ProcessMessage(in.ssrc, in.data); err != nil {
			ep.errs = append(ep.errs, err)
		}
	}
	return true
}

func (ep *testEndpoint) iterate(now time.Time) {
	for ssrc := range ep.route {
		if err := ep.s.Iterate(ssrc, now); err != nil {
			ep.errs = append(ep.errs, err)
		}
	}
}

// addStream binds a channel on both endpoints.
func addStream(t *testing.T, a, b *testEndpoint, ssrcA, ssrcB uint32) {
	t.Helper()
	a.route[ssrcA] = ssrcB
	b.route[ssrcB] = ssrcA
	if err := a.s.AddChannel(ssrcA); err != nil {
		t.Fatalf("%s: AddChannel(%d) error = %v", a.name, ssrcA, err)
	}
	if err := b.s.AddChannel(ssrcB); err != nil {
		t.Fatalf("%s: AddChannel(%d) error = %v", b.name, ssrcB, err)
	}
}

func startStream(t *testing.T, a, b *testEndpoint, ssrcA, ssrcB uint32) {
	t.Helper()
	if err := a.s.StartChannel(ssrcA); err != nil {
		t.Fatalf("%s: StartChannel(%d) error = %v", a.name, ssrcA, err)
	}
	if err := b.s.StartChannel(ssrcB); err != nil {
		t.Fatalf("%s: StartChannel(%d) error = %v", b.name, ssrcB, err)
	}
}

// testLink drives two endpoints with a virtual clock.
type testLink struct {
	a, b *testEndpoint
	now  time.Time
}

func newTestLink(a, b *testEndpoint) *testLink {
	a.peer, b.peer = b, a
	return &testLink{a: a, b: b, now: time.Unix(1700000000, 0)}
}

// step delivers every packet in flight, then advances the clock by d and
// runs the timers.
func (l *testLink) step(d time.Duration) {
	for l.a.deliver() || l.b.deliver() {
	}
	l.now = l.now.Add(d)
	l.a.iterate(l.now)
	l.b.iterate(l.now)
}

// runUntil steps until done returns true, failing the test after a
// virtual minute.
func (l *testLink) runUntil(t *testing.T, done func() bool) {
	t.Helper()
	for i := 0; i < 6000; i++ {
		if done() {
			return
		}
		l.step(10 * time.Millisecond)
	}
	t.Fatalf("exchange did not complete: %s %s, %s %s",
		l.a.name, l.a.states(), l.b.name, l.b.states())
}

func (ep *testEndpoint) states() []string {
	var out []string
	for _, c := range ep.s.channels {
		if c != nil {
			out = append(out, c.state.String())
		}
	}
	return out
}

func (ep *testEndpoint) secure(ssrc uint32) bool {
	return ep.s.ChannelStatus(ssrc) == ChannelStatusSecure
}

// handshake runs the main channel exchange between a and b on SSRCs 1
// and 2 and checks it completed without error.
func handshake(t *testing.T, a, b *testEndpoint) *testLink {
	t.Helper()
	l := newTestLink(a, b)
	addStream(t, a, b, 1, 2)
	startStream(t, a, b, 1, 2)
	l.runUntil(t, func() bool { return a.secure(1) && b.secure(2) })
	l.step(10 * time.Millisecond)
	checkNoErrors(t, a, b)
	return l
}

func checkNoErrors(t *testing.T, eps ...*testEndpoint) {
	t.Helper()
	for _, ep := range eps {
		if len(ep.errs) != 0 {
			t.Errorf("%s: unexpected errors %v", ep.name, ep.errs)
		}
		if len(ep.failures) != 0 {
			t.Errorf("%s: unexpected failures %v", ep.name, ep.failures)
		}
	}
}
