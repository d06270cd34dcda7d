// Package integration provides end-to-end tests running two ZRTP endpoints
// against each other over a pipe or loopback UDP.
package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/endpoint"
	"github.com/backkem/zrtp/pkg/srtp"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
)

// SecureEvent is reported when a channel of a party turns secure, or fails
// (Err set).
type SecureEvent struct {
	SSRC          uint32
	SAS           string
	Verified      bool
	CacheMismatch bool
	SRTP          *srtp.Session
	Err           error
}

// Party is one endpoint of a TestPair.
type Party struct {
	Name     string
	SSRCs    []uint32
	Endpoint *endpoint.Endpoint

	events chan SecureEvent
	media  chan []byte
}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	// UDP runs the endpoints over loopback UDP instead of a pipe.
	UDP bool

	// Condition applies to the pipe. Ignored with UDP.
	Condition transport.NetworkCondition

	// StoreA and StoreB are the secret caches. Nil means a fresh
	// in-memory cache.
	StoreA, StoreB cache.Store

	// Streams is the number of streams per party. Default: 1.
	Streams int

	// SessionA and SessionB override the session configs. Store and
	// Callbacks are set by the pair.
	SessionA, SessionB zrtp.Config
}

// TestPair holds two started endpoints. Their channels are started with
// StartStream.
type TestPair struct {
	A, B *Party

	t    *testing.T
	pipe *transport.Pipe
}

// NewTestPair creates and starts two endpoints connected to each other.
func NewTestPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	if config.Streams <= 0 {
		config.Streams = 1
	}
	loggerFactory := logging.NewDefaultLoggerFactory()

	p := &TestPair{t: t}
	var connA, connB net.PacketConn
	var addrA, addrB net.Addr
	if config.UDP {
		var err error
		if connA, err = net.ListenPacket("udp", "127.0.0.1:0"); err != nil {
			t.Fatalf("ListenPacket: %v", err)
		}
		if connB, err = net.ListenPacket("udp", "127.0.0.1:0"); err != nil {
			t.Fatalf("ListenPacket: %v", err)
		}
		addrA, addrB = connA.LocalAddr(), connB.LocalAddr()
	} else {
		p.pipe = transport.NewPipe()
		p.pipe.SetCondition(config.Condition)
		connA, connB = p.pipe.PacketConn(0), p.pipe.PacketConn(1)
		addrA, addrB = p.pipe.Addr(0), p.pipe.Addr(1)
	}

	p.A = newParty(t, "alice", 0x1000, config.Streams, connA, addrB, config.StoreA, config.SessionA, loggerFactory)
	p.B = newParty(t, "bob", 0x2000, config.Streams, connB, addrA, config.StoreB, config.SessionB, loggerFactory)

	for _, party := range []*Party{p.A, p.B} {
		if err := party.Endpoint.Start(context.Background()); err != nil {
			t.Fatalf("%s: Start failed: %v", party.Name, err)
		}
	}
	return p
}

func newParty(t *testing.T, name string, baseSSRC uint32, streams int, conn net.PacketConn, peer net.Addr, store cache.Store, session zrtp.Config, lf logging.LoggerFactory) *Party {
	t.Helper()

	party := &Party{
		Name:   name,
		events: make(chan SecureEvent, 8*streams),
		media:  make(chan []byte, 16),
	}
	session.Store = store
	session.Callbacks = zrtp.Callbacks{
		StartSRTPSession: func(ssrc uint32, secrets *zrtp.SRTPSecrets, verified bool) {
			sess, err := srtp.NewSession(secrets)
			party.events <- SecureEvent{
				SSRC:          ssrc,
				SAS:           secrets.SAS,
				Verified:      verified,
				CacheMismatch: secrets.CacheMismatch,
				SRTP:          sess,
				Err:           err,
			}
		},
		Failure: func(ssrc uint32, err error) {
			party.events <- SecureEvent{SSRC: ssrc, Err: err}
		},
	}

	ep, err := endpoint.New(endpoint.Config{
		Conn:     conn,
		PeerAddr: peer,
		Session:  session,
		OnMedia: func(data []byte) {
			select {
			case party.media <- data:
			default:
			}
		},
		LoggerFactory: lf,
	})
	if err != nil {
		t.Fatalf("%s: endpoint.New failed: %v", name, err)
	}
	party.Endpoint = ep

	for i := 0; i < streams; i++ {
		ssrc := baseSSRC + uint32(i)
		if err := ep.AddStream(ssrc); err != nil {
			t.Fatalf("%s: AddStream(%d) failed: %v", name, ssrc, err)
		}
		party.SSRCs = append(party.SSRCs, ssrc)
	}
	return party
}

// StartStream starts stream i on both parties.
func (p *TestPair) StartStream(i int) {
	p.t.Helper()
	for _, party := range []*Party{p.A, p.B} {
		if err := party.Endpoint.StartStream(party.SSRCs[i]); err != nil {
			p.t.Fatalf("%s: StartStream failed: %v", party.Name, err)
		}
	}
}

// WaitSecure waits for the next secure event of both parties and checks
// they agree on the SAS.
func (p *TestPair) WaitSecure(timeout time.Duration) (a, b SecureEvent) {
	p.t.Helper()
	a = p.A.waitEvent(p.t, timeout)
	b = p.B.waitEvent(p.t, timeout)
	if a.SAS != b.SAS {
		p.t.Errorf("SAS mismatch: %q != %q", a.SAS, b.SAS)
	}
	return a, b
}

// Session runs fn with the session of a party on its event loop.
func (party *Party) Session(t *testing.T, fn func(s *zrtp.Session) error) {
	t.Helper()
	if err := party.Endpoint.Do(fn); err != nil {
		t.Fatalf("%s: %v", party.Name, err)
	}
}

func (party *Party) waitEvent(t *testing.T, timeout time.Duration) SecureEvent {
	t.Helper()
	select {
	case ev := <-party.events:
		if ev.Err != nil {
			t.Fatalf("%s: ssrc %d failed: %v", party.Name, ev.SSRC, ev.Err)
		}
		return ev
	case <-time.After(timeout):
		t.Fatalf("%s: timeout waiting for the secure state", party.Name)
		return SecureEvent{}
	}
}

// Close stops both endpoints.
func (p *TestPair) Close() {
	p.A.Endpoint.Stop()
	p.B.Endpoint.Stop()
	if p.pipe != nil {
		p.pipe.Close()
	}
}
