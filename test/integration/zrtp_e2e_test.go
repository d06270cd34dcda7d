package integration

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/backkem/zrtp/pkg/cache"
	"github.com/backkem/zrtp/pkg/crypto"
	"github.com/backkem/zrtp/pkg/transport"
	"github.com/backkem/zrtp/pkg/zrtp"
)

const secureTimeout = 10 * time.Second

// TestE2E_UDPHandshake runs a full exchange over loopback UDP and protects
// media with the negotiated keys.
func TestE2E_UDPHandshake(t *testing.T) {
	pair := NewTestPair(t, TestPairConfig{UDP: true})
	defer pair.Close()

	pair.StartStream(0)
	a, b := pair.WaitSecure(secureTimeout)
	if a.SAS == "" {
		t.Fatal("empty SAS")
	}
	if a.Verified || b.Verified {
		t.Errorf("first exchange reported a verified SAS")
	}

	sendMedia(t, pair.A, a, pair.B, b, "udp media")
	sendMedia(t, pair.B, b, pair.A, a, "udp reply")
}

// TestE2E_FileCacheContinuity runs two calls between the same parties with
// file backed caches: the second call continues the retained secret chain
// and carries the verified SAS flag.
func TestE2E_FileCacheContinuity(t *testing.T) {
	dir := t.TempDir()
	open := func(name string) *cache.FileStore {
		t.Helper()
		store, err := cache.OpenFileStore(cache.FileStoreConfig{Path: filepath.Join(dir, name)})
		if err != nil {
			t.Fatalf("OpenFileStore(%s) failed: %v", name, err)
		}
		return store
	}

	storeA, storeB := open("alice.zrtp"), open("bob.zrtp")
	zidA, _ := storeA.SelfZID()
	zidB, _ := storeB.SelfZID()

	pair := NewTestPair(t, TestPairConfig{StoreA: storeA, StoreB: storeB})
	pair.StartStream(0)
	pair.WaitSecure(secureTimeout)
	for _, party := range []*Party{pair.A, pair.B} {
		party.Session(t, func(s *zrtp.Session) error { return s.SASVerified() })
	}
	pair.Close()

	// Reopen the files as a restarted application would.
	storeA, storeB = open("alice.zrtp"), open("bob.zrtp")
	if got, _ := storeA.SelfZID(); got != zidA {
		t.Fatalf("self ZID not persisted: %s != %s", got, zidA)
	}
	first := retainedSecret(t, storeA, zidB)
	if !bytes.Equal(first, retainedSecret(t, storeB, zidA)) {
		t.Fatal("rs1 differs between the parties after the first call")
	}

	pair = NewTestPair(t, TestPairConfig{StoreA: storeA, StoreB: storeB})
	defer pair.Close()
	pair.StartStream(0)
	a, b := pair.WaitSecure(secureTimeout)
	if !a.Verified || !b.Verified {
		t.Errorf("verified = %t, %t on the second call, want true", a.Verified, b.Verified)
	}
	if a.CacheMismatch || b.CacheMismatch {
		t.Errorf("cache mismatch on the second call")
	}

	secretsA, err := storeA.GetSecrets(zidB)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(secretsA.RS2, first) {
		t.Errorf("rs2 is not the rs1 of the first call")
	}
	if bytes.Equal(secretsA.RS1, first) {
		t.Errorf("rs1 not rotated by the second call")
	}
	if !bytes.Equal(secretsA.RS1, retainedSecret(t, storeB, zidA)) {
		t.Errorf("rs1 differs between the parties after the second call")
	}
}

func retainedSecret(t *testing.T, store cache.Store, peer cache.ZID) []byte {
	t.Helper()
	s, err := store.GetSecrets(peer)
	if err != nil {
		t.Fatalf("GetSecrets failed: %v", err)
	}
	if s.RS1 == nil {
		t.Fatalf("no rs1 cached for %s", peer)
	}
	return s.RS1
}

// TestE2E_LossyPipe completes the exchange while the pipe drops packets,
// relying on retransmissions.
func TestE2E_LossyPipe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping lossy exchange in short mode")
	}

	pair := NewTestPair(t, TestPairConfig{
		Condition: transport.NetworkCondition{
			DropRate:      0.2,
			DuplicateRate: 0.1,
			DelayMax:      2 * time.Millisecond,
		},
	})
	defer pair.Close()

	pair.StartStream(0)
	pair.WaitSecure(30 * time.Second)
}

// TestE2E_Multistream keys a second stream from the session key of the
// first (RFC 6189 Section 4.4.3).
func TestE2E_Multistream(t *testing.T) {
	pair := NewTestPair(t, TestPairConfig{Streams: 2})
	defer pair.Close()

	pair.StartStream(0)
	a0, _ := pair.WaitSecure(secureTimeout)

	var mult bool
	pair.A.Session(t, func(s *zrtp.Session) error {
		mult = s.PeerSupportsMultiChannel()
		return nil
	})
	if !mult {
		t.Fatal("peer does not support multistream")
	}

	pair.StartStream(1)
	a1, b1 := pair.WaitSecure(secureTimeout)
	if a1.SSRC != pair.A.SSRCs[1] || b1.SSRC != pair.B.SSRCs[1] {
		t.Errorf("secure SSRCs = %#x, %#x, want the second streams", a1.SSRC, b1.SSRC)
	}
	if a1.SAS != "" {
		t.Errorf("multistream channel rendered a SAS %q", a1.SAS)
	}
	if a0.SAS == "" {
		t.Errorf("main channel has no SAS")
	}

	sendMedia(t, pair.A, a1, pair.B, b1, "second stream")
}

// TestE2E_KeyAgreements runs the exchange with each key agreement family.
func TestE2E_KeyAgreements(t *testing.T) {
	for _, ka := range []crypto.Algo{
		crypto.KeyAgreementX255,
		crypto.KeyAgreementEC25,
		crypto.KeyAgreementDH3k,
		crypto.KeyAgreementKYB1,
	} {
		t.Run(ka.String(), func(t *testing.T) {
			config := zrtp.Config{KeyAgreementAlgos: []crypto.Algo{ka}}
			pair := NewTestPair(t, TestPairConfig{SessionA: config, SessionB: config})
			defer pair.Close()

			pair.StartStream(0)
			a, b := pair.WaitSecure(secureTimeout)
			sendMedia(t, pair.A, a, pair.B, b, ka.String())
		})
	}
}

// sendMedia protects an RTP packet at from and unprotects it at to.
func sendMedia(t *testing.T, from *Party, fromEv SecureEvent, to *Party, toEv SecureEvent, payload string) {
	t.Helper()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 7,
			Timestamp:      320,
			SSRC:           fromEv.SSRC,
		},
		Payload: []byte(payload),
	}
	protected, err := fromEv.SRTP.EncryptRTP(pkt)
	if err != nil {
		t.Fatalf("%s: EncryptRTP failed: %v", from.Name, err)
	}
	if err := from.Endpoint.SendMedia(protected); err != nil {
		t.Fatalf("%s: SendMedia failed: %v", from.Name, err)
	}

	select {
	case data := <-to.media:
		got, err := toEv.SRTP.DecryptRTP(data)
		if err != nil {
			t.Fatalf("%s: DecryptRTP failed: %v", to.Name, err)
		}
		if string(got.Payload) != payload {
			t.Errorf("%s: payload = %q, want %q", to.Name, got.Payload, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timeout waiting for media", to.Name)
	}
}
