package cache

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func testZID(b byte) ZID {
	var z ZID
	for i := range z {
		z[i] = b
	}
	return z
}

func secret(b byte) []byte {
	return bytes.Repeat([]byte{b}, RetainedSecretLength)
}

func TestMemoryStoreUnknownPeer(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	s, err := m.GetSecrets(testZID(2))
	if err != nil {
		t.Fatalf("GetSecrets() error = %v", err)
	}
	if s.RS1 != nil || s.RS2 != nil || s.Aux != nil || s.PBX != nil || s.PreviouslyVerifiedSAS {
		t.Errorf("GetSecrets() = %+v, want empty", s)
	}
	if len(m.Peers()) != 0 {
		t.Error("GetSecrets() created a peer entry")
	}
}

func TestMemoryStorePutRS1Rotation(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	peer := testZID(2)

	if err := m.PutRS1(peer, secret(0xa1)); err != nil {
		t.Fatal(err)
	}
	s, _ := m.GetSecrets(peer)
	if !bytes.Equal(s.RS1, secret(0xa1)) || s.RS2 != nil {
		t.Fatalf("after first put: rs1=%x rs2=%x", s.RS1, s.RS2)
	}

	if err := m.PutRS1(peer, secret(0xa2)); err != nil {
		t.Fatal(err)
	}
	s, _ = m.GetSecrets(peer)
	if !bytes.Equal(s.RS1, secret(0xa2)) || !bytes.Equal(s.RS2, secret(0xa1)) {
		t.Fatalf("after second put: rs1=%x rs2=%x", s.RS1, s.RS2)
	}

	if err := m.PutRS1(peer, secret(0xa3)); err != nil {
		t.Fatal(err)
	}
	s, _ = m.GetSecrets(peer)
	if !bytes.Equal(s.RS1, secret(0xa3)) || !bytes.Equal(s.RS2, secret(0xa2)) {
		t.Fatalf("after third put: rs1=%x rs2=%x", s.RS1, s.RS2)
	}

	if err := m.PutRS1(peer, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("short rs1: error = %v, want ErrInvalidSecret", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	peer := testZID(2)
	rs1 := secret(0x55)
	if err := m.PutRS1(peer, rs1); err != nil {
		t.Fatal(err)
	}
	rs1[0] = 0

	s, _ := m.GetSecrets(peer)
	s.Wipe()

	again, _ := m.GetSecrets(peer)
	if !bytes.Equal(again.RS1, secret(0x55)) {
		t.Errorf("cached rs1 modified through caller buffers: %x", again.RS1)
	}
}

func TestMemoryStoreVerifiedFlag(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	peer := testZID(2)

	if err := m.SetPreviouslyVerifiedSAS(peer, true); err != nil {
		t.Fatal(err)
	}
	if s, _ := m.GetSecrets(peer); !s.PreviouslyVerifiedSAS {
		t.Error("flag not set")
	}
	if err := m.PutRS1(peer, secret(1)); err != nil {
		t.Fatal(err)
	}
	if s, _ := m.GetSecrets(peer); !s.PreviouslyVerifiedSAS {
		t.Error("PutRS1 cleared the flag")
	}
	if err := m.SetPreviouslyVerifiedSAS(peer, false); err != nil {
		t.Fatal(err)
	}
	if s, _ := m.GetSecrets(peer); s.PreviouslyVerifiedSAS {
		t.Error("flag not cleared")
	}
}

func TestMemoryStoreAuxPBXForget(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	peer := testZID(2)
	m.SetAux(peer, []byte("aux"))
	m.SetPBX(peer, []byte("pbx"))

	s, _ := m.GetSecrets(peer)
	if string(s.Aux) != "aux" || string(s.PBX) != "pbx" {
		t.Errorf("aux=%q pbx=%q", s.Aux, s.PBX)
	}

	m.Forget(peer)
	s, _ = m.GetSecrets(peer)
	if s.Aux != nil || s.PBX != nil {
		t.Errorf("after Forget: %+v", s)
	}
}

// TestMemoryStoreConcurrentPutRS1 checks that concurrent rotations never lose
// the demoted secret: rs2 is always a value that was written as rs1.
func TestMemoryStoreConcurrentPutRS1(t *testing.T) {
	m := NewMemoryStore(testZID(1))
	peer := testZID(2)

	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			if err := m.PutRS1(peer, secret(b)); err != nil {
				t.Error(err)
			}
		}(byte(i))
	}
	wg.Wait()

	s, _ := m.GetSecrets(peer)
	if s.RS1 == nil || s.RS2 == nil {
		t.Fatal("missing rs1 or rs2")
	}
	if bytes.Equal(s.RS1, s.RS2) {
		t.Error("rs1 == rs2 after distinct writes")
	}
	if s.RS2[0] == 0 || !bytes.Equal(s.RS2, secret(s.RS2[0])) {
		t.Errorf("rs2 corrupted: %x", s.RS2)
	}
}

func TestParseZID(t *testing.T) {
	z := testZID(0xab)
	back, err := ParseZID(z.String())
	if err != nil || back != z {
		t.Errorf("ParseZID(%s) = %v, %v", z, back, err)
	}
	if _, err := ParseZID("abcd"); !errors.Is(err, ErrInvalidZID) {
		t.Errorf("short ZID: error = %v, want ErrInvalidZID", err)
	}
	if !(ZID{}).IsZero() || z.IsZero() {
		t.Error("IsZero() mismatch")
	}
}
