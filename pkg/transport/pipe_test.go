package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/backkem/zrtp/pkg/packet"
)

func newTestPipe(t *testing.T, config PipeConfig) *Pipe {
	t.Helper()
	p := NewPipeWithConfig(config)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// helloACK builds a HelloACK packet with sequence number seq.
func helloACK(t *testing.T, seq uint16) []byte {
	t.Helper()
	pkt, err := packet.Build(seq, 0xcafe, packet.HelloACK{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return pkt.Bytes()
}

// recv reads one datagram from end id, or returns nil after timeout.
func recv(t *testing.T, p *Pipe, id int, timeout time.Duration) []byte {
	t.Helper()
	conn := p.PacketConn(id)
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, MaxDatagramSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}

// recvAsync starts reading one datagram from end id. The pipe only hands
// a queued packet to a reader that is already waiting.
func recvAsync(t *testing.T, p *Pipe, id int) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 1)
	conn := p.PacketConn(id)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	go func() {
		buf := make([]byte, MaxDatagramSize)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			close(out)
			return
		}
		out <- buf[:n]
	}()
	time.Sleep(10 * time.Millisecond)
	return out
}

func sequenceOf(t *testing.T, data []byte) uint16 {
	t.Helper()
	var h packet.Header
	if err := h.Decode(data); err != nil {
		t.Fatalf("received a non-ZRTP datagram: %v", err)
	}
	return h.SequenceNumber
}

func TestPipe_Delivery(t *testing.T) {
	tests := []struct {
		name   string
		config PipeConfig
	}{
		{"auto", DefaultPipeConfig()},
		{"manual", PipeConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipe(t, tt.config)
			if p.AutoProcess() != tt.config.AutoProcess {
				t.Fatalf("AutoProcess() = %t, want %t", p.AutoProcess(), tt.config.AutoProcess)
			}

			want := helloACK(t, 1)
			if _, err := p.PacketConn(0).WriteTo(want, p.Addr(1)); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}
			if !tt.config.AutoProcess {
				if got := recv(t, p, 1, 20*time.Millisecond); got != nil {
					t.Fatal("delivered before Process")
				}
			}

			pending := recvAsync(t, p, 1)
			if !tt.config.AutoProcess {
				if n := p.Process(); n != 1 {
					t.Errorf("Process() = %d, want 1", n)
				}
			}
			got := <-pending
			if !bytes.Equal(got, want) {
				t.Fatalf("received %x, want %x", got, want)
			}
			if !packet.IsZRTP(got) {
				t.Error("delivered datagram is not a ZRTP packet")
			}
		})
	}
}

func TestPipe_BothDirections(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())

	p.PacketConn(0).WriteTo(helloACK(t, 10), nil)
	p.PacketConn(1).WriteTo(helloACK(t, 20), nil)

	for _, tc := range []struct {
		id      int
		wantSeq uint16
	}{{1, 10}, {0, 20}} {
		got := recv(t, p, tc.id, time.Second)
		if got == nil {
			t.Fatalf("end %d received nothing", tc.id)
		}
		if seq := sequenceOf(t, got); seq != tc.wantSeq {
			t.Errorf("end %d received seq %d, want %d", tc.id, seq, tc.wantSeq)
		}
	}
}

func TestPipe_Addresses(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())

	if p.PacketConn(-1) != nil || p.PacketConn(2) != nil {
		t.Error("PacketConn accepted an invalid end")
	}
	for id := 0; id < 2; id++ {
		local := p.PacketConn(id).LocalAddr()
		if local != p.Addr(id) {
			t.Errorf("end %d LocalAddr() = %v, want %v", id, local, p.Addr(id))
		}
		if local.Network() != "pipe" {
			t.Errorf("Network() = %q", local.Network())
		}
	}
	if s := (PipeAddr{ID: 1}).String(); s != "pipe:1" {
		t.Errorf("String() = %q, want pipe:1", s)
	}

	p.PacketConn(1).WriteTo(helloACK(t, 1), nil)
	conn := p.PacketConn(0)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, from, err := conn.ReadFrom(make([]byte, MaxDatagramSize))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if from != p.Addr(1) {
		t.Errorf("ReadFrom() source = %v, want %v", from, p.Addr(1))
	}
}

func TestPipe_DropFilter(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())
	p.SetCondition(NetworkCondition{
		Drop: func(data []byte) bool {
			var h packet.Header
			return h.Decode(data) == nil && h.SequenceNumber == 2
		},
	})

	for seq := uint16(1); seq <= 3; seq++ {
		n, err := p.PacketConn(0).WriteTo(helloACK(t, seq), nil)
		if err != nil || n == 0 {
			t.Fatalf("WriteTo(seq %d) = %d, %v", seq, n, err)
		}
	}

	for _, want := range []uint16{1, 3} {
		got := recv(t, p, 1, time.Second)
		if got == nil {
			t.Fatalf("seq %d not delivered", want)
		}
		if seq := sequenceOf(t, got); seq != want {
			t.Errorf("received seq %d, want %d", seq, want)
		}
	}

	stats := p.Stats()
	if stats.Sent != 3 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v, want 3 sent and 1 dropped", stats)
	}
}

func TestPipe_ConditionFrom(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())
	p.SetConditionFrom(0, NetworkCondition{DropRate: 1})

	if p.Condition(0).DropRate != 1 || p.Condition(1).DropRate != 0 {
		t.Fatalf("conditions = %+v / %+v", p.Condition(0), p.Condition(1))
	}

	p.PacketConn(0).WriteTo(helloACK(t, 1), nil)
	p.PacketConn(1).WriteTo(helloACK(t, 2), nil)

	if got := recv(t, p, 1, 50*time.Millisecond); got != nil {
		t.Error("packet from end 0 survived a drop rate of 1")
	}
	if got := recv(t, p, 0, time.Second); got == nil {
		t.Error("packet from end 1 was lost")
	}
}

func TestPipe_DelayDoesNotBlockSender(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())
	const delay = 50 * time.Millisecond
	p.SetCondition(NetworkCondition{DelayMin: delay, DelayMax: delay})

	start := time.Now()
	p.PacketConn(0).WriteTo(helloACK(t, 1), nil)
	if elapsed := time.Since(start); elapsed >= delay {
		t.Errorf("WriteTo blocked for %v", elapsed)
	}

	if got := recv(t, p, 1, time.Second); got == nil {
		t.Fatal("delayed packet never arrived")
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("arrived after %v, want at least %v", elapsed, delay)
	}
	if p.Stats().Delayed != 1 {
		t.Errorf("Stats().Delayed = %d, want 1", p.Stats().Delayed)
	}
}

func TestPipe_Duplicate(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())
	p.SetCondition(NetworkCondition{DuplicateRate: 1})

	want := helloACK(t, 7)
	p.PacketConn(0).WriteTo(want, nil)

	for i := 0; i < 2; i++ {
		if got := recv(t, p, 1, time.Second); !bytes.Equal(got, want) {
			t.Fatalf("copy %d = %x, want %x", i, got, want)
		}
	}
	if p.Stats().Duplicated != 1 {
		t.Errorf("Stats().Duplicated = %d, want 1", p.Stats().Duplicated)
	}
}

func TestPipe_SeedReproducesLoss(t *testing.T) {
	run := func() uint64 {
		p := newTestPipe(t, PipeConfig{Seed: 6189})
		p.SetCondition(NetworkCondition{DropRate: 0.5})
		for seq := uint16(0); seq < 64; seq++ {
			p.PacketConn(0).WriteTo(helloACK(t, seq), nil)
		}
		return p.Stats().Dropped
	}

	first := run()
	if first == 0 || first == 64 {
		t.Fatalf("dropped %d of 64 packets at a drop rate of 0.5", first)
	}
	if second := run(); second != first {
		t.Errorf("same seed dropped %d then %d packets", first, second)
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	p := newTestPipe(t, DefaultPipeConfig())

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Fatal("AutoProcess() still true")
	}
	p.PacketConn(0).WriteTo(helloACK(t, 1), nil)
	if got := recv(t, p, 1, 20*time.Millisecond); got != nil {
		t.Fatal("delivered with AutoProcess off")
	}

	p.SetAutoProcess(true)
	if got := recv(t, p, 1, time.Second); got == nil {
		t.Fatal("queued packet not delivered after re-enabling AutoProcess")
	}
}

func TestPipe_Tick(t *testing.T) {
	p := newTestPipe(t, PipeConfig{})

	if n := p.Tick(); n != 0 {
		t.Errorf("Tick() on an empty pipe = %d", n)
	}
	p.PacketConn(0).WriteTo(helloACK(t, 1), nil)
	p.PacketConn(0).WriteTo(helloACK(t, 2), nil)

	for _, want := range []uint16{1, 2} {
		pending := recvAsync(t, p, 1)
		if n := p.Tick(); n != 1 {
			t.Fatalf("Tick() = %d, want 1", n)
		}
		got := <-pending
		if got == nil {
			t.Fatalf("seq %d not delivered", want)
		}
		if seq := sequenceOf(t, got); seq != want {
			t.Errorf("seq = %d, want %d", seq, want)
		}
	}
}

func TestPipe_CloseTwice(t *testing.T) {
	p := NewPipe()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if p.AutoProcess() {
		t.Error("AutoProcess() true after Close")
	}
}

func TestDefaultPipeConfig(t *testing.T) {
	c := DefaultPipeConfig()
	if !c.AutoProcess || c.ProcessInterval != time.Millisecond || c.Seed != 0 {
		t.Errorf("DefaultPipeConfig() = %+v", c)
	}
}
