package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition describes how a Pipe mistreats the packets sent by one
// of its ends.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of delivering a packet twice.
	DuplicateRate float64

	// DelayMin and DelayMax bound a uniformly distributed delivery delay.
	// Delayed packets do not block the sender and may overtake each other.
	DelayMin time.Duration
	DelayMax time.Duration

	// Drop, if set, is asked about every packet before the random
	// conditions apply. Returning true drops the packet. It lets tests
	// lose a chosen ZRTP message.
	Drop func(data []byte) bool
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess delivers queued packets from a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is the period of the background delivery.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed seeds the random source of the network conditions, making a
	// lossy run reproducible. Zero seeds from the clock.
	Seed int64
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// PipeStats counts what happened to the packets written to a Pipe.
type PipeStats struct {
	Sent       uint64
	Dropped    uint64
	Duplicated uint64
	Delayed    uint64
}

// Pipe connects two packet endpoints in memory. It is built on pion's
// test.Bridge, which queues the packets written on one end until they are
// delivered to the other, and applies a NetworkCondition per sending end.
//
// Packets are delivered from a background goroutine unless AutoProcess is
// off; then Tick and Process deliver them, giving tests control over
// interleaving.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PipePacketConn

	mu          sync.Mutex
	conditions  [2]NetworkCondition
	rng         *rand.Rand
	autoProcess bool
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closed      bool

	sent, dropped, duplicated, delayed atomic.Uint64
}

// NewPipe creates a pipe with DefaultPipeConfig.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge:   test.NewBridge(),
		rng:      rand.New(rand.NewSource(seed)),
		interval: config.ProcessInterval,
	}
	if p.interval <= 0 {
		p.interval = 1 * time.Millisecond
	}
	p.conns[0] = &PipePacketConn{pipe: p, id: 0, conn: p.bridge.GetConn0()}
	p.conns[1] = &PipePacketConn{pipe: p, id: 1, conn: p.bridge.GetConn1()}

	if config.AutoProcess {
		p.mu.Lock()
		p.startLocked()
		p.mu.Unlock()
	}
	return p
}

func (p *Pipe) startLocked() {
	p.autoProcess = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess turns background delivery on or off.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	if p.closed || p.autoProcess == enabled {
		p.mu.Unlock()
		return
	}
	if enabled {
		p.startLocked()
		p.mu.Unlock()
		return
	}
	p.autoProcess = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// AutoProcess reports whether background delivery is on.
func (p *Pipe) AutoProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoProcess
}

// SetCondition applies cond to the packets sent by both ends.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conditions[0] = cond
	p.conditions[1] = cond
}

// SetConditionFrom applies cond to the packets sent by end id only.
func (p *Pipe) SetConditionFrom(id int, cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conditions[id&1] = cond
}

// Condition returns the condition applied to the packets sent by end id.
func (p *Pipe) Condition(id int) NetworkCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conditions[id&1]
}

// Stats returns the packet counters.
func (p *Pipe) Stats() PipeStats {
	return PipeStats{
		Sent:       p.sent.Load(),
		Dropped:    p.dropped.Load(),
		Duplicated: p.duplicated.Load(),
		Delayed:    p.delayed.Load(),
	}
}

// PacketConn returns end id (0 or 1) of the pipe, or nil.
func (p *Pipe) PacketConn(id int) *PipePacketConn {
	if id != 0 && id != 1 {
		return nil
	}
	return p.conns[id]
}

// Addr returns the address of end id.
func (p *Pipe) Addr(id int) net.Addr {
	return PipeAddr{ID: id}
}

// Tick delivers at most one queued packet in each direction and returns
// how many were delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued packet and returns how many were
// delivered.
func (p *Pipe) Process() int {
	total := 0
	for n := p.Tick(); n > 0; n = p.Tick() {
		total += n
	}
	return total
}

// Close stops background delivery and closes both ends.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		p.autoProcess = false
		close(p.stopCh)
	}
	p.mu.Unlock()
	p.wg.Wait()

	err0 := p.conns[0].Close()
	err1 := p.conns[1].Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// fate decides what happens to a packet sent by end id: how many copies
// are delivered and after which delay.
func (p *Pipe) fate(id int, data []byte) (copies int, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.conditions[id]
	if cond.Drop != nil && cond.Drop(data) {
		return 0, 0
	}
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		return 0, 0
	}
	copies = 1
	if cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate {
		copies = 2
	}
	delay = cond.DelayMin
	if span := cond.DelayMax - cond.DelayMin; span > 0 {
		delay += time.Duration(p.rng.Int63n(int64(span)))
	}
	return copies, delay
}

// PipeAddr is the address of a pipe end.
type PipeAddr struct {
	ID int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns "pipe:<id>".
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipePacketConn is one end of a Pipe. It implements net.PacketConn; the
// destination address of WriteTo is ignored since a pipe end has a single
// peer.
type PipePacketConn struct {
	pipe *Pipe
	id   int
	conn net.Conn
}

var _ net.PacketConn = (*PipePacketConn)(nil)

// ReadFrom reads the next packet delivered to this end.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, PipeAddr{ID: 1 - c.id}, err
}

// WriteTo queues b for the other end, subject to the network condition.
// A dropped packet is reported as written.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.pipe.sent.Add(1)
	copies, delay := c.pipe.fate(c.id, b)
	switch {
	case copies == 0:
		c.pipe.dropped.Add(1)
		return len(b), nil
	case copies > 1:
		c.pipe.duplicated.Add(1)
	}

	if delay > 0 {
		c.pipe.delayed.Add(1)
		data := append([]byte(nil), b...)
		time.AfterFunc(delay, func() {
			for i := 0; i < copies; i++ {
				_, _ = c.conn.Write(data)
			}
		})
		return len(b), nil
	}

	for i := 0; i < copies; i++ {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Close closes this end.
func (c *PipePacketConn) Close() error { return c.conn.Close() }

// LocalAddr returns the address of this end.
func (c *PipePacketConn) LocalAddr() net.Addr { return PipeAddr{ID: c.id} }

// SetDeadline sets the read and write deadlines.
func (c *PipePacketConn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// SetReadDeadline sets the read deadline.
func (c *PipePacketConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline.
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
