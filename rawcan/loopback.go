// Package rawcan provides concrete implementations of
// isochannel.RawChannel: an in-memory loopback bus for tests and an
// optional Linux SocketCAN bus for real hardware. Both are grounded in
// notnil-canbus's Bus abstraction (loopback.go / socketcan_linux.go),
// adapted to the pass-through batch-message contract the ISO 15765-2
// proxy expects instead of notnil's single-frame Send/Receive.
package rawcan

import (
	"sync"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/pidcodec"
)

// LoopbackBus is an in-memory CAN bus. Endpoints opened from the same bus
// exchange frames as if they shared a physical bus; a frame sent by one
// endpoint is delivered to every other endpoint whose installed pass
// filters match it, matching a real device's "filters gate what reaches
// the read queue" behaviour (spec.md §3 "Filter").
type LoopbackBus struct {
	mu        sync.Mutex
	closed    bool
	endpoints map[*LoopbackChannel]struct{}
}

// NewLoopbackBus creates a new, empty loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*LoopbackChannel]struct{})}
}

// Open creates a new endpoint attached to the bus, implementing
// isochannel.RawChannel.
func (b *LoopbackBus) Open() *LoopbackChannel {
	ep := &LoopbackChannel{
		bus:    b,
		rx:     make(chan passthru.Msg, 64),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ep.closed)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close detaches and closes every endpoint on the bus.
func (b *LoopbackBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeNoLock()
	}
	b.endpoints = nil
}

type passFilter struct {
	id         passthru.FilterID
	maskPID    uint32
	patternPID uint32
}

// LoopbackChannel is one endpoint of a LoopbackBus. It implements
// isochannel.RawChannel.
type LoopbackChannel struct {
	bus    *LoopbackBus
	rx     chan passthru.Msg
	closed chan struct{}

	mu      sync.Mutex
	dead    bool
	filters []passFilter
	nextID  passthru.FilterID
}

// ReadMsgs blocks up to timeout for frames to arrive, filling out as many
// slots as are available without blocking once the first frame lands.
// Returning 0 with a nil error on timeout matches spec.md §7: Timeout is
// soft, never a hard error.
func (c *LoopbackChannel) ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-c.rx:
		if !ok {
			return 0, passthru.ErrDeviceNotConnected
		}
		out[0] = msg
	case <-timer.C:
		return 0, nil
	}

	n := 1
	for n < len(out) {
		select {
		case msg, ok := <-c.rx:
			if !ok {
				return n, nil
			}
			out[n] = msg
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// WriteMsgs broadcasts each frame to every other endpoint on the bus whose
// pass filters match it. The loopback bus never blocks on a slow peer
// beyond timeout; a peer that can't keep up with its buffer simply misses
// the frame, the same way a real CAN receiver would on overrun.
func (c *LoopbackChannel) WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error) {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return 0, passthru.ErrDeviceNotConnected
	}

	deadline := time.Now().Add(timeout)
	count := 0
	for i := range in {
		if time.Until(deadline) <= 0 && i > 0 {
			break
		}
		c.broadcast(in[i])
		count++
	}
	return count, nil
}

func (c *LoopbackChannel) broadcast(frame passthru.Msg) {
	c.bus.mu.Lock()
	if c.bus.closed {
		c.bus.mu.Unlock()
		return
	}
	targets := make([]*LoopbackChannel, 0, len(c.bus.endpoints))
	for ep := range c.bus.endpoints {
		if ep != c {
			targets = append(targets, ep)
		}
	}
	c.bus.mu.Unlock()

	pid := pidOf(&frame)
	for _, t := range targets {
		if !t.acceptsPID(pid) {
			continue
		}
		select {
		case t.rx <- frame:
		case <-t.closed:
		default:
			// Receive buffer full: drop, same as a real controller's
			// overrun behaviour.
		}
	}
}

func (c *LoopbackChannel) acceptsPID(pid uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.filters {
		if pid&f.maskPID == f.patternPID {
			return true
		}
	}
	return false
}

// StartMsgFilter installs a plain pass filter: frames whose PID satisfies
// (pid & mask) == pattern are admitted into this endpoint's read queue.
// Only passthru.PassFilter is meaningful on a loopback bus; anything else
// is rejected as unsupported.
func (c *LoopbackChannel) StartMsgFilter(filterType passthru.FilterType, mask, pattern *passthru.Msg) (passthru.FilterID, error) {
	if filterType != passthru.PassFilter {
		return 0, passthru.ErrUnsupportedOperation
	}
	maskPID, err := mask.PID()
	if err != nil {
		return 0, err
	}
	patternPID, err := pattern.PID()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.filters = append(c.filters, passFilter{id: c.nextID, maskPID: maskPID, patternPID: patternPID})
	return c.nextID, nil
}

// StopMsgFilter removes a previously installed pass filter.
func (c *LoopbackChannel) StopMsgFilter(id passthru.FilterID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.filters {
		if f.id == id {
			c.filters = append(c.filters[:i:i], c.filters[i+1:]...)
			return nil
		}
	}
	return passthru.ErrInvalidFilterID
}

// Ioctl has nothing of its own to service on a loopback bus; everything is
// unsupported.
func (c *LoopbackChannel) Ioctl(passthru.IoctlID, any, any) error {
	return passthru.ErrUnsupportedOperation
}

// Close detaches this endpoint from its bus.
func (c *LoopbackChannel) Close() {
	c.bus.mu.Lock()
	c.closeNoLock()
	c.bus.mu.Unlock()
}

func (c *LoopbackChannel) closeNoLock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return
	}
	c.dead = true
	close(c.closed)
	close(c.rx)
	if c.bus.endpoints != nil {
		delete(c.bus.endpoints, c)
	}
}

func pidOf(msg *passthru.Msg) uint32 {
	if msg.DataSize < 4 {
		return 0
	}
	return pidcodec.UnpackPID([4]byte(msg.Data[0:4]))
}
