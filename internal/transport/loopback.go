package transport

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/bpf"

	"firestige.xyz/canstandin/internal/can"
)

// DefaultLoopbackDepth is the per-endpoint queue length.
const DefaultLoopbackDepth = 4096

// LoopbackBus is an in-memory CAN bus for tests and simulations.
// Endpoints opened on the same interface name exchange frames with the
// delivery rules of a virtual CAN interface: filters, the diagnostic
// socket filter, FD opt-in, local loopback and own-message reception.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	depth     int
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates a bus whose endpoints queue up to depth frames.
func NewLoopbackBus(depth int) *LoopbackBus {
	if depth <= 0 {
		depth = DefaultLoopbackDepth
	}
	return &LoopbackBus{depth: depth, endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint. It matches the Opener signature.
func (b *LoopbackBus) Open(opts Options) (Conn, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownInterface)
	}
	ep := &loopEndpoint{
		bus:    b,
		opts:   opts,
		ch:     make(chan []byte, b.depth),
		closed: make(chan struct{}),
	}
	if opts.DiagnosticOnly {
		vm, err := bpf.NewVM(DiagnosticFilter())
		if err != nil {
			return nil, &OptionError{Option: "SO_ATTACH_FILTER", Value: "diagnostic", Err: err}
		}
		ep.vm = vm
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.endpoints[ep] = struct{}{}
	return ep, nil
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.markClosed()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	opts   Options
	vm     *bpf.VM
	ch     chan []byte
	once   sync.Once
	closed chan struct{}
	drops  atomic.Uint64
}

// accepts applies the receive-side rules of ep to one frame.
func (e *loopEndpoint) accepts(frame []byte) bool {
	if len(frame) == can.FDFrameSize && e.opts.Variant != can.FD {
		return false
	}
	if len(frame) < 4 {
		return false
	}
	if f := e.opts.Filter; f != nil && !f.Match(binary.NativeEndian.Uint32(frame[0:4])) {
		return false
	}
	if e.vm != nil {
		n, err := e.vm.Run(frame)
		if err != nil || n == 0 {
			return false
		}
	}
	return true
}

// Send delivers the frame to every matching endpoint on the same interface.
// A full target queue counts as a drop.
func (e *loopEndpoint) Send(b []byte) error {
	select {
	case <-e.closed:
		return fmt.Errorf("%w: %w", ErrSend, ErrClosed)
	default:
	}
	if e.opts.DisableLoopback {
		return nil
	}
	frame := append([]byte(nil), b...)

	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return fmt.Errorf("%w: %w", ErrSend, ErrClosed)
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep.opts.Interface != e.opts.Interface {
			continue
		}
		if ep == e && !e.opts.ReceiveOwn {
			continue
		}
		targets = append(targets, ep)
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		if !t.accepts(frame) {
			continue
		}
		select {
		case t.ch <- frame:
		case <-t.closed:
		default:
			e.drops.Add(1)
		}
	}
	return nil
}

// Receive waits up to the receive timeout for the next frame.
func (e *loopEndpoint) Receive(b []byte) (int, error) {
	var timeout <-chan time.Time
	if e.opts.ReceiveTimeout > 0 {
		t := time.NewTimer(e.opts.ReceiveTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case f := <-e.ch:
		return copy(b, f), nil
	case <-e.closed:
		return 0, fmt.Errorf("%w: %w", ErrReceive, ErrClosed)
	case <-timeout:
		return 0, nil
	}
}

func (e *loopEndpoint) TxDrops() uint64 { return e.drops.Load() }

// Close detaches the endpoint from the bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	e.markClosed()
	return nil
}

func (e *loopEndpoint) markClosed() {
	e.once.Do(func() { close(e.closed) })
}
