// Package transport binds raw CAN sockets and provides an in-memory bus
// with the same semantics for tests.
package transport

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/canstandin/internal/can"
)

// MaxPollInterval caps the receive timeout so run limits are checked
// responsively even without an idle threshold.
const MaxPollInterval = 200 * time.Millisecond

var (
	ErrUnknownInterface = errors.New("transport: unknown interface")
	ErrSocket           = errors.New("transport: socket")
	ErrSocketOption     = errors.New("transport: socket option")
	ErrBind             = errors.New("transport: bind")
	ErrSend             = errors.New("transport: send")
	ErrReceive          = errors.New("transport: receive")
	ErrClosed           = errors.New("transport: closed")
)

// OptionError reports a socket option that could not be applied.
type OptionError struct {
	Option string
	Value  any
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("transport: setsockopt %s=%v: %v", e.Option, e.Value, e.Err)
}

func (e *OptionError) Unwrap() []error { return []error{ErrSocketOption, e.Err} }

// Options configures a transport endpoint. Zero values leave the
// corresponding socket option untouched.
type Options struct {
	Interface       string
	Variant         can.Variant
	RxBufSize       int
	TxBufSize       int
	DisableLoopback bool
	ReceiveOwn      bool
	ReceiveTimeout  time.Duration
	Filter          *can.Filter
	// DiagnosticOnly attaches the kernel filter that passes only frames
	// carrying a diagnostic payload.
	DiagnosticOnly bool
}

// Conn is a raw frame endpoint. Buffers hold whole frames in the wire
// layout of the configured variant.
type Conn interface {
	// Send writes one frame. A full transmit queue is counted as a drop
	// and is not an error.
	Send(b []byte) error
	// Receive reads one frame into b and returns its size. It returns
	// (0, nil) when the receive timeout expires.
	Receive(b []byte) (int, error)
	// TxDrops returns the number of frames dropped on a full queue.
	TxDrops() uint64
	Close() error
}

// Opener opens a Conn.
type Opener func(Options) (Conn, error)

// OpenSocketCAN is the Opener for kernel sockets.
func OpenSocketCAN(opts Options) (Conn, error) {
	s, err := Open(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ReceivePollInterval returns the receive timeout for an idle threshold:
// the threshold itself when shorter than MaxPollInterval, otherwise the cap.
func ReceivePollInterval(idle time.Duration) time.Duration {
	if idle > 0 && idle < MaxPollInterval {
		return idle
	}
	return MaxPollInterval
}
