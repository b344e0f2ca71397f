//go:build !linux

package transport

import (
	"errors"
	"fmt"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{}

// Open always fails outside Linux.
func Open(opts Options) (*SocketCAN, error) {
	return nil, fmt.Errorf("%w: socketcan on %s: %w", ErrSocket, opts.Interface, errors.ErrUnsupported)
}

func (s *SocketCAN) Send([]byte) error { return errors.ErrUnsupported }
func (s *SocketCAN) Receive([]byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *SocketCAN) TxDrops() uint64 { return 0 }
func (s *SocketCAN) Close() error { return nil }
