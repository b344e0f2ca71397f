//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"firestige.xyz/canstandin/internal/can"
)

// SocketCAN is a raw CAN socket bound to one interface.
type SocketCAN struct {
	fd     int
	drops  uint64
	closed bool
}

// Open creates a raw CAN socket, applies the requested options and binds it
// to opts.Interface. The socket is closed on every failure path.
func Open(opts Options) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: socket(AF_CAN): %w", ErrSocket, err)
	}
	s := &SocketCAN{fd: fd}

	if err := s.configure(opts); err != nil {
		unix.Close(fd)
		return nil, err
	}

	ifi, err := net.InterfaceByName(opts.Interface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownInterface, opts.Interface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, opts.Interface, err)
	}
	return s, nil
}

func (s *SocketCAN) configure(opts Options) error {
	if opts.RxBufSize > 0 {
		if err := s.setInt(unix.SOL_SOCKET, unix.SO_RCVBUF, "SO_RCVBUF", opts.RxBufSize); err != nil {
			return err
		}
	}
	if opts.TxBufSize > 0 {
		if err := s.setInt(unix.SOL_SOCKET, unix.SO_SNDBUF, "SO_SNDBUF", opts.TxBufSize); err != nil {
			return err
		}
	}
	if opts.Variant == can.FD {
		if err := s.setInt(unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, "CAN_RAW_FD_FRAMES", 1); err != nil {
			return err
		}
	}
	if opts.DisableLoopback {
		if err := s.setInt(unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, "CAN_RAW_LOOPBACK", 0); err != nil {
			return err
		}
	}
	if opts.ReceiveOwn {
		if err := s.setInt(unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, "CAN_RAW_RECV_OWN_MSGS", 1); err != nil {
			return err
		}
	}
	if opts.ReceiveTimeout > 0 {
		tv := unix.NsecToTimeval(opts.ReceiveTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return &OptionError{Option: "SO_RCVTIMEO", Value: opts.ReceiveTimeout, Err: err}
		}
	}
	if opts.Filter != nil {
		filters := []unix.CanFilter{{Id: opts.Filter.ID, Mask: opts.Filter.Mask}}
		if err := unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			return &OptionError{Option: "CAN_RAW_FILTER", Value: opts.Filter, Err: err}
		}
	}
	if opts.DiagnosticOnly {
		if err := s.attachDiagnosticFilter(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SocketCAN) setInt(level, opt int, name string, value int) error {
	if err := unix.SetsockoptInt(s.fd, level, opt, value); err != nil {
		return &OptionError{Option: name, Value: value, Err: err}
	}
	return nil
}

func (s *SocketCAN) attachDiagnosticFilter() error {
	raw, err := AssembleDiagnosticFilter()
	if err != nil {
		return &OptionError{Option: "SO_ATTACH_FILTER", Value: "diagnostic", Err: err}
	}
	prog := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		prog[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(prog)), Filter: &prog[0]}
	if err := unix.SetsockoptSockFprog(s.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return &OptionError{Option: "SO_ATTACH_FILTER", Value: "diagnostic", Err: err}
	}
	return nil
}

// Send writes one frame. EINTR is retried; ENOBUFS counts as a drop.
func (s *SocketCAN) Send(b []byte) error {
	for {
		_, err := unix.Write(s.fd, b)
		retry, drop, fatal := classifySendErr(err)
		if retry {
			continue
		}
		if drop {
			s.drops++
		}
		return fatal
	}
}

// Receive reads one frame. EINTR is retried; a receive timeout yields (0, nil).
func (s *SocketCAN) Receive(b []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, b)
		retry, fatal := classifyReceiveErr(err)
		switch {
		case retry:
			continue
		case fatal != nil:
			return 0, fatal
		case err != nil:
			return 0, nil
		}
		return n, nil
	}
}

// classifySendErr maps a write error onto the send rules: EINTR is retried,
// a full transmit queue (ENOBUFS) is a drop and anything else is fatal.
func classifySendErr(err error) (retry, drop bool, fatal error) {
	switch {
	case err == nil:
		return false, false, nil
	case errors.Is(err, unix.EINTR):
		return true, false, nil
	case errors.Is(err, unix.ENOBUFS):
		return false, true, nil
	}
	return false, false, fmt.Errorf("%w: %w", ErrSend, err)
}

// classifyReceiveErr maps a read error onto the receive rules: EINTR is
// retried, EAGAIN/EWOULDBLOCK is a timeout (err set, fatal nil) and anything
// else is fatal.
func classifyReceiveErr(err error) (retry bool, fatal error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, unix.EINTR):
		return true, nil
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return false, nil
	}
	return false, fmt.Errorf("%w: %w", ErrReceive, err)
}

func (s *SocketCAN) TxDrops() uint64 { return s.drops }

// Close releases the socket. Calling it more than once is a no-op.
func (s *SocketCAN) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
