// Package can implements the SocketCAN frame model: identifier flags,
// classic and FD frame layouts, ingress filters and frame dumps.
package can

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Identifier flags and masks, as in linux/can.h.
const (
	EFFFlag uint32 = 0x80000000 // extended frame format
	RTRFlag uint32 = 0x40000000 // remote transmission request
	ERRFlag uint32 = 0x20000000 // error frame

	SFFMask uint32 = 0x000007FF
	EFFMask uint32 = 0x1FFFFFFF
)

// Frame sizes.
const (
	MaxClassicLen = 8
	MaxFDLen      = 64

	ClassicFrameSize = 16 // struct can_frame
	FDFrameSize      = 72 // struct canfd_frame
)

var (
	ErrIDOutOfRange   = errors.New("can: identifier out of range")
	ErrMaskRequiresID = errors.New("can: mask requires id")
	ErrInvalidLen     = errors.New("can: invalid data length")
	ErrShortBuffer    = errors.New("can: short buffer")
)

// Variant selects the frame layout used on the wire.
type Variant uint8

const (
	Classic Variant = iota // 8 data bytes
	FD                     // 64 data bytes
)

// VariantFor returns FD when fd is set, Classic otherwise.
func VariantFor(fd bool) Variant {
	if fd {
		return FD
	}
	return Classic
}

// Capacity returns the size of the data area.
func (v Variant) Capacity() int {
	if v == FD {
		return MaxFDLen
	}
	return MaxClassicLen
}

// WireSize returns the full frame size on the socket.
func (v Variant) WireSize() int {
	if v == FD {
		return FDFrameSize
	}
	return ClassicFrameSize
}

func (v Variant) String() string {
	if v == FD {
		return "fd"
	}
	return "classic"
}

// Frame is a CAN or CAN FD frame. ID carries the raw identifier together
// with the EFF/RTR/ERR flags. Flags is only meaningful for FD frames.
type Frame struct {
	ID    uint32
	Len   uint8
	Flags uint8
	Data  [MaxFDLen]byte
}

// Extended reports whether the EFF flag is set.
func (f *Frame) Extended() bool { return f.ID&EFFFlag != 0 }

// Remote reports whether the RTR flag is set.
func (f *Frame) Remote() bool { return f.ID&RTRFlag != 0 }

// Error reports whether the ERR flag is set.
func (f *Frame) Error() bool { return f.ID&ERRFlag != 0 }

// RawID returns the identifier without flags, masked to its format width.
func (f *Frame) RawID() uint32 {
	if f.Extended() {
		return f.ID & EFFMask
	}
	return f.ID & SFFMask
}

// Payload returns the declared data bytes, clamped to the variant capacity.
func (f *Frame) Payload(v Variant) []byte {
	n := int(f.Len)
	if n > v.Capacity() {
		n = v.Capacity()
	}
	return f.Data[:n]
}

// Fill sets every data byte of the variant to b.
func (f *Frame) Fill(v Variant, b byte) {
	for i := 0; i < v.Capacity(); i++ {
		f.Data[i] = b
	}
}

// MarshalTo encodes the frame into buf using the layout of v and returns
// the number of bytes written.
//
// Layout (host byte order for the id field):
//
//	0..3  can_id with EFF/RTR/ERR flags
//	4     len
//	5     flags (FD) / padding (classic)
//	6..7  reserved
//	8..   data (8 or 64 bytes)
func (f *Frame) MarshalTo(v Variant, buf []byte) (int, error) {
	size := v.WireSize()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d bytes, got %d", ErrShortBuffer, size, len(buf))
	}
	if int(f.Len) > v.Capacity() {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrInvalidLen, f.Len, v.Capacity())
	}
	binary.NativeEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = f.Len
	if v == FD {
		buf[5] = f.Flags
	} else {
		buf[5] = 0
	}
	buf[6] = 0
	buf[7] = 0
	copy(buf[8:size], f.Data[:v.Capacity()])
	return size, nil
}

// UnmarshalFrom decodes a frame of layout v from buf. A declared length
// larger than the data area is clamped to the variant capacity.
func (f *Frame) UnmarshalFrom(v Variant, buf []byte) error {
	size := v.WireSize()
	if len(buf) < size {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrShortBuffer, size, len(buf))
	}
	f.ID = binary.NativeEndian.Uint32(buf[0:4])
	f.Len = buf[4]
	if int(f.Len) > v.Capacity() {
		f.Len = uint8(v.Capacity())
	}
	f.Flags = 0
	if v == FD {
		f.Flags = buf[5]
	}
	copy(f.Data[:], buf[8:size])
	return nil
}

// BuildIdentifier encodes raw as a can_id. The EFF flag is set when
// forceExtended is true or raw does not fit the 11-bit base format.
func BuildIdentifier(raw uint32, forceExtended bool) (uint32, error) {
	if raw > EFFMask {
		return 0, fmt.Errorf("%w: 0x%X", ErrIDOutOfRange, raw)
	}
	id := raw
	if forceExtended || raw > SFFMask {
		id |= EFFFlag
	}
	return id, nil
}
