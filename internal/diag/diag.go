// Package diag implements the quality-test payload carried in the first
// eight data bytes of a frame.
//
//	0..1  magic 0xCA 0xFE
//	2..3  sequence number, big-endian
//	4..5  sender offset in ms mod 65536, big-endian
//	6     test id
//	7     XOR of bytes 0..6
package diag

import (
	"encoding/binary"
	"time"
)

const (
	Magic       uint16 = 0xCAFE
	PayloadSize        = 8

	// TestIDOffset is the position of the test id inside the payload.
	TestIDOffset = 6
)

// Kind classifies a decoded payload.
type Kind uint8

const (
	NotDiagnostic Kind = iota // too short or no magic, ignored
	Malformed                 // magic present, checksum mismatch
	Valid
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Valid:
		return "valid"
	default:
		return "not-diagnostic"
	}
}

// Result is the outcome of Decode. Sequence, SenderOffsetMS and TestID are
// only set for Valid payloads.
type Result struct {
	Kind           Kind
	Sequence       uint16
	SenderOffsetMS uint16
	TestID         uint8
}

// Checksum returns the XOR of all bytes in b.
func Checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// Encode writes a payload into buf. elapsed is the time since the sender
// started; it is truncated to milliseconds mod 65536. Encode does nothing
// when buf is shorter than PayloadSize.
func Encode(buf []byte, seq uint16, elapsed time.Duration, testID uint8) {
	if len(buf) < PayloadSize {
		return
	}
	offset := uint16(uint64(elapsed.Milliseconds()) & 0xFFFF)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint16(buf[4:6], offset)
	buf[TestIDOffset] = testID
	buf[7] = Checksum(buf[:7])
}

// Decode classifies data and extracts the payload fields.
func Decode(data []byte) Result {
	if len(data) < PayloadSize {
		return Result{Kind: NotDiagnostic}
	}
	if binary.BigEndian.Uint16(data[0:2]) != Magic {
		return Result{Kind: NotDiagnostic}
	}
	if Checksum(data[:7]) != data[7] {
		return Result{Kind: Malformed}
	}
	return Result{
		Kind:           Valid,
		Sequence:       binary.BigEndian.Uint16(data[2:4]),
		SenderOffsetMS: binary.BigEndian.Uint16(data[4:6]),
		TestID:         data[TestIDOffset],
	}
}
