package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", nil},
		{"   ", nil},
		{"DEADBEEF", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"0xdeadbeef", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"DE AD BE EF", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"de:ad:be:ef", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"0x01,0x02, 0x03", []byte{1, 2, 3}},
		{"01-0203", []byte{1, 2, 3}},
		{"0x 11", []byte{0x11}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHexErrors(t *testing.T) {
	for _, in := range []string{"ABC", "0xZZ", "01 234", "GG:00"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseHex(in)
			assert.ErrorIs(t, err, ErrInvalidHex)
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		maxLen int
		length *int
		data   string
		fill   byte
		want   []byte
	}{
		{"default", 8, nil, "", 0xAA, []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}},
		{"data length", 8, nil, "0102", 0xAA, []byte{1, 2}},
		{"padded", 8, intp(4), "01", 0xAA, []byte{1, 0xAA, 0xAA, 0xAA}},
		{"truncated", 8, intp(2), "010203", 0, []byte{1, 2}},
		{"zero length", 8, intp(0), "", 0xAA, []byte{}},
		{"fd", 64, intp(64), "", 0x55, bytesOf(64, 0x55)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.maxLen, tt.length, tt.data, tt.fill)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildTooLong(t *testing.T) {
	_, err := Build(8, intp(9), "", 0)
	assert.ErrorIs(t, err, ErrTooLong)

	_, err = Build(8, nil, "010203040506070809", 0)
	assert.ErrorIs(t, err, ErrTooLong)
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
