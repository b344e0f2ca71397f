package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32(v uint32) *uint32 { return &v }

func TestBuildFilterNoID(t *testing.T) {
	f, err := BuildFilter(nil, nil, false)
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = BuildFilter(nil, u32(0x7FF), false)
	assert.ErrorIs(t, err, ErrMaskRequiresID)
}

func TestBuildFilterDefaultMask(t *testing.T) {
	f, err := BuildFilter(u32(0x123), nil, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.ID)
	assert.Equal(t, SFFMask|EFFFlag, f.Mask)

	assert.True(t, f.Match(0x123))
	assert.False(t, f.Match(0x124))
	// Same numeric id in extended format must not match a base filter.
	assert.False(t, f.Match(0x123|EFFFlag))
}

func TestBuildFilterExtended(t *testing.T) {
	f, err := BuildFilter(u32(0x123), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 0x123|EFFFlag, f.ID)
	assert.Equal(t, EFFMask|EFFFlag, f.Mask)
	assert.True(t, f.Match(0x123|EFFFlag))
	assert.False(t, f.Match(0x123))

	f, err = BuildFilter(u32(0x18DAF110), nil, false)
	require.NoError(t, err)
	assert.Equal(t, EFFMask|EFFFlag, f.Mask)
}

func TestBuildFilterExplicitMask(t *testing.T) {
	f, err := BuildFilter(u32(0x120), u32(0x7F0), false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7F0), f.Mask)
	assert.True(t, f.Match(0x12F))
	assert.False(t, f.Match(0x130))
	assert.Equal(t, "00000120:000007F0", f.String())
}

func TestBuildFilterOutOfRange(t *testing.T) {
	_, err := BuildFilter(u32(0x20000000), nil, false)
	assert.ErrorIs(t, err, ErrIDOutOfRange)
}

func TestDump(t *testing.T) {
	tests := []struct {
		name     string
		id       uint32
		data     []byte
		expected string
	}{
		{"base", 0x123, []byte{0xDE, 0xAD, 0xBE, 0xEF}, "123 [4] DE AD BE EF"},
		{"extended", 0x1ABCDEFF | EFFFlag, []byte{0x01}, "1ABCDEFF [1] 01"},
		{"rtr", 0x7FF | RTRFlag, nil, "RTR 7FF [0] "},
		{"err", 0x004 | ERRFlag, []byte{0, 0x10}, "ERR 004 [2] 00 10"},
		{"err wins over rtr", 0x123 | ERRFlag | RTRFlag, nil, "ERR 123 [0] "},
		{"extended rtr", 0x1ABCDEFF | EFFFlag | RTRFlag, nil, "RTR 1ABCDEFF [0] "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Dump(tt.id, tt.data))
		})
	}
}
