package decoder

import (
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/diag"
)

func wire(t *testing.T, v can.Variant, id uint32, data []byte) []byte {
	t.Helper()
	f := can.Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	buf := make([]byte, v.WireSize())
	_, err := f.MarshalTo(v, buf)
	require.NoError(t, err)
	return buf
}

func diagPayload(n int, seq uint16, testID uint8) []byte {
	data := make([]byte, n)
	diag.Encode(data, seq, 1500*time.Millisecond, testID)
	return data
}

func TestDecodePlainFrame(t *testing.T) {
	d := NewDecoder()
	res, err := d.Decode(wire(t, can.Classic, 0x123, []byte{1, 2, 3, 4}))
	require.NoError(t, err)

	assert.Equal(t, can.Classic, res.Variant)
	assert.Equal(t, uint32(0x123), res.ID)
	assert.Equal(t, []byte{1, 2, 3, 4}, res.Data)
	assert.Equal(t, diag.NotDiagnostic, res.Diag.Kind)
	assert.Equal(t, uint64(1), d.Frames())
}

func TestDecodeEmptyFrame(t *testing.T) {
	res, err := NewDecoder().Decode(wire(t, can.Classic, 0x7FF, nil))
	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.Equal(t, diag.NotDiagnostic, res.Diag.Kind)
}

func TestDecodeDiagnostic(t *testing.T) {
	tests := []struct {
		name    string
		variant can.Variant
		n       int
	}{
		{"classic", can.Classic, 8},
		{"fd exact", can.FD, 8},
		{"fd with trailer", can.FD, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			res, err := d.Decode(wire(t, tt.variant, 0x18DAF110|can.EFFFlag, diagPayload(tt.n, 513, 7)))
			require.NoError(t, err)

			assert.Equal(t, tt.variant, res.Variant)
			assert.Len(t, res.Data, tt.n)
			assert.Equal(t, diag.Result{Kind: diag.Valid, Sequence: 513, SenderOffsetMS: 1500, TestID: 7}, res.Diag)
			assert.Equal(t, uint64(1), d.Valid())
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	data := diagPayload(8, 1, 1)
	data[7] ^= 0x01

	d := NewDecoder()
	res, err := d.Decode(wire(t, can.Classic, 0x123, data))
	require.NoError(t, err)
	assert.Equal(t, diag.Malformed, res.Diag.Kind)
	assert.Equal(t, uint64(1), d.Malformed())

	// the decoder recovers on the next frame
	res, err = d.Decode(wire(t, can.Classic, 0x123, diagPayload(8, 2, 1)))
	require.NoError(t, err)
	assert.Equal(t, diag.Valid, res.Diag.Kind)
	assert.Equal(t, uint16(2), res.Diag.Sequence)
}

func TestDecodeMagicTooShort(t *testing.T) {
	// magic present but the declared length cannot hold a payload
	res, err := NewDecoder().Decode(wire(t, can.Classic, 0x123, []byte{0xCA, 0xFE, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, diag.NotDiagnostic, res.Diag.Kind)
}

func TestDecodeClampsLength(t *testing.T) {
	buf := wire(t, can.Classic, 0x123, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	buf[4] = 15
	res, err := NewDecoder().Decode(buf)
	require.NoError(t, err)
	assert.Len(t, res.Data, can.MaxClassicLen)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := NewDecoder().Decode(make([]byte, 10))
	assert.ErrorIs(t, err, can.ErrShortBuffer)
}

func TestNewPacket(t *testing.T) {
	pkt := gopacket.NewPacket(wire(t, can.Classic, 0x321, diagPayload(8, 9, 3)), LayerTypeCANFrame, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	frame, ok := pkt.Layer(LayerTypeCANFrame).(*CANFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(0x321), frame.Frame.RawID())

	dl, ok := pkt.Layer(LayerTypeDiagnostic).(*Diagnostic)
	require.True(t, ok)
	assert.Equal(t, uint16(9), dl.Sequence)
	assert.Equal(t, uint8(3), dl.TestID)
}
