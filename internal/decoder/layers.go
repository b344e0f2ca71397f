package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/diag"
)

var ErrMalformedDiagnostic = errors.New("decoder: diagnostic checksum mismatch")

// Layer types for raw SocketCAN frames and the diagnostic payload.
var (
	LayerTypeCANFrame = gopacket.RegisterLayerType(2401, gopacket.LayerTypeMetadata{
		Name:    "CANFrame",
		Decoder: gopacket.DecodeFunc(decodeCANFrame),
	})
	LayerTypeDiagnostic = gopacket.RegisterLayerType(2402, gopacket.LayerTypeMetadata{
		Name:    "CANDiagnostic",
		Decoder: gopacket.DecodeFunc(decodeDiagnostic),
	})
)

// CANFrame is a classic or FD frame read from a raw socket. The variant
// follows from the buffer size. Its payload is the declared data.
type CANFrame struct {
	layers.BaseLayer
	Variant can.Variant
	Frame   can.Frame
}

func (c *CANFrame) LayerType() gopacket.LayerType { return LayerTypeCANFrame }

func (c *CANFrame) CanDecode() gopacket.LayerClass { return LayerTypeCANFrame }

// NextLayerType is the diagnostic layer when the payload starts with the
// diagnostic magic and is long enough to hold it.
func (c *CANFrame) NextLayerType() gopacket.LayerType {
	if len(c.Payload) >= diag.PayloadSize && binary.BigEndian.Uint16(c.Payload) == diag.Magic {
		return LayerTypeDiagnostic
	}
	return gopacket.LayerTypeZero
}

func (c *CANFrame) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	switch {
	case len(data) >= can.FDFrameSize:
		c.Variant = can.FD
	case len(data) >= can.ClassicFrameSize:
		c.Variant = can.Classic
	default:
		df.SetTruncated()
		return fmt.Errorf("%w: %d byte frame", can.ErrShortBuffer, len(data))
	}
	size := c.Variant.WireSize()
	if err := c.Frame.UnmarshalFrom(c.Variant, data[:size]); err != nil {
		return err
	}
	c.Contents = data[:8]
	c.Payload = data[8 : 8+int(c.Frame.Len)]
	return nil
}

func decodeCANFrame(data []byte, p gopacket.PacketBuilder) error {
	c := &CANFrame{}
	if err := c.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(c)
	next := c.NextLayerType()
	if next == gopacket.LayerTypeZero {
		if len(c.Payload) == 0 {
			return nil
		}
		next = gopacket.LayerTypePayload
	}
	return p.NextDecoder(next)
}

// Diagnostic is the eight-byte quality-test payload.
type Diagnostic struct {
	layers.BaseLayer
	diag.Result
}

func (d *Diagnostic) LayerType() gopacket.LayerType { return LayerTypeDiagnostic }

func (d *Diagnostic) CanDecode() gopacket.LayerClass { return LayerTypeDiagnostic }

func (d *Diagnostic) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes fails with ErrMalformedDiagnostic on a checksum mismatch.
func (d *Diagnostic) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < diag.PayloadSize {
		df.SetTruncated()
		return fmt.Errorf("%w: %d byte diagnostic", can.ErrShortBuffer, len(data))
	}
	d.Result = diag.Decode(data)
	if d.Kind == diag.Malformed {
		return ErrMalformedDiagnostic
	}
	d.Contents = data[:diag.PayloadSize]
	d.Payload = data[diag.PayloadSize:]
	return nil
}

func decodeDiagnostic(data []byte, p gopacket.PacketBuilder) error {
	d := &Diagnostic{}
	if err := d.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(d)
	if len(d.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(gopacket.LayerTypePayload)
}
