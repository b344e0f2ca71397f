// Package decoder classifies raw SocketCAN frames with gopacket decoding
// layers: the frame header and, when present, the diagnostic payload.
package decoder

import (
	"errors"

	"github.com/google/gopacket"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/diag"
)

// Result is one decoded frame. Data aliases the input buffer.
type Result struct {
	Variant can.Variant
	ID      uint32
	Data    []byte
	Diag    diag.Result
}

// Decoder reuses its layers across calls. It is not safe for concurrent use.
type Decoder struct {
	parser *gopacket.DecodingLayerParser

	frame CANFrame
	diag  Diagnostic

	decoded []gopacket.LayerType

	statistics
}

type statistics struct {
	frames    uint64
	valid     uint64
	malformed uint64
}

func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 2)}
	d.parser = gopacket.NewDecodingLayerParser(LayerTypeCANFrame, &d.frame, &d.diag)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode parses one frame as read from the socket. A checksum mismatch in
// the diagnostic payload is reported as diag.Malformed, not as an error.
func (d *Decoder) Decode(buf []byte) (Result, error) {
	err := d.parser.DecodeLayers(buf, &d.decoded)
	if len(d.decoded) == 0 {
		if err == nil {
			err = can.ErrShortBuffer
		}
		return Result{}, err
	}

	res := Result{
		Variant: d.frame.Variant,
		ID:      d.frame.Frame.ID,
		Data:    d.frame.LayerPayload(),
		Diag:    diag.Result{Kind: diag.NotDiagnostic},
	}
	d.frames++

	switch {
	case errors.Is(err, ErrMalformedDiagnostic):
		res.Diag = diag.Result{Kind: diag.Malformed}
		d.malformed++
	case err != nil:
		return Result{}, err
	case len(d.decoded) > 1 && d.decoded[1] == LayerTypeDiagnostic:
		res.Diag = d.diag.Result
		d.valid++
	}
	return res, nil
}

// Frames returns the number of frames decoded.
func (d *Decoder) Frames() uint64 { return d.frames }

// Valid returns the number of valid diagnostic payloads.
func (d *Decoder) Valid() uint64 { return d.valid }

// Malformed returns the number of diagnostic payloads with a bad checksum.
func (d *Decoder) Malformed() uint64 { return d.malformed }
