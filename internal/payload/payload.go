// Package payload builds the static frame payload from a hex string, an
// explicit length and a fill byte.
package payload

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DefaultLen is used when neither a length nor data is given.
const DefaultLen = 8

var (
	ErrInvalidHex = errors.New("payload: invalid hex")
	ErrTooLong    = errors.New("payload: length exceeds frame capacity")
)

// Build returns the payload of the requested length. Data is decoded with
// ParseHex, then padded with fill or truncated. Without a length the data
// length is used, or DefaultLen when there is no data.
func Build(maxLen int, length *int, data string, fill byte) ([]byte, error) {
	decoded, err := ParseHex(data)
	if err != nil {
		return nil, err
	}

	n := DefaultLen
	switch {
	case length != nil:
		n = *length
	case len(decoded) > 0:
		n = len(decoded)
	}
	if n < 0 || n > maxLen {
		return nil, fmt.Errorf("%w: len %d exceeds max %d", ErrTooLong, n, maxLen)
	}

	out := make([]byte, n)
	copied := copy(out, decoded)
	for i := copied; i < n; i++ {
		out[i] = fill
	}
	return out, nil
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', ',', ':', '-':
		return true
	}
	return false
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// ParseHex decodes "DEADBEEF", "0xDEADBEEF", "DE AD BE EF", "de:ad:be:ef",
// "0xde,0xad" and similar. Tokens split by whitespace, commas, colons or
// dashes may each carry a 0x prefix and must have an even number of digits.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if !strings.ContainsFunc(s, isSeparator) {
		b, err := hex.DecodeString(trimHexPrefix(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
		}
		return b, nil
	}

	var out []byte
	for _, token := range strings.FieldsFunc(s, isSeparator) {
		token = trimHexPrefix(token)
		if token == "" {
			continue
		}
		if len(token)%2 != 0 {
			return nil, fmt.Errorf("%w: odd-length token %q", ErrInvalidHex, token)
		}
		b, err := hex.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
		}
		out = append(out, b...)
	}
	return out, nil
}
