package record

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tagcache/codec"
)

// ErrCodecMismatch is returned by Decode when the document was written by
// a different codec than the one reading it.
var ErrCodecMismatch = errors.New("record: codec mismatch")

// Encode serializes v with c and returns the payload plus the codec label
// to persist alongside it.
func Encode[V any](c codec.Codec[V], v V) ([]byte, string, error) {
	b, err := c.Encode(v)
	if err != nil {
		return nil, "", fmt.Errorf("record: encode: %w", err)
	}
	return b, codec.NameOf(c), nil
}

// Decode deserializes the payload of d with c. Documents without a codec
// label (written by foreign producers) are decoded optimistically.
func Decode[V any](c codec.Codec[V], d Document) (V, error) {
	var zero V
	if name := codec.NameOf(c); d.Codec != "" && name != "" && d.Codec != name {
		return zero, fmt.Errorf("%w: stored %q, reading with %q", ErrCodecMismatch, d.Codec, name)
	}
	v, err := c.Decode(d.Data)
	if err != nil {
		return zero, fmt.Errorf("record: decode: %w", err)
	}
	return v, nil
}
