// Package codec converts cached values to and from the opaque payload
// stored in a record's data field.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Named is implemented by codecs that label the payloads they produce.
// The label is persisted next to the payload so a reader configured with
// a different codec treats the record as unreadable instead of guessing.
type Named interface {
	Name() string
}

// NameOf returns the codec's label, or "" when it does not implement Named.
func NameOf(c any) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return ""
}
