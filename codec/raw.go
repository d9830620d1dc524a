package codec

// Bytes is an identity codec for []byte values.
type Bytes struct{}

var _ Codec[[]byte] = Bytes{}

func (Bytes) Name() string                   { return "bytes" }
func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their UTF-8 bytes without validation.
type String struct{}

var _ Codec[string] = String{}

func (String) Name() string                   { return "string" }
func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
