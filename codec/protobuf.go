package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

var errNilMessage = errors.New("codec: nil protobuf message")

// Protobuf serializes protobuf messages deterministically. The zero value
// is NOT ready to use; construct with NewProtobuf.
type Protobuf[T proto.Message] struct {
	new func() T
}

// NewProtobuf returns a codec decoding into messages built by ctor, which
// must return a fresh, non-nil message (e.g. func() *mypb.User { return &mypb.User{} }).
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (Protobuf[T]) Name() string { return "protobuf" }

func (Protobuf[T]) Encode(v T) ([]byte, error) {
	if !v.ProtoReflect().IsValid() {
		return nil, errNilMessage
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	var zero T
	if c.new == nil {
		return zero, errors.New("codec: protobuf codec built without a constructor")
	}
	m := c.new()
	if err := proto.Unmarshal(b, m); err != nil {
		return zero, err
	}
	return m, nil
}
