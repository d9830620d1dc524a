package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type page struct {
	Title string    `json:"title" msgpack:"title" cbor:"title"`
	Views int       `json:"views" msgpack:"views" cbor:"views"`
	At    time.Time `json:"at" msgpack:"at" cbor:"at"`
	Tags  []string  `json:"tags" msgpack:"tags" cbor:"tags"`
}

func samplePage() page {
	return page{Title: "home", Views: 7, At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Tags: []string{"a", "b"}}
}

func equalPage(a, b page) bool {
	return a.Title == b.Title && a.Views == b.Views && a.At.Equal(b.At) &&
		strings.Join(a.Tags, ",") == strings.Join(b.Tags, ",")
}

func TestStructCodecs(t *testing.T) {
	cases := []struct {
		name string
		c    Codec[page]
	}{
		{"json", JSON[page]{}},
		{"msgpack", Msgpack[page]{}},
		{"cbor", MustCBOR[page](true)},
		{"cbor", MustCBOR[page](false)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NameOf(tc.c); got != tc.name {
				t.Fatalf("NameOf=%q", got)
			}
			b, err := tc.c.Encode(samplePage())
			if err != nil {
				t.Fatal(err)
			}
			v, err := tc.c.Decode(b)
			if err != nil {
				t.Fatal(err)
			}
			if !equalPage(v, samplePage()) {
				t.Fatalf("got %+v", v)
			}
			if _, err := tc.c.Decode([]byte{0xff, 0x00, 0x13}); err == nil {
				t.Fatalf("garbage must not decode")
			}
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	m := map[string]int{"z": 1, "a": 2, "m": 3}
	first, err := c.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := c.Encode(m)
		if !bytes.Equal(b, first) {
			t.Fatalf("deterministic encoding changed between runs")
		}
	}
}

func TestCBORUntypedMaps(t *testing.T) {
	c := MustCBOR[any](false)
	b, err := c.Encode(map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := v.(map[string]any); !ok || m["k"] != "v" {
		t.Fatalf("got %#v", v)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	if NameOf(c) != "protobuf" {
		t.Fatalf("NameOf=%q", NameOf(c))
	}
	b, err := c.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if v.GetValue() != "hello" {
		t.Fatalf("got %q", v.GetValue())
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if NameOf(c) != "string" {
		t.Fatalf("Limit must report the inner name, got %q", NameOf(c))
	}
	if _, err := c.Decode([]byte("12345")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("got %q, %v", v, err)
	}
	if v, err := (Limit[string]{Inner: String{}}).Decode([]byte("unbounded")); err != nil || v != "unbounded" {
		t.Fatalf("MaxDecode 0 must disable the check")
	}
}

func TestIdentityCodecs(t *testing.T) {
	b, _ := Bytes{}.Encode([]byte{1, 2})
	if v, _ := (Bytes{}).Decode(b); !bytes.Equal(v, []byte{1, 2}) {
		t.Fatalf("bytes round trip")
	}
	s, _ := String{}.Encode("é")
	if v, _ := (String{}).Decode(s); v != "é" {
		t.Fatalf("string round trip")
	}
}

type unnamed struct{}

func (unnamed) Encode(int) ([]byte, error) { return nil, nil }
func (unnamed) Decode([]byte) (int, error) { return 0, nil }

func TestNameOfUnnamed(t *testing.T) {
	if NameOf(unnamed{}) != "" {
		t.Fatalf("unnamed codec must have empty name")
	}
}

func TestMsgpackSortsMapKeys(t *testing.T) {
	c := Msgpack[map[string]int]{}
	a, err := c.Encode(map[string]int{"b": 1, "a": 2, "c": 300})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, _ := c.Encode(map[string]int{"c": 300, "a": 2, "b": 1})
		if !bytes.Equal(a, b) {
			t.Fatalf("equal maps encoded differently")
		}
	}
}

func TestProtobufRejectsNil(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	if _, err := c.Encode(nil); err == nil {
		t.Fatalf("nil message must not encode")
	}
	var zero Protobuf[*wrapperspb.StringValue]
	if _, err := zero.Decode(nil); err == nil {
		t.Fatalf("zero codec must not decode")
	}
}
