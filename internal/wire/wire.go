// Package wire frames record documents for byte-oriented stores (Redis,
// bigcache). The body is CBOR; the frame guards against foreign values
// written under keys the cache owns.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/tagcache/record"
)

const (
	version byte = 1
	kindDoc byte = 1

	hdrLen = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("tagcache: corrupt entry")
	magic4     = [...]byte{'T', 'G', 'C', 'R'}

	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// body mirrors record.Document with compact keys. Tags keeps nil distinct
// from empty: nil encodes as CBOR null.
type body struct {
	Key       string         `cbor:"k"`
	Namespace string         `cbor:"n"`
	Data      []byte         `cbor:"d"`
	Codec     string         `cbor:"c,omitempty"`
	Tags      []string       `cbor:"t"`
	TTL       int64          `cbor:"l"`
	Created   int64          `cbor:"cr"`
	ExpireAt  int64          `cbor:"ex"`
	Expired   bool           `cbor:"x,omitempty"`
	Attr      map[string]any `cbor:"a,omitempty"`
}

// Encode: magic(4) | ver(1) | kind(1=doc) | blen(u32 be) | cbor body(blen)
func Encode(d record.Document) ([]byte, error) {
	payload, err := encMode.Marshal(body{
		Key:       d.Key,
		Namespace: d.Namespace,
		Data:      d.Data,
		Codec:     d.Codec,
		Tags:      d.Tags,
		TTL:       d.TTL,
		Created:   d.Created.UnixMilli(),
		ExpireAt:  d.ExpireAt.UnixMilli(),
		Expired:   d.Expired,
		Attr:      d.Attr,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindDoc)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. Trailing bytes are rejected.
func Decode(b []byte) (record.Document, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindDoc {
		return record.Document{}, ErrCorrupt
	}
	off := 6
	blen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if blen < 0 || blen != len(b)-off {
		return record.Document{}, ErrCorrupt
	}

	var bd body
	if err := decMode.Unmarshal(b[off:], &bd); err != nil {
		return record.Document{}, ErrCorrupt
	}
	return record.Document{
		Key:       bd.Key,
		Namespace: bd.Namespace,
		Data:      bd.Data,
		Codec:     bd.Codec,
		Tags:      bd.Tags,
		TTL:       bd.TTL,
		Created:   time.UnixMilli(bd.Created).UTC(),
		ExpireAt:  time.UnixMilli(bd.ExpireAt).UTC(),
		Expired:   bd.Expired,
		Attr:      bd.Attr,
	}, nil
}
