package tagcache

import (
	"context"
	"iter"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

// Matches is a lazy sequence of records returned by GetByTags. Records are
// fetched and decoded one at a time; no liveness filtering is applied.
// Always Close a Matches.
type Matches[V any] struct {
	cur   store.Cursor
	codec c.Codec[V]
	n     int64

	entry Entry[V]
	err   error
}

func newMatches[V any](cur store.Cursor, cd c.Codec[V], n int64) *Matches[V] {
	return &Matches[V]{cur: cur, codec: cd, n: n}
}

// Len is the match count observed when the query was issued. Concurrent
// writers may change what the cursor actually yields.
func (m *Matches[V]) Len() int64 { return m.n }

// Next advances to the next record. It returns false at the end of the
// sequence or on error; check Err.
func (m *Matches[V]) Next(ctx context.Context) bool {
	if m.err != nil || !m.cur.Next(ctx) {
		return false
	}
	d := m.cur.Document()
	v, err := record.Decode(m.codec, d)
	if err != nil {
		m.err = err
		return false
	}
	m.entry = entryOf(d, v)
	return true
}

func (m *Matches[V]) Entry() Entry[V] { return m.entry }

func (m *Matches[V]) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.cur.Err()
}

func (m *Matches[V]) Close(ctx context.Context) error { return m.cur.Close(ctx) }

// All ranges over the remaining records. Iteration stops after yielding an
// error. All does not close m.
func (m *Matches[V]) All(ctx context.Context) iter.Seq2[Entry[V], error] {
	return func(yield func(Entry[V], error) bool) {
		for m.Next(ctx) {
			if !yield(m.entry, nil) {
				return
			}
		}
		if err := m.Err(); err != nil {
			var zero Entry[V]
			yield(zero, err)
		}
	}
}
