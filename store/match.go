package store

import (
	"context"

	"github.com/unkn0wn-root/tagcache/record"
)

// Match is the reference implementation of Filter semantics. Gateways that
// cannot push a filter down to the store evaluate it with Match.
func Match(f Filter, d record.Document) bool {
	if !f.AllNamespaces && d.Namespace != f.Namespace {
		return false
	}
	if f.Key != "" && d.Key != f.Key {
		return false
	}
	if len(f.Tags) > 0 && !matchTags(f.Tags, f.MatchAny, d) {
		return false
	}
	if !f.StaleBefore.IsZero() && !record.IsStale(d, f.StaleBefore) {
		return false
	}
	return true
}

func matchTags(tags []string, matchAny bool, d record.Document) bool {
	for _, t := range tags {
		has := d.HasTag(t)
		if matchAny && has {
			return true
		}
		if !matchAny && !has {
			return false
		}
	}
	return !matchAny
}

// SliceCursor is a Cursor over documents already held in memory.
type SliceCursor struct {
	docs []record.Document
	pos  int
	cur  record.Document
	err  error
}

var _ Cursor = (*SliceCursor)(nil)

func NewSliceCursor(docs []record.Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Document() record.Document { return c.cur }

func (c *SliceCursor) Err() error { return c.err }

func (c *SliceCursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
