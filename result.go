package tagcache

import (
	"time"

	"github.com/unkn0wn-root/tagcache/record"
)

// Status tells which of Hit, Miss or Failure a Result holds.
type Status uint8

const (
	StatusMiss Status = iota
	StatusHit
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusFailure:
		return "failure"
	default:
		return "miss"
	}
}

// Entry is a decoded record.
type Entry[V any] struct {
	Key        string
	Namespace  string
	Value      V
	Tags       []string
	TTL        time.Duration
	Created    time.Time
	ExpireAt   time.Time
	Expired    bool
	Attributes map[string]any
}

// Result carries exactly one of Hit(entry), Miss or Failure(err), so a
// missing record can never be confused with a broken store.
type Result[V any] struct {
	status Status
	entry  Entry[V]
	err    error
}

func hit[V any](e Entry[V]) Result[V]   { return Result[V]{status: StatusHit, entry: e} }
func miss[V any]() Result[V]            { return Result[V]{status: StatusMiss} }
func failure[V any](err error) Result[V] { return Result[V]{status: StatusFailure, err: err} }

func (r Result[V]) Status() Status { return r.status }
func (r Result[V]) Hit() bool      { return r.status == StatusHit }
func (r Result[V]) Miss() bool     { return r.status == StatusMiss }
func (r Result[V]) Err() error     { return r.err }

// Value returns the cached value, or the zero V unless Hit.
func (r Result[V]) Value() V { return r.entry.Value }

// Entry returns the decoded record and whether the result is a Hit.
func (r Result[V]) Entry() (Entry[V], bool) { return r.entry, r.status == StatusHit }

func entryOf[V any](d record.Document, v V) Entry[V] {
	var tags []string
	if d.Tags != nil {
		tags = append(make([]string, 0, len(d.Tags)), d.Tags...)
	}
	return Entry[V]{
		Key:        d.Key,
		Namespace:  d.Namespace,
		Value:      v,
		Tags:       tags,
		TTL:        time.Duration(d.TTL) * time.Second,
		Created:    d.Created,
		ExpireAt:   d.ExpireAt,
		Expired:    d.Expired,
		Attributes: d.Attr,
	}
}
