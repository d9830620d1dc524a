// Package store defines the document-store abstraction used by tagcache.
//
// A Gateway persists record.Document values and answers filter queries over
// them. It is responsible for translating a Filter into the native query
// language of the backing store, and for reporting failures as *Error so the
// cache can tell a broken store apart from a missing record.
//
// Every mutation must be atomic per document and acknowledged by the store
// before returning. Gateways add no cross-document locking.
package store

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tagcache/record"
)

// Filter selects documents. The zero value of each field means "no
// constraint", except Namespace: an empty Namespace only matches everything
// when AllNamespaces is set, which keeps an unset namespace from widening a
// delete to the whole collection by accident.
type Filter struct {
	Namespace     string
	AllNamespaces bool

	Key string

	// Tags must all be present (conjunction) unless MatchAny is set, in
	// which case any one of them is enough (disjunction).
	Tags     []string
	MatchAny bool

	// StaleBefore selects documents that are manually expired or TTL-bound
	// and whose ExpireAt is strictly older than the given instant.
	StaleBefore time.Time
}

// ByKey selects one document by its composite identity.
func ByKey(ns, key string) Filter { return Filter{Namespace: ns, Key: key} }

// ByNamespace selects every document in ns.
func ByNamespace(ns string) Filter { return Filter{Namespace: ns} }

// ByTags selects documents in ns carrying all of tags, or any one of them
// when matchAny is set.
func ByTags(ns string, tags []string, matchAny bool) Filter {
	return Filter{Namespace: ns, Tags: tags, MatchAny: matchAny}
}

// All selects every document regardless of namespace.
func All() Filter { return Filter{AllNamespaces: true} }

// Gateway is the contract the cache engine consumes.
type Gateway interface {
	// FindOne returns (doc, true, nil) on hit and (zero, false, nil) on miss.
	FindOne(ctx context.Context, f Filter) (record.Document, bool, error)

	// FindMany returns a lazy cursor over matching documents. The caller
	// must Close it.
	FindMany(ctx context.Context, f Filter) (Cursor, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, f Filter) (int64, error)

	// Upsert fully replaces the document identified by f (namespace + key)
	// or inserts it. Fields of a previous version are never merged.
	Upsert(ctx context.Context, f Filter, doc record.Document) error

	// Update applies p to the single document identified by f and reports
	// whether a document matched.
	Update(ctx context.Context, f Filter, p record.Patch) (bool, error)

	// DeleteMany removes every matching document and returns how many were
	// removed. Removing nothing is not an error.
	DeleteMany(ctx context.Context, f Filter) (int64, error)

	// Close releases resources owned by the gateway.
	Close(ctx context.Context) error
}

// Cursor iterates over query results. Modeled on database cursors: call
// Next until it returns false, then check Err.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() record.Document
	Err() error
	Close(ctx context.Context) error
}
