package tagcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

// Store is the base cache surface.
type Store[V any] interface {
	Namespace() string
	Close(context.Context) error

	// Get never reports "not found" or "expired" as an error: both are a Miss.
	Get(ctx context.Context, key string) Result[V]
	Has(ctx context.Context, key string) (bool, error)

	// Set fully replaces the record under key. Tags of a previous record
	// are dropped.
	Set(ctx context.Context, key string, value V, opts ...SetOption) (bool, error)

	// Remove is idempotent: removing an absent key succeeds.
	Remove(ctx context.Context, key string) (bool, error)

	// Flush removes every record in the backing collection, in ALL
	// namespaces that share it, not just this cache's namespace.
	Flush(ctx context.Context) (bool, error)

	// MarkExpired invalidates key without deleting the document: it is moved
	// to an expired marker key and left for an out-of-band sweep. Reports
	// false when key does not exist. Markers have second precision: marking
	// the same key twice within one second replaces the earlier marker.
	MarkExpired(ctx context.Context, key string) (bool, error)
}

// Taggable is implemented by caches that support tag-based retrieval and
// invalidation within their namespace.
type Taggable[V any] interface {
	// SetTags replaces the tag set of key and restarts its expiry clock.
	// An empty set clears tags. Reports false when key does not exist.
	SetTags(ctx context.Context, key string, tags []string) (bool, error)

	// GetTags returns the tags of a live record; ok is false when the record
	// is missing, expired or carries no tag field.
	GetTags(ctx context.Context, key string) (tags []string, ok bool, err error)

	// ClearByTags removes records carrying all tags, or any of them when
	// disjunction is set. An empty tag list matches nothing.
	ClearByTags(ctx context.Context, tags []string, disjunction bool) (bool, error)

	// GetByTags returns the raw matches (no liveness filtering). ok is false
	// when nothing matched; an empty tag list matches nothing.
	GetByTags(ctx context.Context, tags []string, disjunction bool) (m *Matches[V], ok bool, err error)
}

// NamespaceClearer is implemented by caches that can clear any namespace of
// their backing collection.
type NamespaceClearer interface {
	ClearByNamespace(ctx context.Context, namespace string) (bool, error)
}

// Cache is the full capability set returned by New.
type Cache[V any] interface {
	Store[V]
	Taggable[V]
	NamespaceClearer
}

// Options configure a cache. Only Gateway is required.
type Options[V any] struct {
	// Namespace partitions the keyspace; "" => record.DefaultNamespace.
	Namespace string
	// TTL applies to every Set unless overridden with WithTTL. Stored with
	// second precision; 0 disables time-based expiry; negative values are
	// normalised to their absolute value.
	TTL time.Duration

	Gateway store.Gateway
	Codec   c.Codec[V] // nil => codec.JSON[V]

	// FailSoft swallows connection and store-write errors: reads report a
	// Miss, mutations report false, Hooks.StoreError fires. Configuration
	// and invalid-argument errors are always returned.
	FailSoft bool

	// KeepGatewayOpen leaves the gateway open on Close, for gateways shared
	// by several caches.
	KeepGatewayOpen bool

	Logger  Logger  // if nil, NopLogger is used
	Hooks   Hooks   // if nil, NopHooks is used
	Metrics Metrics // if nil, NoopMetrics is used

	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl  int64
	attr map[string]any
}

// WithTTL overrides the cache TTL for one write.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = record.TTLSeconds(ttl) }
}

// WithAttributes attaches auxiliary metadata to one write.
func WithAttributes(attr map[string]any) SetOption {
	return func(o *setOptions) { o.attr = attr }
}

func New[V any](opts Options[V]) (Cache[V], error) {
	cc, err := newCache[V](opts)
	if err != nil {
		return nil, err
	}
	return cc, nil
}

// With opens a cache, runs fn and closes the cache on every exit path,
// including panics. The close error is returned when fn succeeds.
func With[V any](ctx context.Context, opts Options[V], fn func(Cache[V]) error) (err error) {
	cc, err := New[V](opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cc.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return fn(cc)
}
