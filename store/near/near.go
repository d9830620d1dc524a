// Package near wraps a store.Gateway with a process-local ristretto cache
// for exact (namespace, key) lookups.
//
// Concurrent misses for the same key are coalesced so only one of them
// reaches the backing store. Every write through the gateway invalidates
// the affected key, or the whole near cache when the write is not scoped
// to one key. Writes made by other processes are not observed until the
// near entry expires, so TTL bounds staleness.
package near

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes of payload
	BufferItems int64
	// TTL bounds how long a document is served without asking the store.
	// Required: entries must expire to pick up writes of other processes.
	TTL     time.Duration
	Metrics bool
}

type Gateway struct {
	next store.Gateway
	c    *rc.Cache
	ttl  time.Duration
	sf   singleflight.Group
	set  func(key any, value any, cost int64, ttl time.Duration) bool

	// gen changes on every write so fills started before a write are
	// dropped instead of caching a superseded document.
	gen atomic.Uint64
}

var _ store.Gateway = (*Gateway)(nil)

func New(next store.Gateway, cfg Config) (*Gateway, error) {
	if next == nil {
		return nil, store.ConfigError("near", "nil gateway")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, store.ConfigError("near", "invalid ristretto config")
	}
	if cfg.TTL <= 0 {
		return nil, store.ConfigError("near", "ttl must be positive")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, store.ConfigError("near", err.Error())
	}
	g := &Gateway{next: next, c: c, ttl: cfg.TTL}
	g.set = c.SetWithTTL
	return g, nil
}

func nearKey(ns, key string) string { return strconv.Itoa(len(ns)) + ":" + ns + ":" + key }

// exact reports filters the near cache can answer.
func exact(f store.Filter) bool {
	return !f.AllNamespaces && f.Key != "" && len(f.Tags) == 0 && f.StaleBefore.IsZero()
}

func cost(d record.Document) int64 { return int64(len(d.Data) + len(d.Key) + 64) }

func (g *Gateway) FindOne(ctx context.Context, f store.Filter) (record.Document, bool, error) {
	if !exact(f) {
		return g.next.FindOne(ctx, f)
	}
	k := nearKey(f.Namespace, f.Key)
	if v, ok := g.c.Get(k); ok {
		if d, ok := v.(record.Document); ok {
			return d.Clone(), true, nil
		}
		// self-heal: drop unexpected entry shape
		g.c.Del(k)
	}

	gen := g.gen.Load()
	v, err, _ := g.sf.Do(k, func() (any, error) {
		d, ok, err := g.next.FindOne(ctx, f)
		if err != nil || !ok {
			return nil, err
		}
		g.fill(k, d, gen)
		return d, nil
	})
	if err != nil {
		return record.Document{}, false, err
	}
	if v == nil {
		return record.Document{}, false, nil
	}
	return v.(record.Document).Clone(), true, nil
}

// fill caches d unless a write happened since gen was read. The generation
// is checked again after the set: an invalidation racing the set removes
// the entry it could not see.
func (g *Gateway) fill(k string, d record.Document, gen uint64) {
	if g.gen.Load() != gen {
		return
	}
	g.set(k, d, cost(d), g.ttl)
	if g.gen.Load() != gen {
		g.c.Del(k)
	}
}

func (g *Gateway) FindMany(ctx context.Context, f store.Filter) (store.Cursor, error) {
	return g.next.FindMany(ctx, f)
}

func (g *Gateway) Count(ctx context.Context, f store.Filter) (int64, error) {
	return g.next.Count(ctx, f)
}

func (g *Gateway) Upsert(ctx context.Context, f store.Filter, doc record.Document) error {
	defer g.invalidate(f)
	return g.next.Upsert(ctx, f, doc)
}

func (g *Gateway) Update(ctx context.Context, f store.Filter, p record.Patch) (bool, error) {
	defer g.invalidate(f)
	if p.Key != nil && !f.AllNamespaces {
		defer g.invalidate(store.ByKey(f.Namespace, *p.Key))
	}
	return g.next.Update(ctx, f, p)
}

func (g *Gateway) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	defer g.invalidate(f)
	return g.next.DeleteMany(ctx, f)
}

// invalidate runs after the write so a concurrent fill cannot re-insert
// the old document.
func (g *Gateway) invalidate(f store.Filter) {
	g.gen.Add(1)
	if !f.AllNamespaces && f.Key != "" {
		g.c.Del(nearKey(f.Namespace, f.Key))
		return
	}
	g.c.Clear()
}

// Close releases the near cache and the wrapped gateway.
func (g *Gateway) Close(ctx context.Context) error {
	g.c.Close()
	return g.next.Close(ctx)
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (g *Gateway) Metrics() *rc.Metrics { return g.c.Metrics }
