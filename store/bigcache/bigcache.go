// Package bigcache is an in-process store.Gateway on top of
// allegro/bigcache. It suits single-process deployments and tests that
// want real serialization without a server.
//
// bigcache has no secondary indexes: filters other than an exact
// (namespace, key) lookup scan the shards. Writes are serialized by a
// gateway mutex so read-modify-write operations are atomic.
package bigcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tagcache/internal/wire"
	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

// forever keeps bigcache from evicting by age; record expiry is decided by
// the cache engine and the sweeper, not by the store.
const forever = 100 * 365 * 24 * time.Hour

const (
	defaultShards     = 64
	defaultMaxEntries = 4096
	defaultEntrySize  = 512
)

type Config struct {
	// LifeWindow is bigcache's eviction age; 0 => never evict by age.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Gateway struct {
	c  *bc.BigCache
	mu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ store.Gateway = (*Gateway)(nil)

func New(ctx context.Context, cfg Config) (*Gateway, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = forever
	}
	conf := bc.DefaultConfig(life)
	conf.CleanWindow = cfg.CleanWindow
	conf.Verbose = false
	conf.Shards = defaultShards
	conf.MaxEntriesInWindow = defaultMaxEntries
	conf.MaxEntrySize = defaultEntrySize
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, store.ConfigError("bigcache", err.Error())
	}
	return &Gateway{c: c}, nil
}

func entryKey(ns, key string) string { return strconv.Itoa(len(ns)) + ":" + ns + ":" + key }

func (g *Gateway) get(ns, key string) (record.Document, bool, error) {
	b, err := g.c.Get(entryKey(ns, key))
	if errors.Is(err, bc.ErrEntryNotFound) {
		return record.Document{}, false, nil
	}
	if err != nil {
		return record.Document{}, false, err
	}
	d, err := wire.Decode(b)
	if err != nil {
		return record.Document{}, false, nil
	}
	return d, true, nil
}

func (g *Gateway) put(d record.Document) error {
	b, err := wire.Encode(d)
	if err != nil {
		return err
	}
	return g.c.Set(entryKey(d.Namespace, d.Key), b)
}

// scan returns every document matching f.
func (g *Gateway) scan(ctx context.Context, f store.Filter) ([]record.Document, error) {
	if !f.AllNamespaces && f.Key != "" {
		d, ok, err := g.get(f.Namespace, f.Key)
		if err != nil || !ok || !store.Match(f, d) {
			return nil, err
		}
		return []record.Document{d}, nil
	}
	var out []record.Document
	it := g.c.Iterator()
	for it.SetNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := it.Value()
		if err != nil {
			return nil, err
		}
		d, err := wire.Decode(e.Value())
		if err != nil {
			continue
		}
		if store.Match(f, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *Gateway) FindOne(ctx context.Context, f store.Filter) (record.Document, bool, error) {
	docs, err := g.scan(ctx, f)
	if err != nil {
		return record.Document{}, false, classify("find_one", err)
	}
	if len(docs) == 0 {
		return record.Document{}, false, nil
	}
	return docs[0], true, nil
}

func (g *Gateway) FindMany(ctx context.Context, f store.Filter) (store.Cursor, error) {
	docs, err := g.scan(ctx, f)
	if err != nil {
		return nil, classify("find_many", err)
	}
	return store.NewSliceCursor(docs), nil
}

func (g *Gateway) Count(ctx context.Context, f store.Filter) (int64, error) {
	docs, err := g.scan(ctx, f)
	if err != nil {
		return 0, classify("count", err)
	}
	return int64(len(docs)), nil
}

func (g *Gateway) Upsert(_ context.Context, f store.Filter, doc record.Document) error {
	if f.Key == "" || f.AllNamespaces {
		return store.InvalidArgument("upsert", "upsert needs namespace and key")
	}
	doc.Namespace, doc.Key = f.Namespace, f.Key
	g.mu.Lock()
	defer g.mu.Unlock()
	return classify("upsert", g.put(doc))
}

func (g *Gateway) Update(ctx context.Context, f store.Filter, p record.Patch) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	docs, err := g.scan(ctx, f)
	if err != nil {
		return false, classify("update", err)
	}
	if len(docs) == 0 {
		return false, nil
	}
	d := docs[0]
	from := d.Key
	d.Apply(p)
	if err := g.put(d); err != nil {
		return false, classify("update", err)
	}
	if d.Key != from {
		if err := g.c.Delete(entryKey(d.Namespace, from)); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return true, classify("update", err)
		}
	}
	return true, nil
}

func (g *Gateway) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	docs, err := g.scan(ctx, f)
	if err != nil {
		return 0, classify("delete_many", err)
	}
	if isEverything(f) {
		return int64(len(docs)), classify("delete_many", g.c.Reset())
	}
	var n int64
	for _, d := range docs {
		err := g.c.Delete(entryKey(d.Namespace, d.Key))
		if errors.Is(err, bc.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return n, classify("delete_many", err)
		}
		n++
	}
	return n, nil
}

func isEverything(f store.Filter) bool {
	return f.AllNamespaces && f.Key == "" && len(f.Tags) == 0 && f.StaleBefore.IsZero()
}

// Close stops bigcache's background cleaner. Safe to call multiple times.
func (g *Gateway) Close(context.Context) error {
	g.closeOnce.Do(func() { g.closeErr = g.c.Close() })
	return g.closeErr
}

// classify reports every bigcache failure as a rejected write: there is no
// transport that could fail.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.ConnectionError(op, err)
	}
	return store.WriteError(op, 0, err.Error(), err)
}
