// Package redis is a store.Gateway backed by Redis.
//
// Documents are stored as wire frames under <prefix>:doc:<ns>:<key>. Each
// namespace keeps a set of its keys (<prefix>:ns:<ns>) and one set per tag
// (<prefix>:tag:<ns>:<tag>); <prefix>:namespaces registers every namespace
// that ever held a document. Namespace segments are length prefixed so a
// namespace containing ':' cannot collide with another namespace's keys.
//
// Read-modify-write operations run under WATCH/MULTI and are retried a
// bounded number of times on contention.
package redis

import (
	"context"
	"errors"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tagcache/internal/wire"
	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

const (
	defaultPrefix     = "tagcache"
	defaultMaxRetries = 8
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this gateway exclusively owns the client

	// Prefix namespaces every key written by the gateway; "" => "tagcache".
	Prefix string
	// MaxRetries bounds optimistic-lock retries; <= 0 => 8.
	MaxRetries int
}

type Gateway struct {
	rdb         goredis.UniversalClient
	closeClient bool
	prefix      string
	retries     int
}

var _ store.Gateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	if cfg.Client == nil {
		return nil, store.ConfigError("redis", "nil client")
	}
	g := &Gateway{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		prefix:      cfg.Prefix,
		retries:     cfg.MaxRetries,
	}
	if g.prefix == "" {
		g.prefix = defaultPrefix
	}
	if g.retries <= 0 {
		g.retries = defaultMaxRetries
	}
	return g, nil
}

func seg(ns string) string { return strconv.Itoa(len(ns)) + ":" + ns }

func (g *Gateway) docKey(ns, key string) string { return g.prefix + ":doc:" + seg(ns) + ":" + key }
func (g *Gateway) nsKey(ns string) string       { return g.prefix + ":ns:" + seg(ns) }
func (g *Gateway) tagKey(ns, tag string) string { return g.prefix + ":tag:" + seg(ns) + ":" + tag }
func (g *Gateway) registryKey() string          { return g.prefix + ":namespaces" }

type id struct{ ns, key string }

func (g *Gateway) FindOne(ctx context.Context, f store.Filter) (record.Document, bool, error) {
	ids, err := g.candidates(ctx, f)
	if err != nil {
		return record.Document{}, false, classify("find_one", err)
	}
	for _, i := range ids {
		d, ok, err := g.load(ctx, g.rdb, i)
		if err != nil {
			return record.Document{}, false, classify("find_one", err)
		}
		if ok && store.Match(f, d) {
			return d, true, nil
		}
	}
	return record.Document{}, false, nil
}

func (g *Gateway) FindMany(ctx context.Context, f store.Filter) (store.Cursor, error) {
	ids, err := g.candidates(ctx, f)
	if err != nil {
		return nil, classify("find_many", err)
	}
	return &cursor{g: g, f: f, ids: ids}, nil
}

func (g *Gateway) Count(ctx context.Context, f store.Filter) (int64, error) {
	ids, err := g.candidates(ctx, f)
	if err != nil {
		return 0, classify("count", err)
	}
	// index sets are maintained transactionally, so only key and time
	// filters need the documents themselves
	if f.StaleBefore.IsZero() && f.Key == "" {
		return int64(len(ids)), nil
	}
	var n int64
	c := &cursor{g: g, f: f, ids: ids}
	for c.Next(ctx) {
		n++
	}
	if err := c.Err(); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (g *Gateway) Upsert(ctx context.Context, f store.Filter, doc record.Document) error {
	const op = "upsert"
	if f.Key == "" || f.AllNamespaces {
		return store.InvalidArgument(op, "upsert needs namespace and key")
	}
	doc.Namespace, doc.Key = f.Namespace, f.Key
	b, err := wire.Encode(doc)
	if err != nil {
		return store.WriteError(op, 0, "encode document", err)
	}
	k := g.docKey(doc.Namespace, doc.Key)
	return g.txn(ctx, op, func(tx *goredis.Tx) error {
		old, hadOld, err := g.load(ctx, tx, id{doc.Namespace, doc.Key})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if hadOld {
				g.unindex(ctx, p, old)
			}
			p.Set(ctx, k, b, 0)
			g.index(ctx, p, doc)
			return nil
		})
		return err
	}, k)
}

func (g *Gateway) Update(ctx context.Context, f store.Filter, patch record.Patch) (bool, error) {
	const op = "update"
	if f.Key == "" || f.AllNamespaces {
		return false, store.InvalidArgument(op, "update needs namespace and key")
	}
	from := g.docKey(f.Namespace, f.Key)
	watch := []string{from}
	if patch.Key != nil {
		watch = append(watch, g.docKey(f.Namespace, *patch.Key))
	}

	var matched bool
	err := g.txn(ctx, op, func(tx *goredis.Tx) error {
		matched = false
		d, ok, err := g.load(ctx, tx, id{f.Namespace, f.Key})
		if err != nil || !ok || !store.Match(f, d) {
			return err
		}
		old := d.Clone()
		d.Apply(patch)
		b, err := wire.Encode(d)
		if err != nil {
			return store.WriteError(op, 0, "encode document", err)
		}
		// a record already under the target key is replaced
		var target record.Document
		hadTarget := false
		if d.Key != old.Key {
			if target, hadTarget, err = g.load(ctx, tx, id{d.Namespace, d.Key}); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			g.unindex(ctx, p, old)
			if hadTarget {
				g.unindex(ctx, p, target)
			}
			if d.Key != old.Key {
				p.Del(ctx, from)
			}
			p.Set(ctx, g.docKey(d.Namespace, d.Key), b, 0)
			g.index(ctx, p, d)
			return nil
		})
		if err == nil {
			matched = true
		}
		return err
	}, watch...)
	return matched, err
}

func (g *Gateway) DeleteMany(ctx context.Context, f store.Filter) (int64, error) {
	const op = "delete_many"
	ids, err := g.candidates(ctx, f)
	if err != nil {
		return 0, classify(op, err)
	}

	var n int64
	touched := make(map[string]struct{})
	for _, i := range ids {
		k := g.docKey(i.ns, i.key)
		var removed bool
		err := g.txn(ctx, op, func(tx *goredis.Tx) error {
			removed = false
			d, ok, err := g.load(ctx, tx, i)
			if err != nil || !ok || !store.Match(f, d) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.Del(ctx, k)
				g.unindex(ctx, p, d)
				return nil
			})
			removed = err == nil
			return err
		}, k)
		if err != nil {
			return n, err
		}
		if removed {
			n++
			touched[i.ns] = struct{}{}
		}
	}

	for ns := range touched {
		g.prune(ctx, ns)
	}
	return n, nil
}

// prune drops ns from the registry once its key set is empty. The check
// and the removal run under WATCH on the key set, so a write that lands
// in between aborts the removal. A failed prune only leaves an empty
// namespace registered.
func (g *Gateway) prune(ctx context.Context, ns string) {
	nsKey := g.nsKey(ns)
	_ = g.txn(ctx, "delete_many", func(tx *goredis.Tx) error {
		left, err := tx.SCard(ctx, nsKey).Result()
		if err != nil || left > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.SRem(ctx, g.registryKey(), ns)
			return nil
		})
		return err
	}, nsKey)
}

// Close releases the underlying redis client only when this gateway owns it.
// Safe to call multiple times.
func (g *Gateway) Close(context.Context) error {
	if g.closeClient {
		if err := g.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// candidates resolves the (namespace, key) pairs that may match f using
// the index sets. Callers still evaluate store.Match on each document.
func (g *Gateway) candidates(ctx context.Context, f store.Filter) ([]id, error) {
	var namespaces []string
	if f.AllNamespaces {
		ns, err := g.rdb.SMembers(ctx, g.registryKey()).Result()
		if err != nil {
			return nil, err
		}
		namespaces = ns
	} else {
		if f.Key != "" && len(f.Tags) == 0 {
			return []id{{f.Namespace, f.Key}}, nil
		}
		namespaces = []string{f.Namespace}
	}

	var out []id
	for _, ns := range namespaces {
		var (
			keys []string
			err  error
		)
		switch {
		case len(f.Tags) == 0:
			keys, err = g.rdb.SMembers(ctx, g.nsKey(ns)).Result()
		case f.MatchAny:
			keys, err = g.rdb.SUnion(ctx, g.tagKeys(ns, f.Tags)...).Result()
		default:
			keys, err = g.rdb.SInter(ctx, g.tagKeys(ns, f.Tags)...).Result()
		}
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if f.Key == "" || k == f.Key {
				out = append(out, id{ns, k})
			}
		}
	}
	return out, nil
}

func (g *Gateway) tagKeys(ns string, tags []string) []string {
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = g.tagKey(ns, t)
	}
	return keys
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// load reads and decodes one document. Values that are not wire frames are
// reported as absent; they are never produced by this gateway.
func (g *Gateway) load(ctx context.Context, c getter, i id) (record.Document, bool, error) {
	b, err := c.Get(ctx, g.docKey(i.ns, i.key)).Bytes()
	if err == goredis.Nil {
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

func (g *Gateway) index(ctx context.Context, p goredis.Pipeliner, d record.Document) {
	p.SAdd(ctx, g.nsKey(d.Namespace), d.Key)
	p.SAdd(ctx, g.registryKey(), d.Namespace)
	for _, t := range d.Tags {
		p.SAdd(ctx, g.tagKey(d.Namespace, t), d.Key)
	}
}

func (g *Gateway) unindex(ctx context.Context, p goredis.Pipeliner, d record.Document) {
	p.SRem(ctx, g.nsKey(d.Namespace), d.Key)
	for _, t := range d.Tags {
		p.SRem(ctx, g.tagKey(d.Namespace, t), d.Key)
	}
}

// txn runs fn under WATCH keys, retrying when another client modified a
// watched key between the read and EXEC.
func (g *Gateway) txn(ctx context.Context, op string, fn func(*goredis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < g.retries; attempt++ {
		err := g.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return classify(op, err)
	}
	return store.WriteError(op, 0, "too much contention on watched keys", goredis.TxFailedErr)
}

// classify maps go-redis failures to store errors: replies from the server
// are write failures, anything else is a connection problem.
func classify(op string, err error) error {
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}
	var re goredis.Error
	if errors.As(err, &re) && !errors.Is(err, goredis.ErrClosed) {
		return store.WriteError(op, 0, re.Error(), err)
	}
	return store.ConnectionError(op, err)
}

type cursor struct {
	g   *Gateway
	f   store.Filter
	ids []id
	pos int
	cur record.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	for c.err == nil && c.pos < len(c.ids) {
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		i := c.ids[c.pos]
		c.pos++
		d, ok, err := c.g.load(ctx, c.g.rdb, i)
		if err != nil {
			c.err = classify("find_many", err)
			return false
		}
		if ok && store.Match(c.f, d) {
			c.cur = d
			return true
		}
	}
	return false
}

func (c *cursor) Document() record.Document { return c.cur }
func (c *cursor) Err() error                { return c.err }

func (c *cursor) Close(context.Context) error {
	c.ids = nil
	return nil
}
