package tagcache

import (
	"context"
	"errors"
	"sync"
	"time"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

type cache[V any] struct {
	ns       string
	ttl      int64 // seconds
	gw       store.Gateway
	codec    c.Codec[V]
	failSoft bool
	keepGw   bool

	log     Logger
	hooks   Hooks
	metrics Metrics
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

var _ Cache[struct{}] = (*cache[struct{}])(nil)

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Gateway == nil {
		return nil, store.ConfigError("new", "gateway is required")
	}

	opts = opts.withDefaults()
	return &cache[V]{
		ns:       opts.Namespace,
		ttl:      record.TTLSeconds(opts.TTL),
		gw:       opts.Gateway,
		codec:    opts.Codec,
		failSoft: opts.FailSoft,
		keepGw:   opts.KeepGatewayOpen,
		log:      opts.Logger,
		hooks:    opts.Hooks,
		metrics:  opts.Metrics,
		now:      opts.Clock,
	}, nil
}

func (cc *cache[V]) Namespace() string { return cc.ns }

// Close releases the gateway unless it is shared. Safe to call multiple times.
func (cc *cache[V]) Close(ctx context.Context) error {
	cc.closeOnce.Do(func() {
		if !cc.keepGw {
			cc.closeErr = cc.gw.Close(ctx)
		}
	})
	return cc.closeErr
}

func (cc *cache[V]) Get(ctx context.Context, key string) Result[V] {
	const op = "get"
	if key == "" {
		return failure[V](store.InvalidArgument(op, "empty key"))
	}
	doc, ok, err := cc.gw.FindOne(ctx, store.ByKey(cc.ns, key))
	if err != nil {
		if err = cc.fail(op, err); err != nil {
			return failure[V](err)
		}
		cc.metrics.Miss()
		return miss[V]()
	}
	if !ok {
		cc.metrics.Miss()
		return miss[V]()
	}
	if !cc.live(doc) {
		return miss[V]()
	}
	v, err := record.Decode(cc.codec, doc)
	if err != nil {
		cc.selfHeal(ctx, key, err)
		cc.metrics.Miss()
		return miss[V]()
	}
	cc.metrics.Hit()
	return hit(entryOf(doc, v))
}

func (cc *cache[V]) Has(ctx context.Context, key string) (bool, error) {
	const op = "has"
	if key == "" {
		return false, store.InvalidArgument(op, "empty key")
	}
	doc, ok, err := cc.gw.FindOne(ctx, store.ByKey(cc.ns, key))
	if err != nil {
		return false, cc.fail(op, err)
	}
	return ok && cc.live(doc), nil
}

func (cc *cache[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) (bool, error) {
	const op = "set"
	if key == "" {
		return false, store.InvalidArgument(op, "empty key")
	}
	so := setOptions{ttl: cc.ttl}
	for _, o := range opts {
		o(&so)
	}
	data, label, err := record.Encode(cc.codec, value)
	if err != nil {
		return false, &store.Error{Kind: store.KindInvalidArgument, Op: op, Err: err}
	}
	doc := record.New(cc.ns, key, data, so.ttl, cc.now(), so.attr)
	doc.Codec = label

	if err := cc.gw.Upsert(ctx, store.ByKey(cc.ns, key), doc); err != nil {
		return false, cc.fail(op, err)
	}
	return true, nil
}

func (cc *cache[V]) Remove(ctx context.Context, key string) (bool, error) {
	const op = "remove"
	if key == "" {
		return false, store.InvalidArgument(op, "empty key")
	}
	if _, err := cc.gw.DeleteMany(ctx, store.ByKey(cc.ns, key)); err != nil {
		return false, cc.fail(op, err)
	}
	return true, nil
}

func (cc *cache[V]) Flush(ctx context.Context) (bool, error) {
	const op = "flush"
	n, err := cc.gw.DeleteMany(ctx, store.All())
	if err != nil {
		return false, cc.fail(op, err)
	}
	cc.log.Debug("flushed storage (all namespaces)", Fields{"ns": cc.ns, "removed": n})
	return true, nil
}

func (cc *cache[V]) ClearByNamespace(ctx context.Context, namespace string) (bool, error) {
	const op = "clear_by_namespace"
	if namespace == "" {
		return false, store.InvalidArgument(op, "empty namespace")
	}
	n, err := cc.gw.DeleteMany(ctx, store.ByNamespace(namespace))
	if err != nil {
		return false, cc.fail(op, err)
	}
	cc.log.Debug("cleared namespace", Fields{"ns": namespace, "removed": n})
	return true, nil
}

func (cc *cache[V]) SetTags(ctx context.Context, key string, tags []string) (bool, error) {
	const op = "set_tags"
	if key == "" {
		return false, store.InvalidArgument(op, "empty key")
	}
	ok, err := cc.gw.Update(ctx, store.ByKey(cc.ns, key), record.TagPatch(tags, cc.now()))
	if err != nil {
		return false, cc.fail(op, err)
	}
	return ok, nil
}

func (cc *cache[V]) GetTags(ctx context.Context, key string) ([]string, bool, error) {
	const op = "get_tags"
	if key == "" {
		return nil, false, store.InvalidArgument(op, "empty key")
	}
	doc, ok, err := cc.gw.FindOne(ctx, store.ByKey(cc.ns, key))
	if err != nil {
		return nil, false, cc.fail(op, err)
	}
	if !ok || !cc.live(doc) || doc.Tags == nil {
		return nil, false, nil
	}
	return append(make([]string, 0, len(doc.Tags)), doc.Tags...), true, nil
}

func (cc *cache[V]) ClearByTags(ctx context.Context, tags []string, disjunction bool) (bool, error) {
	const op = "clear_by_tags"
	if len(tags) == 0 {
		return true, nil
	}
	n, err := cc.gw.DeleteMany(ctx, store.ByTags(cc.ns, record.UniqueTags(tags), disjunction))
	if err != nil {
		return false, cc.fail(op, err)
	}
	cc.log.Debug("cleared by tags", Fields{"ns": cc.ns, "tags": tags, "any": disjunction, "removed": n})
	return true, nil
}

func (cc *cache[V]) GetByTags(ctx context.Context, tags []string, disjunction bool) (*Matches[V], bool, error) {
	const op = "get_by_tags"
	if len(tags) == 0 {
		return nil, false, nil
	}
	f := store.ByTags(cc.ns, record.UniqueTags(tags), disjunction)
	n, err := cc.gw.Count(ctx, f)
	if err != nil {
		return nil, false, cc.fail(op, err)
	}
	if n == 0 {
		return nil, false, nil
	}
	cur, err := cc.gw.FindMany(ctx, f)
	if err != nil {
		return nil, false, cc.fail(op, err)
	}
	return newMatches(cur, cc.codec, n), true, nil
}

func (cc *cache[V]) MarkExpired(ctx context.Context, key string) (bool, error) {
	const op = "mark_expired"
	if key == "" {
		return false, store.InvalidArgument(op, "empty key")
	}
	p := record.ExpirePatch(key, cc.now())
	ok, err := cc.gw.Update(ctx, store.ByKey(cc.ns, key), p)
	if err != nil {
		return false, cc.fail(op, err)
	}
	if ok {
		cc.hooks.MarkedExpired(cc.ns, key, *p.Key)
		cc.log.Debug("marked expired", Fields{"ns": cc.ns, "key": key, "marker": *p.Key})
	}
	return ok, nil
}

// live applies the expiry policy and reports lazily expired records.
func (cc *cache[V]) live(doc record.Document) bool {
	if record.IsLive(doc, cc.now()) {
		return true
	}
	cc.metrics.Expired()
	cc.metrics.Miss()
	cc.hooks.ItemExpired(doc.Namespace, doc.Key)
	return false
}

// selfHeal drops a record that cannot be decoded with this cache's codec.
func (cc *cache[V]) selfHeal(ctx context.Context, key string, cause error) {
	reason := "value_decode"
	if errors.Is(cause, record.ErrCodecMismatch) {
		reason = "codec_mismatch"
	}
	_, _ = cc.gw.DeleteMany(ctx, store.ByKey(cc.ns, key))
	cc.hooks.SelfHeal(cc.ns, key, reason)
	cc.log.Debug("dropped undecodable record", Fields{"ns": cc.ns, "key": key, "reason": reason, "err": cause})
}

// fail applies the failure policy to a store error and returns what the
// caller should see: nil when the error is swallowed.
func (cc *cache[V]) fail(op string, err error) error {
	err = store.Wrap(op, err)
	cc.metrics.Failure(op)
	if !cc.failSoft || programmerError(err) {
		return err
	}
	cc.hooks.StoreError(op, err)
	return nil
}
