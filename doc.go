// Package tagcache implements a tagged, TTL-aware key/value cache layered
// over a document store.
//
// Components:
//   - Gateway (package store): document persistence with namespace, key and
//     tag filters. MongoDB, Redis, SQLite and in-process implementations live
//     under store/.
//   - Codec[V] (package codec): (de)serializes V <-> []byte.
//   - Record (package record): the stored document plus the expiry policy.
//
// Records:
//
//	{ key, namespace, data, codec, tags, ttl, created, expireAt, expired, attr }
//
// (namespace, key) is unique and every Set fully replaces the record. A
// record is live while it is not manually expired and, when ttl > 0,
// now-created <= ttl. Reads treat non-live records as misses without
// deleting them (lazy expiry). MarkExpired moves a record to an
// "expired_<unix>_<key>" marker key; markers and TTL-elapsed records are
// purged out-of-band by package sweep.
//
// Capabilities are split into Store, Taggable and NamespaceClearer so callers
// can depend on the narrowest surface they use:
//
//	c, _ := tagcache.New[User](tagcache.Options[User]{
//	    Namespace: "users",
//	    TTL:       10 * time.Minute,
//	    Gateway:   gw,
//	})
//	defer c.Close(ctx)
//
//	_, _ = c.Set(ctx, "u:1", u)
//	_, _ = c.SetTags(ctx, "u:1", []string{"org:7"})
//	_, _ = c.ClearByTags(ctx, []string{"org:7"}, false)
//
// Flush removes every record in the backing collection, across all
// namespaces sharing it. Use ClearByNamespace to clear a single namespace.
package tagcache
