// Package storetest provides a conformance suite for store.Gateway
// implementations.
//
// Gateway packages run it against a fresh, empty store:
//
//	func TestConformance(t *testing.T) {
//	    storetest.TestSuite(t, func(t *testing.T) store.Gateway {
//	        return newGateway(t)
//	    })
//	}
package storetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
)

// T0 is the reference instant used by the suite.
var T0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// TestSuite runs every conformance test. newGateway must return a gateway
// over an empty store; the suite closes it.
func TestSuite(t *testing.T, newGateway func(t *testing.T) store.Gateway) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Gateway)
	}{
		{"FindOneMissing", testFindOneMissing},
		{"UpsertRoundTrip", testUpsertRoundTrip},
		{"UpsertReplaces", testUpsertReplaces},
		{"UpdateTagsAndTouch", testUpdateTagsAndTouch},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateMovesKey", testUpdateMovesKey},
		{"UpdateMoveReplacesTarget", testUpdateMoveReplacesTarget},
		{"TagQueries", testTagQueries},
		{"NamespaceIsolation", testNamespaceIsolation},
		{"DeleteAll", testDeleteAll},
		{"StaleFilter", testStaleFilter},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newGateway(t)
			t.Cleanup(func() { _ = gw.Close(context.Background()) })
			tc.fn(t, gw)
		})
	}
}

// Doc builds a document at T0 carrying tags.
func Doc(ns, key string, ttl int64, tags ...string) record.Document {
	d := record.New(ns, key, []byte(`{"v":"`+key+`"}`), ttl, T0, nil)
	d.Codec = "json"
	if tags != nil {
		d.Tags = record.UniqueTags(tags)
	}
	return d
}

func put(t *testing.T, gw store.Gateway, d record.Document) {
	t.Helper()
	require.NoError(t, gw.Upsert(context.Background(), store.ByKey(d.Namespace, d.Key), d))
}

// Keys drains a cursor into sorted "<ns>/<key>" identifiers.
func Keys(t *testing.T, cur store.Cursor) []string {
	t.Helper()
	ctx := context.Background()
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		d := cur.Document()
		out = append(out, d.Namespace+"/"+d.Key)
	}
	require.NoError(t, cur.Err())
	sort.Strings(out)
	return out
}

func find(t *testing.T, gw store.Gateway, f store.Filter) []string {
	t.Helper()
	cur, err := gw.FindMany(context.Background(), f)
	require.NoError(t, err)
	return Keys(t, cur)
}

func testFindOneMissing(t *testing.T, gw store.Gateway) {
	_, ok, err := gw.FindOne(context.Background(), store.ByKey("ns", "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpsertRoundTrip(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	want := record.New("ns", "k1", []byte{0, 1, 2, 0xff}, 30, T0.Add(1500*time.Millisecond), map[string]any{"src": "db"})
	want.Codec = "msgpack"
	put(t, gw, want)

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns", "k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Namespace, got.Namespace)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, want.Codec, got.Codec)
	assert.Equal(t, int64(30), got.TTL)
	assert.False(t, got.Expired)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
	assert.True(t, want.Created.Equal(got.Created), "created %v != %v", got.Created, want.Created)
	assert.True(t, want.ExpireAt.Equal(got.ExpireAt), "expireAt %v != %v", got.ExpireAt, want.ExpireAt)
	assert.Equal(t, "db", got.Attr["src"])
}

func testUpsertReplaces(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns", "k", 10, "a", "b"))
	put(t, gw, Doc("ns", "k", 20))

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), got.TTL)
	assert.Empty(t, got.Tags)

	n, err := gw.Count(ctx, store.ByTags("ns", []string{"a"}, true))
	require.NoError(t, err)
	assert.Zero(t, n, "tags of the replaced document must not be found")
}

func testUpdateTagsAndTouch(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns", "k", 10))

	later := T0.Add(7 * time.Second)
	ok, err := gw.Update(ctx, store.ByKey("ns", "k"), record.TagPatch([]string{"b", "a", "b"}, later))
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, got.Tags)
	assert.True(t, later.Equal(got.Created), "created=%v", got.Created)
	assert.True(t, later.Add(10*time.Second).Equal(got.ExpireAt), "expireAt=%v", got.ExpireAt)
	assert.Equal(t, []string{"ns/k"}, find(t, gw, store.ByTags("ns", []string{"a", "b"}, false)))

	ok, err = gw.Update(ctx, store.ByKey("ns", "k"), record.TagPatch(nil, later))
	require.NoError(t, err)
	require.True(t, ok)
	got, _, _ = gw.FindOne(ctx, store.ByKey("ns", "k"))
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
	assert.Empty(t, find(t, gw, store.ByTags("ns", []string{"a"}, true)))
}

func testUpdateMissing(t *testing.T, gw store.Gateway) {
	ok, err := gw.Update(context.Background(), store.ByKey("ns", "nope"), record.TagPatch([]string{"a"}, T0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpdateMovesKey(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns", "k", 0, "a"))

	at := T0.Add(time.Minute)
	p := record.ExpirePatch("k", at)
	ok, err := gw.Update(ctx, store.ByKey("ns", "k"), p)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = gw.FindOne(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	assert.False(t, ok, "original key must be gone")

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns", *p.Key))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Expired)
	assert.True(t, at.Equal(got.ExpireAt))
	assert.Equal(t, []string{"ns/" + *p.Key}, find(t, gw, store.ByTags("ns", []string{"a"}, false)))
}

func testUpdateMoveReplacesTarget(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	at := T0.Add(time.Minute)

	put(t, gw, Doc("ns", "k", 0, "a"))
	p := record.ExpirePatch("k", at)
	ok, err := gw.Update(ctx, store.ByKey("ns", "k"), p)
	require.NoError(t, err)
	require.True(t, ok)

	// same key marked again within the same second
	put(t, gw, Doc("ns", "k", 0, "b"))
	ok, err = gw.Update(ctx, store.ByKey("ns", "k"), record.ExpirePatch("k", at))
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns", *p.Key))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, got.Tags, "newer marker replaces the older one")
	assert.Empty(t, find(t, gw, store.ByTags("ns", []string{"a"}, false)))
	assert.Equal(t, []string{"ns/" + *p.Key}, find(t, gw, store.ByTags("ns", []string{"b"}, false)))

	n, err := gw.Count(ctx, store.ByNamespace("ns"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a move whose source is missing leaves the target alone
	ok, err = gw.Update(ctx, store.ByKey("ns", "k"), record.ExpirePatch("k", at))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = gw.FindOne(ctx, store.ByKey("ns", *p.Key))
	require.NoError(t, err)
	assert.True(t, ok)
}

func testTagQueries(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns", "k1", 0, "a", "b"))
	put(t, gw, Doc("ns", "k2", 0, "b", "c"))
	put(t, gw, Doc("ns", "k3", 0))
	put(t, gw, Doc("other", "k4", 0, "a", "b"))

	cases := []struct {
		name     string
		tags     []string
		matchAny bool
		want     []string
	}{
		{"conjunction", []string{"a", "b"}, false, []string{"ns/k1"}},
		{"conjunction shared tag", []string{"b"}, false, []string{"ns/k1", "ns/k2"}},
		{"conjunction unknown tag", []string{"a", "z"}, false, nil},
		{"disjunction", []string{"a", "c"}, true, []string{"ns/k1", "ns/k2"}},
		{"disjunction unknown tags", []string{"x", "y"}, true, nil},
	}
	for _, tc := range cases {
		f := store.ByTags("ns", tc.tags, tc.matchAny)
		n, err := gw.Count(ctx, f)
		require.NoError(t, err, tc.name)
		assert.Equal(t, int64(len(tc.want)), n, tc.name)
		got := find(t, gw, f)
		if len(tc.want) == 0 {
			assert.Empty(t, got, tc.name)
		} else {
			assert.Equal(t, tc.want, got, tc.name)
		}
	}

	n, err := gw.DeleteMany(ctx, store.ByTags("ns", []string{"a", "c"}, true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"ns/k3"}, find(t, gw, store.ByNamespace("ns")))
	assert.Equal(t, []string{"other/k4"}, find(t, gw, store.ByNamespace("other")))
}

func testNamespaceIsolation(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns1", "same", 0))
	a := Doc("ns2", "same", 5)
	put(t, gw, a)

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns2", "same"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), got.TTL)

	n, err := gw.DeleteMany(ctx, store.ByKey("ns1", "same"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = gw.DeleteMany(ctx, store.ByKey("ns1", "same"))
	require.NoError(t, err)
	assert.Zero(t, n, "deleting nothing is not an error")

	_, ok, _ = gw.FindOne(ctx, store.ByKey("ns2", "same"))
	assert.True(t, ok)

	n, err = gw.DeleteMany(ctx, store.ByNamespace("ns2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testDeleteAll(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns1", "a", 0, "t"))
	put(t, gw, Doc("ns2", "b", 0))
	put(t, gw, Doc("ns3", "c", 10))

	assert.Equal(t, []string{"ns1/a", "ns2/b", "ns3/c"}, find(t, gw, store.All()))

	n, err := gw.DeleteMany(ctx, store.All())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Empty(t, find(t, gw, store.All()))

	n, err = gw.Count(ctx, store.ByTags("ns1", []string{"t"}, false))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testStaleFilter(t *testing.T, gw store.Gateway) {
	ctx := context.Background()
	put(t, gw, Doc("ns", "forever", 0))
	put(t, gw, Doc("ns", "short", 5))
	put(t, gw, Doc("ns", "long", 3600))
	put(t, gw, Doc("other", "short", 5))
	put(t, gw, Doc("ns", "marked", 0))
	_, err := gw.Update(ctx, store.ByKey("ns", "marked"), record.ExpirePatch("marked", T0.Add(time.Second)))
	require.NoError(t, err)

	before := T0.Add(time.Minute)
	f := store.Filter{Namespace: "ns", StaleBefore: before}
	n, err := gw.Count(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = gw.DeleteMany(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"ns/forever", "ns/long"}, find(t, gw, store.ByNamespace("ns")))

	n, err = gw.DeleteMany(ctx, store.Filter{AllNamespaces: true, StaleBefore: before})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
