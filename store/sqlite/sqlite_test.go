package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
	"github.com/unkn0wn-root/tagcache/store/storetest"
)

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := Open(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	return gw
}

func TestConformance(t *testing.T) {
	storetest.TestSuite(t, func(t *testing.T) store.Gateway {
		return newGateway(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, store.ErrConfiguration)

	_, err = New(nil)
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestTagRowsFollowRecords(t *testing.T) {
	ctx := context.Background()
	gw := newGateway(t)
	defer gw.Close(ctx)

	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "k"), storetest.Doc("ns", "k", 0, "a", "b")))
	assert.Equal(t, int64(2), countTags(t, gw))

	_, err := gw.Update(ctx, store.ByKey("ns", "k"), record.TagPatch([]string{"c"}, storetest.T0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), countTags(t, gw))

	_, err = gw.DeleteMany(ctx, store.ByNamespace("ns"))
	require.NoError(t, err)
	assert.Zero(t, countTags(t, gw))
}

func TestNilTagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := newGateway(t)
	defer gw.Close(ctx)

	d := storetest.Doc("ns", "k", 0)
	d.Tags = nil
	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "k"), d))

	got, ok, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Tags)
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	gw := newGateway(t)
	require.NoError(t, gw.Close(ctx))
	require.NoError(t, gw.Close(ctx))

	_, _, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	assert.ErrorIs(t, err, store.ErrConnection)
}

func countTags(t *testing.T, gw *Gateway) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gw.db.Model(&tagRow{}).Count(&n).Error)
	return n
}
