package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
	"github.com/unkn0wn-root/tagcache/store/storetest"
)

func newGateway(t *testing.T) (*Gateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	gw, err := New(Config{Client: client, CloseClient: true, Prefix: "test"})
	require.NoError(t, err)
	return gw, mr
}

func TestConformance(t *testing.T) {
	storetest.TestSuite(t, func(t *testing.T) store.Gateway {
		gw, _ := newGateway(t)
		return gw
	})
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestNamespaceSegmentsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	gw, mr := newGateway(t)
	defer gw.Close(ctx)

	// "a:b" + "c" and "a" + "b:c" would share a key without length prefixes
	require.NoError(t, gw.Upsert(ctx, store.ByKey("a:b", "c"), storetest.Doc("a:b", "c", 0)))
	require.NoError(t, gw.Upsert(ctx, store.ByKey("a", "b:c"), storetest.Doc("a", "b:c", 0)))

	assert.True(t, mr.Exists("test:doc:3:a:b:c"))
	assert.True(t, mr.Exists("test:doc:1:a:b:c"))

	n, err := gw.DeleteMany(ctx, store.ByNamespace("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok, _ := gw.FindOne(ctx, store.ByKey("a:b", "c"))
	assert.True(t, ok)
}

func TestIndexesCleanedUp(t *testing.T) {
	ctx := context.Background()
	gw, mr := newGateway(t)
	defer gw.Close(ctx)

	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "k"), storetest.Doc("ns", "k", 0, "a")))
	assert.True(t, mr.Exists("test:tag:2:ns:a"))
	members, err := mr.SMembers("test:namespaces")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns"}, members)

	_, err = gw.DeleteMany(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:tag:2:ns:a"))
	assert.False(t, mr.Exists("test:ns:2:ns"))
	assert.False(t, mr.Exists("test:namespaces"))
}

func TestForeignValueIsAbsent(t *testing.T) {
	ctx := context.Background()
	gw, mr := newGateway(t)
	defer gw.Close(ctx)

	require.NoError(t, mr.Set("test:doc:2:ns:k", "not a frame"))
	_, ok, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	require.NoError(t, err)
	assert.False(t, ok)

	// a write over a foreign value replaces it
	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "k"), storetest.Doc("ns", "k", 0)))
	_, ok, _ = gw.FindOne(ctx, store.ByKey("ns", "k"))
	assert.True(t, ok)
}

func TestConnectionErrors(t *testing.T) {
	ctx := context.Background()
	gw, mr := newGateway(t)
	defer gw.Close(ctx)
	mr.Close()

	_, _, err := gw.FindOne(ctx, store.ByKey("ns", "k"))
	assert.ErrorIs(t, err, store.ErrConnection)

	err = gw.Upsert(ctx, store.ByKey("ns", "k"), storetest.Doc("ns", "k", 0))
	assert.ErrorIs(t, err, store.ErrConnection)

	_, err = gw.Update(ctx, store.ByKey("ns", "k"), record.TagPatch(nil, storetest.T0))
	assert.ErrorIs(t, err, store.ErrConnection)
}

func TestServerErrorsAreWriteErrors(t *testing.T) {
	ctx := context.Background()
	gw, mr := newGateway(t)
	defer gw.Close(ctx)

	// a string under the namespace index makes SMEMBERS fail with WRONGTYPE
	require.NoError(t, mr.Set("test:ns:2:ns", "x"))
	_, err := gw.DeleteMany(ctx, store.ByNamespace("ns"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStoreWrite)
	var se *store.Error
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Message, "WRONGTYPE")
}

func TestUpsertRejectsMissingKey(t *testing.T) {
	gw, _ := newGateway(t)
	err := gw.Upsert(context.Background(), store.ByNamespace("ns"), storetest.Doc("ns", "k", 0))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

// afterSCard runs fn once, right after the first SCARD the client issues.
type afterSCard struct {
	fired atomic.Bool
	fn    func(context.Context)
}

func (h *afterSCard) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *afterSCard) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func (h *afterSCard) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "scard" && h.fired.CompareAndSwap(false, true) {
			h.fn(ctx)
		}
		return err
	}
}

func TestRegistryPruneRacesWithUpsert(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	other, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), CloseClient: true, Prefix: "test"})
	require.NoError(t, err)
	defer other.Close(ctx)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	gw, err := New(Config{Client: client, CloseClient: true, Prefix: "test"})
	require.NoError(t, err)
	defer gw.Close(ctx)

	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "a"), storetest.Doc("ns", "a", 0)))

	var lateErr error
	client.AddHook(&afterSCard{fn: func(ctx context.Context) {
		lateErr = other.Upsert(ctx, store.ByKey("ns", "late"), storetest.Doc("ns", "late", 0))
	}})

	n, err := gw.DeleteMany(ctx, store.All())
	require.NoError(t, err)
	require.NoError(t, lateErr)
	assert.Equal(t, int64(1), n)

	members, err := mr.SMembers("test:namespaces")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns"}, members, "namespace with a live record must stay registered")

	n, err = gw.DeleteMany(ctx, store.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok, err := gw.FindOne(ctx, store.ByKey("ns", "late"))
	require.NoError(t, err)
	assert.False(t, ok, "flush must reach records written during a previous flush")
}
