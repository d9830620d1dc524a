//go:build integration

package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unkn0wn-root/tagcache/record"
	"github.com/unkn0wn-root/tagcache/store"
	"github.com/unkn0wn-root/tagcache/store/storetest"
)

// setupMongoContainer starts a MongoDB container and returns its DSN.
func setupMongoContainer(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MongoDB container")
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "mongodb")
	require.NoError(t, err, "failed to get container endpoint")
	return endpoint
}

func TestIntegrationConformance(t *testing.T) {
	dsn := setupMongoContainer(t)
	n := 0
	storetest.TestSuite(t, func(t *testing.T) store.Gateway {
		n++
		gw, err := Open(context.Background(), Config{
			DSN:           dsn,
			Database:      "tagcache",
			Collection:    fmt.Sprintf("suite_%d", n),
			Timeout:       10 * time.Second,
			EnsureIndexes: true,
		})
		require.NoError(t, err)
		return gw
	})
}

func TestIntegrationUniqueIdentity(t *testing.T) {
	ctx := context.Background()
	dsn := setupMongoContainer(t)
	gw, err := Open(ctx, Config{DSN: dsn, Database: "tagcache", Collection: "unique", EnsureIndexes: true})
	require.NoError(t, err)
	defer gw.Close(ctx)

	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "a"), storetest.Doc("ns", "a", 0)))
	require.NoError(t, gw.Upsert(ctx, store.ByKey("ns", "b"), storetest.Doc("ns", "b", 0)))

	// renaming onto an existing key violates the unique index
	key := "b"
	_, err = gw.Update(ctx, store.ByKey("ns", "a"), record.Patch{Key: &key})
	assert.ErrorIs(t, err, store.ErrStoreWrite)
}

func TestIntegrationUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	gw, err := Open(ctx, Config{
		DSN:        "mongodb://127.0.0.1:1",
		Database:   "tagcache",
		Collection: "nope",
		Options:    map[string]string{"serverSelectionTimeoutMS": "200"},
	})
	require.NoError(t, err, "connect is lazy")
	defer gw.Close(ctx)

	_, _, err = gw.FindOne(ctx, store.ByKey("ns", "k"))
	assert.ErrorIs(t, err, store.ErrConnection)
}
