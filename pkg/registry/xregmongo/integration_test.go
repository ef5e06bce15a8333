//go:build integration

package xregmongo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
	"github.com/omeyang/xreg/pkg/registry/xregtest"
)

// 运行方式: go test -tags=integration ./pkg/registry/xregmongo/...
//
// 设置 XREG_MONGO_URI 时直接使用，否则启动 mongo 容器。
func setupMongo(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("XREG_MONGO_URI"); uri != "" {
		return uri
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found in PATH, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7.0",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("mongo container not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func connect(t *testing.T, uri string) *mongo.Client {
	t.Helper()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx, nil))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func newIntegrationBackend(t *testing.T, client *mongo.Client, opts ...Option) *Backend {
	t.Helper()
	db := fmt.Sprintf("xreg_it_%d", time.Now().UnixNano())
	opts = append([]Option{
		WithDatabase(db),
		WithPollInterval(50 * time.Millisecond),
		WithGapTimeout(500 * time.Millisecond),
	}, opts...)
	b, err := New(context.Background(), client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Database(db).Drop(context.Background()) })
	return b
}

func TestIntegration_Conformance(t *testing.T) {
	client := connect(t, setupMongo(t))
	xregtest.Run(t, func(t *testing.T) xregistry.Backend {
		return newIntegrationBackend(t, client)
	})
}

func TestIntegration_ConcurrentPutsKeepRevisionsContiguous(t *testing.T) {
	client := connect(t, setupMongo(t))
	b := newIntegrationBackend(t, client)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	ctx := context.Background()

	const writers = 8
	done := make(chan error, writers)
	for i := range writers {
		go func() {
			var err error
			for j := range 10 {
				if _, err = b.Put(ctx, "", "/hot", fmt.Sprintf("%d-%d", i, j), false); err != nil {
					break
				}
			}
			done <- err
		}()
	}
	for range writers {
		require.NoError(t, <-done)
	}

	rev, err := b.Revision(ctx)
	require.NoError(t, err)
	n, err := b.events.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, rev, n, "every allocated revision has an event or a placeholder")

	node, err := b.Get(ctx, "/hot")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*10-1), node.Version)
}

func TestIntegration_JanitorTrimsEventsAndReapsSessions(t *testing.T) {
	client := connect(t, setupMongo(t))
	now := time.Now()
	clock := func() time.Time { return now }
	b := newIntegrationBackend(t, client,
		WithEventRetention(2), WithJanitorSchedule(""), WithClock(clock))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	ctx := context.Background()

	sid, err := b.OpenSession(ctx, time.Second)
	require.NoError(t, err)
	_, err = b.Put(ctx, sid, "/e", "x", true)
	require.NoError(t, err)
	for i := range 4 {
		_, err := b.Put(ctx, "", "/p", fmt.Sprint(i), false)
		require.NoError(t, err)
	}

	now = now.Add(2 * time.Second)
	b.cleanup()

	_, err = b.Get(ctx, "/e")
	require.ErrorIs(t, err, xregistry.ErrNodeNotFound, "expired session reaped")
	rev, err := b.Revision(ctx)
	require.NoError(t, err)
	n, err := b.events.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	feed, err := b.Watch(ctx, 0)
	require.NoError(t, err)
	select {
	case c := <-feed:
		require.NoError(t, c.Err)
		assert.Equal(t, rev-1, c.Revision, "watch skips the trimmed prefix after the gap timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("no change after trimmed history")
	}
}

func TestIntegration_Open(t *testing.T) {
	uri := setupMongo(t)
	b, err := Open(context.Background(), Config{
		URI:      uri,
		Database: fmt.Sprintf("xreg_open_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	_, err = b.Revision(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Close(context.Background()))
}
