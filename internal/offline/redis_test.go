package offline

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not provided")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	prefix := fmt.Sprintf("kdbuddy-test:%d", time.Now().UnixNano())
	storage := NewRedisStorage(client, prefix)
	t.Cleanup(func() {
		_ = storage.DeleteNamespace(ctx, "v1")
		_ = storage.DeleteNamespace(ctx, "v2")
	})

	require.NoError(t, storage.Put(ctx, "v1", "http://a/index.html", &Entry{Status: 200, Body: []byte("<html>")}))
	require.NoError(t, storage.Put(ctx, "v2", "http://a/index.html", &Entry{Status: 200, Body: []byte("<html v2>")}))

	namespaces, err := storage.Namespaces(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v1", "v2"}, namespaces)

	entry, ok, err := storage.Get(ctx, "v1", "http://a/index.html")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "<html>", string(entry.Body))

	_, ok, err = storage.Get(ctx, "v1", "http://a/missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, storage.DeleteNamespace(ctx, "v1"))
	namespaces, err = storage.Namespaces(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v2"}, namespaces)
}
