package shadow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client), mr
}

func TestRedisMergeCreatesDocument(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Merge(ctx, "cp-1", map[string]interface{}{
		"chargingStation": map[string]interface{}{"model": "EVB-42"},
	}))

	raw, err := mr.Get("shadow:cp-1")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	require.Contains(t, doc, "chargingStation")
}

func TestRedisMergePatchesExisting(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Merge(ctx, "cp-1", map[string]interface{}{
		"bootReason":        "PowerUp",
		"activeTransaction": map[string]interface{}{"transactionId": "tx-1"},
	}))
	require.NoError(t, store.Merge(ctx, "cp-1", map[string]interface{}{
		"activeTransaction": nil,
		"lastCompletedTransaction": map[string]interface{}{
			"transactionId": "tx-1",
			"status":        "Ended",
		},
	}))

	doc, err := store.Document(ctx, "cp-1")
	require.NoError(t, err)
	require.Equal(t, "PowerUp", doc["bootReason"])
	require.NotContains(t, doc, "activeTransaction")
	require.Contains(t, doc, "lastCompletedTransaction")
}

func TestRedisDocumentAbsent(t *testing.T) {
	store, _ := newRedisStore(t)

	doc, err := store.Document(context.Background(), "cp-unknown")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestRedisMergeCorruptDocument(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("shadow:cp-1", "not json"))

	err := store.Merge(context.Background(), "cp-1", map[string]interface{}{"x": 1})
	require.Error(t, err)
}
