package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available: %v", err)
	}
	return client
}

func cleanupPrefix(t *testing.T, client *redis.Client, prefix string) {
	t.Helper()
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+":*", 100).Result()
		require.NoError(t, err)
		if len(keys) > 0 {
			require.NoError(t, client.Del(ctx, keys...).Err())
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func TestRedisRooms(t *testing.T) {
	client := newTestRedis(t)
	prefix := fmt.Sprintf("roomchat-test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		cleanupPrefix(t, client, prefix)
		_ = client.Close()
	})

	testRoomStore(t, store.NewRedisRooms(client, prefix))
}
