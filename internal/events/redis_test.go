package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// setupTestRedis connects to TEST_REDIS_ADDR or skips the test
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := Dial(context.Background(), addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return client
}

func TestRedisPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	channel := "test:transcription:" + uuid.NewString()
	pub := NewRedisPublisher(client, RedisOptions{Channel: channel, TTL: time.Minute}, nil)

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	job := &types.Job{
		ID:         uuid.NewString(),
		Status:     types.StatusRetrying,
		Error:      types.Ptr("engine: boom"),
		RetryCount: 1,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, pub.Publish(ctx, job))
	t.Cleanup(func() { client.Del(context.Background(), pub.Key(job.ID)) })

	t.Run("message published", func(t *testing.T) {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var ev StatusEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, job.ID, ev.ID)
		assert.Equal(t, types.StatusRetrying, ev.Status)
		require.NotNil(t, ev.Error)
		assert.Equal(t, "engine: boom", *ev.Error)
		assert.Equal(t, 1, ev.RetryCount)
	})

	t.Run("status hash with ttl", func(t *testing.T) {
		fields, err := client.HGetAll(ctx, pub.Key(job.ID)).Result()
		require.NoError(t, err)
		assert.Equal(t, "retrying", fields["status"])
		assert.Equal(t, "engine: boom", fields["error"])
		assert.Equal(t, "1", fields["retry_count"])

		ttl := client.TTL(ctx, pub.Key(job.ID)).Val()
		assert.True(t, ttl > 0 && ttl <= time.Minute)
	})
}

func TestNewRedisPublisherDefaults(t *testing.T) {
	pub := NewRedisPublisher(nil, RedisOptions{}, nil)
	assert.Equal(t, "transcription:jobs", pub.Channel())
	assert.Equal(t, "transcription:job:abc", pub.Key("abc"))
	assert.Equal(t, 24*time.Hour, pub.ttl)
}
