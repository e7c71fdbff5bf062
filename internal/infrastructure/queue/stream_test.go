package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/internal/infrastructure/queue"
	"github.com/Largonarco/RateX/pkg/logger"
)

func newKV(t *testing.T) *redis.KVStore {
	t.Helper()
	s := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	conn := redis.NewConnectionFromClient(client, logger.NewNoopLogger())
	return redis.NewKVStore(conn, 3, 10*time.Millisecond, logger.NewNoopLogger())
}

func testRequest(ticket string) *models.DeferredRequest {
	return &models.DeferredRequest{
		TicketID:   ticket,
		AppID:      "app-1",
		Method:     "GET",
		Path:       "v1/ping",
		Headers:    map[string]string{"Accept": "application/json"},
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

func TestStream_AppendReadAck(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	s, err := queue.NewStream(ctx, kv, "node:1", logger.NewNoopLogger())
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, testRequest("t-1")))
	require.NoError(t, s.Append(ctx, testRequest("t-2")))

	length, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	entries, err := s.ReadBatch(ctx, "node:1:worker:1", 3, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t-1", entries[0].Request.TicketID, "per-stream FIFO")
	assert.Equal(t, "t-2", entries[1].Request.TicketID)

	// Unacknowledged entries stay pending under the consumer's name.
	pending, err := kv.StreamPendingSummary(ctx, s.Name(), s.Group())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, int64(2), pending.Count)

	require.NoError(t, s.Ack(ctx, entries[0].ID))
	require.NoError(t, s.Ack(ctx, entries[1].ID))

	pending, err = kv.StreamPendingSummary(ctx, s.Name(), s.Group())
	require.NoError(t, err)
	if pending != nil {
		assert.Equal(t, int64(0), pending.Count)
	}
}

func TestStream_GroupCreateIsIdempotent(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	_, err := queue.NewStream(ctx, kv, "node:7", logger.NewNoopLogger())
	require.NoError(t, err)
	_, err = queue.NewStream(ctx, kv, "node:7", logger.NewNoopLogger())
	assert.NoError(t, err, "second group create must tolerate BUSYGROUP")
}

func TestStream_TrimPreservesPending(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	s, err := queue.NewStream(ctx, kv, "node:2", logger.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(ctx, testRequest(fmt.Sprintf("t-%d", i))))
	}

	// Deliver the first three without acknowledging: they become pending.
	entries, err := s.ReadBatch(ctx, "node:2:worker:1", 3, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Trimming down to 4 must not drop the in-flight entries.
	require.NoError(t, s.Trim(ctx, 4))

	length, err := s.Len(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, length, int64(3), "pending entries survive the trim")

	pending, err := kv.StreamPendingSummary(ctx, s.Name(), s.Group())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, int64(3), pending.Count)
}

func TestStream_TrimNoopBelowCap(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	s, err := queue.NewStream(ctx, kv, "node:3", logger.NewNoopLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, testRequest(fmt.Sprintf("t-%d", i))))
	}

	require.NoError(t, s.Trim(ctx, 10))
	length, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)
}

func TestStream_RemoveConsumer(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	s, err := queue.NewStream(ctx, kv, "node:4", logger.NewNoopLogger())
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, testRequest("t-1")))
	_, err = s.ReadBatch(ctx, "node:4:worker:1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	assert.NoError(t, s.RemoveConsumer(ctx, "node:4:worker:1"))
}
