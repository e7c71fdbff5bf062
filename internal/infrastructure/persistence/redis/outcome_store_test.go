package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

func TestOutcomeStore_PendingWhenAbsent(t *testing.T) {
	kv, _ := newKV(t)
	store := redis.NewOutcomeStore(kv, logger.NewNoopLogger())

	outcome, err := store.Get(context.Background(), "unknown-ticket")
	require.NoError(t, err)
	assert.Nil(t, outcome, "absence reads as pending")
}

func TestOutcomeStore_PutAndGet(t *testing.T) {
	kv, s := newKV(t)
	store := redis.NewOutcomeStore(kv, logger.NewNoopLogger())
	ctx := context.Background()

	written := &models.Outcome{
		Status:      constants.OutcomeCompleted,
		StatusCode:  201,
		CompletedAt: 1700000000000,
	}
	require.NoError(t, store.Put(ctx, "ticket-1", written))

	got, err := store.Get(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, constants.OutcomeCompleted, got.Status)
	assert.Equal(t, 201, got.StatusCode)

	// The stored record carries the 48h TTL.
	assert.Equal(t, constants.OutcomeTTL, s.TTL(constants.KeyPrefixResponse+"ticket-1"))

	// Repeated reads return the same value (outcome monotonicity).
	again, err := store.Get(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestOutcomeStore_FailedOutcome(t *testing.T) {
	kv, _ := newKV(t)
	store := redis.NewOutcomeStore(kv, logger.NewNoopLogger())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ticket-2", &models.Outcome{
		Status: constants.OutcomeFailed,
		Error:  "upstream request failed",
	}))

	got, err := store.Get(ctx, "ticket-2")
	require.NoError(t, err)
	assert.Equal(t, constants.OutcomeFailed, got.Status)
	assert.Equal(t, "upstream request failed", got.Error)
	assert.True(t, got.Terminal())
}
