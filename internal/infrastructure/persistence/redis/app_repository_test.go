package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

func newKV(t *testing.T) (*redis.KVStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	conn := redis.NewConnectionFromClient(client, logger.NewNoopLogger())
	return redis.NewKVStore(conn, 3, 10*time.Millisecond, logger.NewNoopLogger()), s
}

func testApp() *models.App {
	return &models.App{
		ID:      "app-1",
		Name:    "orders",
		BaseURL: "http://orders.internal:8080",
		UserID:  "user-1",
		RateLimit: &models.RateLimitConfig{
			Strategy: constants.StrategyFixedWindow,
			Window:   60,
			Requests: 100,
		},
	}
}

func TestAppRepository_SaveAndGet(t *testing.T) {
	kv, _ := newKV(t)
	repo := redis.NewAppRepository(kv, logger.NewNoopLogger())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testApp()))

	got, err := repo.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "http://orders.internal:8080", got.BaseURL)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, constants.StrategyFixedWindow, got.RateLimit.Strategy)
	assert.Equal(t, int64(100), got.RateLimit.Requests)
}

func TestAppRepository_GetUnknown(t *testing.T) {
	kv, _ := newKV(t)
	repo := redis.NewAppRepository(kv, logger.NewNoopLogger())

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestAppRepository_RejectsMalformedConfig(t *testing.T) {
	kv, _ := newKV(t)
	repo := redis.NewAppRepository(kv, logger.NewNoopLogger())

	app := testApp()
	app.RateLimit.Strategy = "lottery"
	err := repo.Save(context.Background(), app)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err), "config must validate before it is written")
}

func TestAppRepository_Delete(t *testing.T) {
	kv, _ := newKV(t)
	repo := redis.NewAppRepository(kv, logger.NewNoopLogger())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testApp()))
	require.NoError(t, repo.Delete(ctx, "app-1"))

	_, err := repo.Get(ctx, "app-1")
	assert.True(t, errors.IsNotFound(err))
}
