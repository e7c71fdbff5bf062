package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/internal/infrastructure/ratelimit"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

func newEngine(t *testing.T) (*ratelimit.Engine, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	conn := redis.NewConnectionFromClient(client, logger.NewNoopLogger())
	kv := redis.NewKVStore(conn, 3, 10*time.Millisecond, logger.NewNoopLogger())
	return ratelimit.NewEngine(kv, logger.NewNoopLogger()), s
}

// fixedClock pins the engine clock and lets tests advance it.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time          { return c.now }
func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func decideN(t *testing.T, e *ratelimit.Engine, appID string, cfg *models.RateLimitConfig, n int) (admits, denies int) {
	t.Helper()
	for i := 0; i < n; i++ {
		decision, err := e.Decide(context.Background(), appID, cfg)
		require.NoError(t, err)
		if decision == service.Admit {
			admits++
		} else {
			denies++
		}
	}
	return admits, denies
}

func TestEngine_UnknownStrategy(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Decide(context.Background(), "app", &models.RateLimitConfig{
		Strategy: "banana",
		Window:   1,
		Requests: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestEngine_FixedWindow_Cap(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{Strategy: constants.StrategyFixedWindow, Window: 1, Requests: 3}

	admits, denies := decideN(t, e, "app-fixed", cfg, 5)
	assert.Equal(t, 3, admits, "cap admits inside one window")
	assert.Equal(t, 2, denies)

	// The window flips at the second boundary.
	clock.Advance(time.Second)
	decision, err := e.Decide(context.Background(), "app-fixed", cfg)
	require.NoError(t, err)
	assert.Equal(t, service.Admit, decision)
}

func TestEngine_FixedWindow_TTL(t *testing.T) {
	e, s := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{Strategy: constants.StrategyFixedWindow, Window: 60, Requests: 5}
	_, _ = decideN(t, e, "app-ttl", cfg, 1)

	key := "{fixed:app-ttl}:" + "28333333"
	require.True(t, s.Exists(key))
	assert.Equal(t, 60*time.Second, s.TTL(key))
}

func TestEngine_SlidingWindow_WeightedEstimate(t *testing.T) {
	e, _ := newEngine(t)
	// Pin to the middle of a window so the previous bucket weighs 0.5.
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{Strategy: constants.StrategySlidingWindow, Window: 10, Requests: 4}

	// Fill the current bucket to the cap.
	admits, _ := decideN(t, e, "app-sliding", cfg, 6)
	assert.Equal(t, 4, admits)

	// One full window later the filled bucket is "previous". At 50% elapsed
	// it contributes half its count: estimate 2 < 4, so two more admit.
	clock.Advance(15 * time.Second)
	admits, denies := decideN(t, e, "app-sliding", cfg, 4)
	assert.Equal(t, 2, admits)
	assert.Equal(t, 2, denies)
}

func TestEngine_TokenBucket_BurstAndRefill(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{
		Strategy:   constants.StrategyTokenBucket,
		Window:     60,
		Requests:   10,
		Burst:      5,
		RefillRate: 2,
	}

	// A fresh bucket starts full: the first burst requests all admit.
	admits, denies := decideN(t, e, "app-bucket", cfg, 8)
	assert.Equal(t, 5, admits)
	assert.Equal(t, 3, denies)

	// After 1.5s at 2 tokens/sec, exactly 3 more admits succeed.
	clock.Advance(1500 * time.Millisecond)
	admits, denies = decideN(t, e, "app-bucket", cfg, 4)
	assert.Equal(t, 3, admits)
	assert.Equal(t, 1, denies)
}

func TestEngine_TokenBucket_ClampedToBurst(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{
		Strategy:   constants.StrategyTokenBucket,
		Window:     60,
		Requests:   10,
		Burst:      3,
		RefillRate: 1,
	}

	admits, _ := decideN(t, e, "app-clamp", cfg, 3)
	require.Equal(t, 3, admits)

	// Idling far longer than burst/refillRate must not overfill the bucket.
	clock.Advance(time.Hour)
	admits, denies := decideN(t, e, "app-clamp", cfg, 5)
	assert.Equal(t, 3, admits)
	assert.Equal(t, 2, denies)
}

func TestEngine_LeakyBucket_Smoothing(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{
		Strategy: constants.StrategyLeakyBucket,
		Window:   60,
		Requests: 2,
		LeakRate: 1,
	}

	// The bucket fills to capacity, then denies.
	admits, denies := decideN(t, e, "app-leaky", cfg, 4)
	assert.Equal(t, 2, admits)
	assert.Equal(t, 2, denies)

	// One unit leaks per second; one slot frees up.
	clock.Advance(time.Second)
	admits, denies = decideN(t, e, "app-leaky", cfg, 2)
	assert.Equal(t, 1, admits)
	assert.Equal(t, 1, denies)

	// Sub-second elapsed time leaks nothing (floor semantics).
	clock.Advance(900 * time.Millisecond)
	decision, err := e.Decide(context.Background(), "app-leaky", cfg)
	require.NoError(t, err)
	assert.Equal(t, service.Deny, decision)
}

func TestEngine_SlidingLog_Exact(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{Strategy: constants.StrategySlidingLog, Window: 2, Requests: 2}

	// t=0, 0.5, 1.0, 1.5: first two admit, next two deny.
	var admits, denies int
	for i := 0; i < 4; i++ {
		decision, err := e.Decide(context.Background(), "app-log", cfg)
		require.NoError(t, err)
		if decision == service.Admit {
			admits++
		} else {
			denies++
		}
		clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, 2, admits)
	assert.Equal(t, 2, denies)

	// At t=2.1 the t=0 entry has slid out; the t=0.5 entry is still inside
	// the window, so exactly one slot frees up.
	clock.Advance(100 * time.Millisecond)
	admits, denies = decideN(t, e, "app-log", cfg, 2)
	assert.Equal(t, 1, admits)
	assert.Equal(t, 1, denies)

	// At t=2.6 the t=0.5 entry expires too.
	clock.Advance(500 * time.Millisecond)
	decision, err := e.Decide(context.Background(), "app-log", cfg)
	require.NoError(t, err)
	assert.Equal(t, service.Admit, decision)
}

func TestEngine_SlidingLog_NoErrorTerm(t *testing.T) {
	e, _ := newEngine(t)
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	e.SetClock(clock.Now)

	cfg := &models.RateLimitConfig{Strategy: constants.StrategySlidingLog, Window: 10, Requests: 5}

	// Spread requests across the window; admits inside any window-length
	// interval never exceed the cap.
	totalAdmits := 0
	for i := 0; i < 20; i++ {
		decision, err := e.Decide(context.Background(), "app-exact", cfg)
		require.NoError(t, err)
		if decision == service.Admit {
			totalAdmits++
		}
		clock.Advance(250 * time.Millisecond)
	}
	// 20 requests over 5s all fall inside one 10s window.
	assert.Equal(t, 5, totalAdmits)
}
