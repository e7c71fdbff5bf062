package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/domain/models"
)

// tokenBucket refills tokens continuously at refillRate up to burst
// capacity. A bucket starts full on first observation, so an idle app can
// burst before settling into the steady-state rate.
type tokenBucket struct {
	appID string
	cfg   *models.RateLimitConfig
}

func (t *tokenBucket) bucketKey() string {
	return fmt.Sprintf("{bucket:%s}", t.appID)
}

func (t *tokenBucket) keys(now time.Time) []string {
	return []string{t.bucketKey()}
}

func (t *tokenBucket) evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (bool, func(pipe goredis.Pipeliner) error, error) {
	key := t.bucketKey()
	burst := float64(t.cfg.EffectiveBurst())
	refillRate := t.cfg.EffectiveRefillRate()

	state, err := tx.HGetAll(ctx, key).Result()
	if err != nil {
		return false, nil, err
	}

	tokens := burst
	lastRefill := now.UnixMilli()
	if len(state) > 0 {
		if v, err := strconv.ParseFloat(state["tokens"], 64); err == nil {
			tokens = v
		}
		if v, err := strconv.ParseInt(state["lastRefill"], 10, 64); err == nil {
			lastRefill = v
		}
		elapsed := float64(now.UnixMilli()-lastRefill) / 1000.0
		tokens = math.Min(burst, tokens+elapsed*refillRate)
	}

	if tokens < 1 {
		return false, nil, nil
	}

	ttl := time.Duration(2*int64(math.Ceil(burst/refillRate))) * time.Second
	remaining := tokens - 1
	nowMs := now.UnixMilli()
	return true, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"tokens":     strconv.FormatFloat(remaining, 'f', -1, 64),
			"lastRefill": strconv.FormatInt(nowMs, 10),
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	}, nil
}
