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

// leakyBucket drains its counter at leakRate and denies while the bucket is
// full, smoothing the admitted rate. Leakage uses floor(elapsed * leakRate),
// which can under-leak at sub-second granularities for very slow rates.
type leakyBucket struct {
	appID string
	cfg   *models.RateLimitConfig
}

func (l *leakyBucket) bucketKey() string {
	return fmt.Sprintf("{leaky:%s}", l.appID)
}

func (l *leakyBucket) keys(now time.Time) []string {
	return []string{l.bucketKey()}
}

func (l *leakyBucket) evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (bool, func(pipe goredis.Pipeliner) error, error) {
	key := l.bucketKey()
	leakRate := l.cfg.EffectiveLeakRate()

	state, err := tx.HGetAll(ctx, key).Result()
	if err != nil {
		return false, nil, err
	}

	var count int64
	lastLeak := now.UnixMilli()
	if len(state) > 0 {
		if v, err := strconv.ParseInt(state["count"], 10, 64); err == nil {
			count = v
		}
		if v, err := strconv.ParseInt(state["lastLeak"], 10, 64); err == nil {
			lastLeak = v
		}
		elapsed := float64(now.UnixMilli()-lastLeak) / 1000.0
		leaked := int64(math.Floor(elapsed * leakRate))
		count -= leaked
		if count < 0 {
			count = 0
		}
	}

	if count >= l.cfg.Requests {
		return false, nil, nil
	}

	ttl := time.Duration(2*int64(math.Ceil(float64(l.cfg.Requests)/leakRate))) * time.Second
	next := count + 1
	nowMs := now.UnixMilli()
	return true, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"count":    strconv.FormatInt(next, 10),
			"lastLeak": strconv.FormatInt(nowMs, 10),
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	}, nil
}
