package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/domain/models"
)

// fixedWindow counts requests in window-aligned buckets. The window flips
// abruptly at boundaries, so bursts of up to 2x the cap across a boundary
// are a known trade-off of the strategy.
type fixedWindow struct {
	appID string
	cfg   *models.RateLimitConfig
}

func (f *fixedWindow) bucketKey(now time.Time) string {
	bucket := now.Unix() / f.cfg.Window
	return fmt.Sprintf("{fixed:%s}:%d", f.appID, bucket)
}

func (f *fixedWindow) keys(now time.Time) []string {
	return []string{f.bucketKey(now)}
}

func (f *fixedWindow) evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (bool, func(pipe goredis.Pipeliner) error, error) {
	key := f.bucketKey(now)

	count, err := readInt(ctx, tx, key)
	if err != nil {
		return false, nil, err
	}
	if count >= f.cfg.Requests {
		return false, nil, nil
	}

	firstWrite := count == 0
	ttl := time.Duration(f.cfg.Window) * time.Second
	return true, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, key)
		if firstWrite {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	}, nil
}
