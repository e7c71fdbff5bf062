package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/domain/models"
)

// slidingWindow estimates the rolling count by linearly weighting the
// previous window's counter against elapsed time in the current one.
// Buckets live for two windows so the previous bucket stays readable for a
// full window after it closes.
type slidingWindow struct {
	appID string
	cfg   *models.RateLimitConfig
}

func (s *slidingWindow) bucketKeys(now time.Time) (current, previous string) {
	bucket := now.Unix() / s.cfg.Window
	current = fmt.Sprintf("{sliding:%s}:%d", s.appID, bucket)
	previous = fmt.Sprintf("{sliding:%s}:%d", s.appID, bucket-1)
	return current, previous
}

func (s *slidingWindow) keys(now time.Time) []string {
	current, previous := s.bucketKeys(now)
	return []string{current, previous}
}

func (s *slidingWindow) evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (bool, func(pipe goredis.Pipeliner) error, error) {
	currentKey, previousKey := s.bucketKeys(now)

	current, err := readInt(ctx, tx, currentKey)
	if err != nil {
		return false, nil, err
	}
	previous, err := readInt(ctx, tx, previousKey)
	if err != nil {
		return false, nil, err
	}

	windowMs := s.cfg.Window * 1000
	elapsed := float64(now.UnixMilli()%windowMs) / float64(windowMs)
	estimate := float64(previous)*(1-elapsed) + float64(current)
	if estimate >= float64(s.cfg.Requests) {
		return false, nil, nil
	}

	firstWrite := current == 0
	ttl := time.Duration(2*s.cfg.Window) * time.Second
	return true, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, currentKey)
		if firstWrite {
			pipe.Expire(ctx, currentKey, ttl)
		}
		return nil
	}, nil
}
