package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/domain/models"
)

// slidingLog keeps every admit timestamp in a sorted set and counts the
// survivors inside the window. Exact, at memory cost proportional to the
// observed rate. Score and member are both the millisecond timestamp, so two
// admits in the same millisecond collapse into one member.
type slidingLog struct {
	appID string
	cfg   *models.RateLimitConfig
}

func (s *slidingLog) logKey() string {
	return fmt.Sprintf("{log:%s}", s.appID)
}

func (s *slidingLog) keys(now time.Time) []string {
	return []string{s.logKey()}
}

func (s *slidingLog) evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (bool, func(pipe goredis.Pipeliner) error, error) {
	key := s.logKey()
	nowMs := now.UnixMilli()
	cutoff := nowMs - s.cfg.Window*1000

	// The read side only counts members still inside the window; touching
	// the watched key here would dirty the WATCH and abort our own commit.
	// Expired members are pruned in the commit pipeline instead.
	card, err := tx.ZCount(ctx, key, strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return false, nil, err
	}
	if card >= s.cfg.Requests {
		return false, nil, nil
	}

	member := strconv.FormatInt(nowMs, 10)
	ttl := time.Duration(s.cfg.Window) * time.Second
	return true, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(nowMs), Member: member})
		pipe.Expire(ctx, key, ttl)
		return nil
	}, nil
}
