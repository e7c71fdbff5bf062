// Package ratelimit implements the rate-limit decision engine: five
// strategies sharing one optimistic-commit protocol over the KV store.
//
// Every decision follows the same outer loop: read the limiter state under a
// WATCH, compute admit/deny, and if admitting commit the state update in an
// atomic batch. A concurrent writer invalidates the commit and the loop
// retries, so two racing admits resolve to exactly one admit per commit slot.
package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// limiter is one strategy bound to an (app, config) pair for a single
// decision. Implementations read via the watched tx, and stage their admit
// writes on the pipeline handed to commit.
type limiter interface {
	// keys returns the key set to watch for a decision taken at now. The
	// same now is handed to evaluate so the watch set and the read side
	// agree on the active bucket.
	keys(now time.Time) []string

	// evaluate reads current state through tx and decides. On admit it
	// returns the commit function that stages the state update.
	evaluate(ctx context.Context, tx *goredis.Tx, now time.Time) (admit bool, commit func(pipe goredis.Pipeliner) error, err error)
}

// Engine is the rate-limit decision engine.
type Engine struct {
	kv     *redis.KVStore
	logger logger.Logger

	// now is injectable for tests.
	now func() time.Time
}

var _ service.RateLimitService = (*Engine)(nil)

// NewEngine builds the decision engine over the KV store.
func NewEngine(kv *redis.KVStore, log logger.Logger) *Engine {
	return &Engine{
		kv:     kv,
		logger: log.WithComponent("ratelimit"),
		now:    time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Decide returns Admit or Deny for one request against cfg. The only side
// effect is the limiter state the chosen strategy owns.
func (e *Engine) Decide(ctx context.Context, appID string, cfg *models.RateLimitConfig) (service.Decision, error) {
	if err := cfg.Validate(); err != nil {
		return service.Deny, err
	}

	lim, err := e.limiterFor(appID, cfg)
	if err != nil {
		return service.Deny, err
	}

	for {
		decision := service.Deny
		now := e.now()
		err := e.kv.Optimistic(ctx, lim.keys(now), func(tx *goredis.Tx) error {
			admit, commit, err := lim.evaluate(ctx, tx, now)
			if err != nil {
				return err
			}
			if !admit {
				// Denying releases the watch with no writes.
				return nil
			}
			decision = service.Admit
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				return commit(pipe)
			})
			return err
		})
		if redis.IsTxConflict(err) {
			// A contender committed first; re-read and retry immediately.
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return service.Deny, ctx.Err()
			}
			e.logger.Error(ctx, "rate limit decision failed", err,
				logger.String("app_id", appID),
				logger.String("strategy", string(cfg.Strategy)),
			)
			return service.Deny, err
		}
		return decision, nil
	}
}

// limiterFor routes the tagged config to its strategy implementation.
func (e *Engine) limiterFor(appID string, cfg *models.RateLimitConfig) (limiter, error) {
	switch cfg.Strategy {
	case constants.StrategyFixedWindow:
		return &fixedWindow{appID: appID, cfg: cfg}, nil
	case constants.StrategySlidingWindow:
		return &slidingWindow{appID: appID, cfg: cfg}, nil
	case constants.StrategyTokenBucket:
		return &tokenBucket{appID: appID, cfg: cfg}, nil
	case constants.StrategyLeakyBucket:
		return &leakyBucket{appID: appID, cfg: cfg}, nil
	case constants.StrategySlidingLog:
		return &slidingLog{appID: appID, cfg: cfg}, nil
	default:
		return nil, errors.ErrInvalidStrategy(string(cfg.Strategy))
	}
}

// readInt reads an integer key through the watched tx, treating absence as 0.
func readInt(ctx context.Context, tx *goredis.Tx, key string) (int64, error) {
	v, err := tx.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}
