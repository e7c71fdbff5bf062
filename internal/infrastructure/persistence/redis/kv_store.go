package redis

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// KVStore is the typed adapter over the shared store's atomic primitives:
// optimistic multi-key transactions, counters with TTL-on-first-write,
// hashes, sorted sets, streams with consumer groups, and sets.
//
// Transient cluster-redirect errors (data moved between shards) are retried
// up to MaxRetries with a fixed RetryDelay; everything else propagates.
type KVStore struct {
	client     goredis.UniversalClient
	logger     logger.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewKVStore builds a KVStore over an established connection.
func NewKVStore(conn *Connection, maxRetries int, retryDelay time.Duration, log logger.Logger) *KVStore {
	return &KVStore{
		client:     conn.Client(),
		logger:     log.WithComponent("kv"),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Client exposes the raw client for transaction bodies.
func (s *KVStore) Client() goredis.UniversalClient {
	return s.client
}

// isRedirect reports whether err is a cluster-redirect or resharding error.
func isRedirect(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "MOVED") ||
		strings.HasPrefix(msg, "ASK") ||
		strings.HasPrefix(msg, "TRYAGAIN") ||
		strings.HasPrefix(msg, "CLUSTERDOWN")
}

// withRetry runs op, retrying cluster-redirect errors up to the configured
// bound with a fixed delay. Optimistic-commit aborts (TxFailedErr) are not
// retried here; callers retry those immediately.
func (s *KVStore) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isRedirect(err) {
			return err
		}
		if attempt >= s.maxRetries {
			break
		}
		s.logger.Warn(ctx, "store redirect, retrying",
			logger.Int("attempt", attempt+1),
			logger.Err(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
	return errors.ErrTransientStore("store unavailable after retries").WithCause(err)
}

// ================================================================================
// Optimistic multi-key transactions
// ================================================================================

// Optimistic runs fn on a connection watching keys. Reads issued through the
// tx see a stable view; writes staged in a tx pipeline commit only if none
// of the watched keys changed. On a concurrent modification the call returns
// goredis.TxFailedErr and the caller retries immediately.
func (s *KVStore) Optimistic(ctx context.Context, keys []string, fn func(tx *goredis.Tx) error) error {
	return s.withRetry(ctx, func() error {
		return s.client.Watch(ctx, fn, keys...)
	})
}

// IsTxConflict reports whether err is an optimistic-commit abort.
func IsTxConflict(err error) bool {
	return err == goredis.TxFailedErr
}

// ================================================================================
// Counters and plain keys
// ================================================================================

// IncrWithTTL atomically increments key, setting ttl on first write.
func (s *KVStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		pipe := s.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		n = incr.Val()
		if n == 1 {
			return s.client.Expire(ctx, key, ttl).Err()
		}
		return nil
	})
	return n, err
}

// Incr atomically increments key without touching its TTL.
func (s *KVStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		v, err := s.client.Incr(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

// SetWithTTL writes a string value with a TTL.
func (s *KVStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withRetry(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// Get reads a string value. Returns ("", false, nil) when absent.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := s.withRetry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	return val, found, err
}

// Del removes keys.
func (s *KVStore) Del(ctx context.Context, keys ...string) error {
	return s.withRetry(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// Expire sets a key's TTL.
func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withRetry(ctx, func() error {
		return s.client.Expire(ctx, key, ttl).Err()
	})
}

// ================================================================================
// Hashes
// ================================================================================

// HashGetAll reads every field of a hash. An empty map means absent.
func (s *KVStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := s.withRetry(ctx, func() error {
		v, err := s.client.HGetAll(ctx, key).Result()
		fields = v
		return err
	})
	return fields, err
}

// HashSet writes hash fields.
func (s *KVStore) HashSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return s.withRetry(ctx, func() error {
		return s.client.HSet(ctx, key, fields).Err()
	})
}

// ================================================================================
// Sorted sets
// ================================================================================

// ZAdd adds a scored member.
func (s *KVStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.withRetry(ctx, func() error {
		return s.client.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	})
}

// ZRemoveByScore removes members with scores in [min, max].
func (s *KVStore) ZRemoveByScore(ctx context.Context, key, min, max string) error {
	return s.withRetry(ctx, func() error {
		return s.client.ZRemRangeByScore(ctx, key, min, max).Err()
	})
}

// ZCard returns a sorted set's cardinality.
func (s *KVStore) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		v, err := s.client.ZCard(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

// ================================================================================
// Streams and consumer groups
// ================================================================================

// StreamAppend appends a single-field entry with an auto-generated id.
func (s *KVStore) StreamAppend(ctx context.Context, stream, field, value string) (string, error) {
	var id string
	err := s.withRetry(ctx, func() error {
		v, err := s.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{field: value},
		}).Result()
		id = v
		return err
	})
	return id, err
}

// StreamCreateGroup creates a consumer group at cursor 0 with MKSTREAM,
// treating "group exists" as success.
func (s *KVStore) StreamCreateGroup(ctx context.Context, stream, group string) error {
	return s.withRetry(ctx, func() error {
		err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	})
}

// StreamReadGroup reads up to count new entries for consumer, blocking up to
// block. Returns nil when the block times out.
func (s *KVStore) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]goredis.XMessage, error) {
	var msgs []goredis.XMessage
	err := s.withRetry(ctx, func() error {
		res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    count,
			Block:    block,
		}).Result()
		if err == goredis.Nil {
			msgs = nil
			return nil
		}
		if err != nil {
			return err
		}
		if len(res) > 0 {
			msgs = res[0].Messages
		}
		return nil
	})
	return msgs, err
}

// StreamAck acknowledges delivered entries.
func (s *KVStore) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	return s.withRetry(ctx, func() error {
		return s.client.XAck(ctx, stream, group, ids...).Err()
	})
}

// StreamLen returns the stream length.
func (s *KVStore) StreamLen(ctx context.Context, stream string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		v, err := s.client.XLen(ctx, stream).Result()
		n = v
		return err
	})
	return n, err
}

// StreamPendingSummary returns the group's pending summary, or nil when
// nothing is pending.
func (s *KVStore) StreamPendingSummary(ctx context.Context, stream, group string) (*goredis.XPending, error) {
	var pending *goredis.XPending
	err := s.withRetry(ctx, func() error {
		v, err := s.client.XPending(ctx, stream, group).Result()
		if err == goredis.Nil {
			pending = nil
			return nil
		}
		if err != nil {
			return err
		}
		pending = v
		return nil
	})
	return pending, err
}

// StreamTrimMinID drops entries with ids below minID.
func (s *KVStore) StreamTrimMinID(ctx context.Context, stream, minID string) error {
	return s.withRetry(ctx, func() error {
		return s.client.XTrimMinID(ctx, stream, minID).Err()
	})
}

// StreamTrimMaxLen trims the stream down to maxLen entries.
func (s *KVStore) StreamTrimMaxLen(ctx context.Context, stream string, maxLen int64) error {
	return s.withRetry(ctx, func() error {
		return s.client.XTrimMaxLen(ctx, stream, maxLen).Err()
	})
}

// StreamRemoveConsumer deletes a consumer from a group. Its pending entries
// become ownerless.
func (s *KVStore) StreamRemoveConsumer(ctx context.Context, stream, group, consumer string) error {
	return s.withRetry(ctx, func() error {
		return s.client.XGroupDelConsumer(ctx, stream, group, consumer).Err()
	})
}

// ================================================================================
// Sets
// ================================================================================

// SetAdd adds members to a set.
func (s *KVStore) SetAdd(ctx context.Context, key string, members ...interface{}) error {
	return s.withRetry(ctx, func() error {
		return s.client.SAdd(ctx, key, members...).Err()
	})
}

// SetPop removes and returns one member. Returns ("", false, nil) when empty.
func (s *KVStore) SetPop(ctx context.Context, key string) (string, bool, error) {
	var member string
	var found bool
	err := s.withRetry(ctx, func() error {
		v, err := s.client.SPop(ctx, key).Result()
		if err == goredis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		member, found = v, true
		return nil
	})
	return member, found, err
}

// SetIsMember reports whether member is in the set.
func (s *KVStore) SetIsMember(ctx context.Context, key string, member string) (bool, error) {
	var ok bool
	err := s.withRetry(ctx, func() error {
		v, err := s.client.SIsMember(ctx, key, member).Result()
		ok = v
		return err
	})
	return ok, err
}
