// Package queue implements the per-node deferred-request stream and the
// bounded node-id allocator on top of the KV store.
package queue

import (
	"context"
	"time"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

// payloadField is the single stream-entry field holding the serialised request.
const payloadField = "request"

// Stream is a node's append-only deferred-request log with one consumer
// group. Entries are delivered to exactly one consumer until acknowledged.
type Stream struct {
	kv     *redis.KVStore
	stream string
	group  string
	logger logger.Logger
}

var _ service.RequestQueue = (*Stream)(nil)

// NewStream binds a stream to a node id and creates its consumer group
// (idempotent, cursor 0, MKSTREAM).
func NewStream(ctx context.Context, kv *redis.KVStore, nodeID string, log logger.Logger) (*Stream, error) {
	s := &Stream{
		kv:     kv,
		stream: constants.KeyPrefixStream + nodeID,
		group:  constants.KeyPrefixGroup + nodeID,
		logger: log.WithComponent("stream"),
	}
	if err := kv.StreamCreateGroup(ctx, s.stream, s.group); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the stream key.
func (s *Stream) Name() string { return s.stream }

// Group returns the consumer-group name.
func (s *Stream) Group() string { return s.group }

// Append adds a request to the tail of the stream.
func (s *Stream) Append(ctx context.Context, req *models.DeferredRequest) error {
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	id, err := s.kv.StreamAppend(ctx, s.stream, payloadField, payload)
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "deferred request enqueued",
		logger.String("ticket_id", req.TicketID),
		logger.String("entry_id", id),
	)
	return nil
}

// ReadBatch reads up to count entries for consumer, blocking up to block.
// Entries with an unreadable payload are skipped after logging; they stay
// pending under the consumer until acknowledged by a later pass.
func (s *Stream) ReadBatch(ctx context.Context, consumer string, count int64, block time.Duration) ([]service.QueueEntry, error) {
	msgs, err := s.kv.StreamReadGroup(ctx, s.stream, s.group, consumer, count, block)
	if err != nil {
		return nil, err
	}

	entries := make([]service.QueueEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[payloadField].(string)
		if !ok {
			s.logger.Warn(ctx, "stream entry missing payload field",
				logger.String("entry_id", msg.ID),
			)
			continue
		}
		req, err := models.DecodeDeferredRequest(raw)
		if err != nil {
			s.logger.Error(ctx, "stream entry payload is malformed", err,
				logger.String("entry_id", msg.ID),
			)
			continue
		}
		entries = append(entries, service.QueueEntry{ID: msg.ID, Request: req})
	}
	return entries, nil
}

// Ack acknowledges a delivered entry.
func (s *Stream) Ack(ctx context.Context, entryID string) error {
	return s.kv.StreamAck(ctx, s.stream, s.group, entryID)
}

// Len returns the current stream length.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	return s.kv.StreamLen(ctx, s.stream)
}

// Trim drops idle surplus from the head when the stream exceeds maxLen. It
// never trims past the oldest still-pending entry, so in-flight work is
// preserved and only idle surplus is dropped.
func (s *Stream) Trim(ctx context.Context, maxLen int64) error {
	length, err := s.kv.StreamLen(ctx, s.stream)
	if err != nil {
		return err
	}
	if length <= maxLen {
		return nil
	}

	pending, err := s.kv.StreamPendingSummary(ctx, s.stream, s.group)
	if err != nil {
		return err
	}
	if pending != nil && pending.Count > 0 {
		s.logger.Warn(ctx, "trimming stream up to oldest pending entry",
			logger.Int64("length", length),
			logger.String("min_pending", pending.Lower),
		)
		return s.kv.StreamTrimMinID(ctx, s.stream, pending.Lower)
	}

	s.logger.Warn(ctx, "trimming stream to max length",
		logger.Int64("length", length),
		logger.Int64("max_len", maxLen),
	)
	return s.kv.StreamTrimMaxLen(ctx, s.stream, maxLen)
}

// RemoveConsumer deletes a consumer from the group. Its pending entries
// become ownerless; there is no claim mechanism.
func (s *Stream) RemoveConsumer(ctx context.Context, consumer string) error {
	return s.kv.StreamRemoveConsumer(ctx, s.stream, s.group, consumer)
}
