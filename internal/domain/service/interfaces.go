// Package service defines the domain-level contracts between the gateway's
// components. Implementations live under internal/infrastructure.
package service

import (
	"context"
	"time"

	"github.com/Largonarco/RateX/internal/domain/models"
)

// Decision is the output of a rate-limit check.
type Decision int

const (
	// Deny means the request must be deferred.
	Deny Decision = iota
	// Admit means the request may proceed immediately.
	Admit
)

// String returns the decision name for logs.
func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "deny"
}

// RateLimitService decides whether a request for an application may proceed.
// Implementations mutate only the limiter state they own, atomically.
type RateLimitService interface {
	// Decide returns Admit or Deny for one request against app's config.
	Decide(ctx context.Context, appID string, cfg *models.RateLimitConfig) (Decision, error)
}

// AppRepository provides access to registered application records.
type AppRepository interface {
	// Get loads an application by id. Returns a not-found error when absent.
	Get(ctx context.Context, appID string) (*models.App, error)

	// Save writes an application record. The rate-limit config must validate.
	Save(ctx context.Context, app *models.App) error

	// Delete removes an application record.
	Delete(ctx context.Context, appID string) error
}

// QueueEntry is one delivered stream entry: the stream id plus its payload.
type QueueEntry struct {
	ID      string
	Request *models.DeferredRequest
}

// RequestQueue is the per-node deferred-request stream with consumer-group
// delivery semantics.
type RequestQueue interface {
	// Append adds a request to the tail of the stream.
	Append(ctx context.Context, req *models.DeferredRequest) error

	// ReadBatch reads up to count entries for the named consumer, blocking
	// up to block. An empty result means the block timed out.
	ReadBatch(ctx context.Context, consumer string, count int64, block time.Duration) ([]QueueEntry, error)

	// Ack acknowledges a delivered entry.
	Ack(ctx context.Context, entryID string) error

	// Len returns the current stream length.
	Len(ctx context.Context) (int64, error)

	// Trim drops idle surplus from the head down to maxLen, never trimming
	// past the oldest still-pending entry.
	Trim(ctx context.Context, maxLen int64) error

	// RemoveConsumer deletes a consumer from the group.
	RemoveConsumer(ctx context.Context, consumer string) error
}

// OutcomeStore records and serves deferred-request outcomes.
type OutcomeStore interface {
	// Put writes the outcome for a ticket with the configured TTL.
	Put(ctx context.Context, ticketID string, outcome *models.Outcome) error

	// Get reads the outcome for a ticket. Returns (nil, nil) when pending.
	Get(ctx context.Context, ticketID string) (*models.Outcome, error)
}

// NodeAllocator hands out the bounded pool of node ids.
// Invariant: at most 100 ids are ever issued cluster-wide.
type NodeAllocator interface {
	// Acquire returns a free node id, creating a new one if the pool is
	// empty and the ceiling has not been reached.
	Acquire(ctx context.Context) (string, error)

	// Release returns a node id to the free pool.
	Release(ctx context.Context, nodeID string) error
}
