package redis

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

// OutcomeStore persists deferred-request outcomes under response:<ticketId>
// with a 48 h TTL. Terminal outcomes never change once written, so reads are
// served from a process-local cache when possible.
type OutcomeStore struct {
	kv     *KVStore
	local  *gocache.Cache
	ttl    time.Duration
	logger logger.Logger
}

var _ service.OutcomeStore = (*OutcomeStore)(nil)

// NewOutcomeStore builds an OutcomeStore with the standard 48 h TTL.
func NewOutcomeStore(kv *KVStore, log logger.Logger) *OutcomeStore {
	return &OutcomeStore{
		kv:     kv,
		local:  gocache.New(10*time.Minute, 30*time.Minute),
		ttl:    constants.OutcomeTTL,
		logger: log.WithComponent("outcomes"),
	}
}

func responseKey(ticketID string) string {
	return constants.KeyPrefixResponse + ticketID
}

// Put writes the outcome for a ticket.
func (s *OutcomeStore) Put(ctx context.Context, ticketID string, outcome *models.Outcome) error {
	raw, err := outcome.Encode()
	if err != nil {
		return err
	}
	if err := s.kv.SetWithTTL(ctx, responseKey(ticketID), raw, s.ttl); err != nil {
		return err
	}
	if outcome.Terminal() {
		s.local.SetDefault(ticketID, outcome)
	}
	return nil
}

// Get reads the outcome for a ticket. Returns (nil, nil) when the request is
// still pending.
func (s *OutcomeStore) Get(ctx context.Context, ticketID string) (*models.Outcome, error) {
	if cached, ok := s.local.Get(ticketID); ok {
		return cached.(*models.Outcome), nil
	}

	raw, found, err := s.kv.Get(ctx, responseKey(ticketID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	outcome, err := models.DecodeOutcome(raw)
	if err != nil {
		s.logger.Error(ctx, "stored outcome is malformed", err,
			logger.String("ticket_id", ticketID),
		)
		return nil, err
	}
	if outcome.Terminal() {
		s.local.SetDefault(ticketID, outcome)
	}
	return outcome, nil
}
