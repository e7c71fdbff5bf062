package queue

import (
	"context"
	"fmt"

	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// NodeAllocator hands out node ids from a free pool backed by server:pool,
// minting new ids from server:counter when the pool is empty. At most 100
// ids are ever created across the cluster's lifetime, which bounds the
// number of per-node stream and group keys.
type NodeAllocator struct {
	kv     *redis.KVStore
	logger logger.Logger
}

var _ service.NodeAllocator = (*NodeAllocator)(nil)

// NewNodeAllocator builds the allocator over the KV store.
func NewNodeAllocator(kv *redis.KVStore, log logger.Logger) *NodeAllocator {
	return &NodeAllocator{kv: kv, logger: log.WithComponent("allocator")}
}

// Acquire pops a released id from the pool, or mints a fresh one. Startup
// fails when the counter would exceed the ceiling.
func (a *NodeAllocator) Acquire(ctx context.Context) (string, error) {
	id, found, err := a.kv.SetPop(ctx, constants.KeyNodePool)
	if err != nil {
		return "", err
	}
	if found {
		a.logger.Info(ctx, "node id reused from pool", logger.String("node_id", id))
		return id, nil
	}

	n, err := a.kv.Incr(ctx, constants.KeyNodeCounter)
	if err != nil {
		return "", err
	}
	if n > constants.MaxNodeIDs {
		return "", errors.ErrNodePoolExhausted()
	}

	id = fmt.Sprintf("node:%d", n)
	a.logger.Info(ctx, "node id minted", logger.String("node_id", id))
	return id, nil
}

// Release returns a node id to the free pool for reuse by a later startup.
func (a *NodeAllocator) Release(ctx context.Context, nodeID string) error {
	if err := a.kv.SetAdd(ctx, constants.KeyNodePool, nodeID); err != nil {
		return err
	}
	a.logger.Info(ctx, "node id released", logger.String("node_id", nodeID))
	return nil
}
