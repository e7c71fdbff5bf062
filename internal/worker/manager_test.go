package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/internal/infrastructure/queue"
	"github.com/Largonarco/RateX/internal/worker"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

func testQueueConfig() config.Queue {
	return config.Queue{
		MaxWorkers:        2,
		MaxQueuedRequests: 10,
		MaxStreamLength:   100,
		ScaleInterval:     50 * time.Millisecond,
		WorkerBatchSize:   1,
		WorkerBlock:       20 * time.Millisecond,
		WorkerGrace:       50 * time.Millisecond,
	}
}

func newManager(t *testing.T, f *fixture, cfg config.Queue) *worker.Manager {
	t.Helper()
	log := logger.NewNoopLogger()
	allocator := queue.NewNodeAllocator(f.kv, log)
	return worker.NewManager(cfg, f.kv, allocator, worker.Deps{
		Apps:     f.apps,
		Limiter:  f.engine,
		Outcomes: f.outcomes,
		Logger:   log,
	}, nil, log)
}

func TestManager_AcquiresAndReleasesNodeID(t *testing.T) {
	f := newFixture(t)
	m := newManager(t, f, testQueueConfig())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, "node:1", m.NodeID())
	require.NotNil(t, m.Queue())

	require.NoError(t, m.Shutdown(ctx))

	// The id goes back to the pool for the next startup.
	member, err := f.kv.SetIsMember(ctx, constants.KeyNodePool, "node:1")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestManager_PinnedNodeIDIsNotPooled(t *testing.T) {
	f := newFixture(t)
	cfg := testQueueConfig()
	cfg.NodeID = "node:pinned"
	m := newManager(t, f, cfg)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, "node:pinned", m.NodeID())
	require.NoError(t, m.Shutdown(ctx))

	member, err := f.kv.SetIsMember(ctx, constants.KeyNodePool, "node:pinned")
	require.NoError(t, err)
	assert.False(t, member, "a pinned id must not enter the free pool")
}

func TestManager_ShutdownIsClean(t *testing.T) {
	f := newFixture(t)
	m := newManager(t, f, testQueueConfig())
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	// Let the scaling loop tick a few times before shutting down.
	time.Sleep(150 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager shutdown did not complete")
	}
}
