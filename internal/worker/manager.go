package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Largonarco/RateX/internal/config"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/monitoring"
	"github.com/Largonarco/RateX/internal/infrastructure/persistence/redis"
	"github.com/Largonarco/RateX/internal/infrastructure/queue"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// Manager owns this node's identity and worker lifecycle. It acquires a
// node id on start, creates the node's stream and consumer group, scales
// workers against the observed backlog, and returns the id on shutdown.
type Manager struct {
	cfg       config.Queue
	kv        *redis.KVStore
	allocator service.NodeAllocator
	deps      Deps
	metrics   *monitoring.Metrics
	logger    logger.Logger

	nodeID   string
	acquired bool
	stream   *queue.Stream

	mu      sync.Mutex
	workers map[string]*Worker

	stopLoop chan struct{}
	loopDone chan struct{}
}

// NewManager builds a manager. Start must be called before the node serves
// traffic: handlers enqueue onto the stream the manager creates.
func NewManager(cfg config.Queue, kv *redis.KVStore, allocator service.NodeAllocator, deps Deps, metrics *monitoring.Metrics, log logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		kv:        kv,
		allocator: allocator,
		deps:      deps,
		metrics:   metrics,
		logger:    log.WithComponent("manager"),
		workers:   make(map[string]*Worker),
		stopLoop:  make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Start acquires a node id, creates the stream and group, spawns the first
// worker, and launches the scaling loop.
func (m *Manager) Start(ctx context.Context) error {
	nodeID := m.cfg.NodeID
	if nodeID == "" {
		id, err := m.allocator.Acquire(ctx)
		if err != nil {
			return err
		}
		nodeID = id
		m.acquired = true
	}
	m.nodeID = nodeID

	stream, err := queue.NewStream(ctx, m.kv, nodeID, m.logger)
	if err != nil {
		// Hand the id back so a failed startup does not leak it.
		if m.acquired {
			_ = m.allocator.Release(ctx, nodeID)
		}
		return err
	}
	m.stream = stream
	m.deps.Queue = stream

	m.logger.Info(ctx, "worker pool manager started",
		logger.String("node_id", nodeID),
		logger.String("stream", stream.Name()),
	)

	m.spawnWorker(ctx)
	go m.scaleLoop(ctx)
	return nil
}

// NodeID returns this node's identity. Valid after Start.
func (m *Manager) NodeID() string { return m.nodeID }

// Queue returns the node's request stream. Valid after Start.
func (m *Manager) Queue() service.RequestQueue { return m.stream }

// scaleLoop observes the backlog every ScaleInterval and scales the pool:
// spawn when the backlog exceeds maxQueuedRequests (or the stream is idle
// and a warm worker is free), retire when it falls below half of that.
func (m *Manager) scaleLoop(ctx context.Context) {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopLoop:
			return
		case <-ticker.C:
			m.scaleOnce(ctx)
		}
	}
}

func (m *Manager) scaleOnce(ctx context.Context) {
	length, err := m.stream.Len(ctx)
	if err != nil {
		m.logger.Error(ctx, "failed to observe stream length", err)
		return
	}
	m.metrics.SetStreamLength(length)

	if err := m.stream.Trim(ctx, m.cfg.MaxStreamLength); err != nil {
		m.logger.Error(ctx, "failed to trim stream", err)
	}

	m.mu.Lock()
	count := len(m.workers)
	m.mu.Unlock()

	lo := int64(m.cfg.MaxQueuedRequests)
	switch {
	case (length > lo || length == 0) && count < m.cfg.MaxWorkers:
		m.spawnWorker(ctx)
	case length < lo/2 && count > 1:
		m.retireWorker(ctx)
	}
}

// spawnWorker starts one worker with a timestamped consumer id. A consumer
// id pinned via CONSUMER_ID is used for the first worker only.
func (m *Manager) spawnWorker(ctx context.Context) {
	consumerID := fmt.Sprintf("%s:worker:%d", m.nodeID, time.Now().UnixMilli())
	m.mu.Lock()
	if m.cfg.ConsumerID != "" && len(m.workers) == 0 {
		consumerID = m.cfg.ConsumerID
	}
	m.mu.Unlock()
	w := NewWorker(consumerID, m.deps, m.cfg.WorkerBatchSize, m.cfg.WorkerBlock)

	m.mu.Lock()
	m.workers[consumerID] = w
	count := len(m.workers)
	m.mu.Unlock()

	go w.Run(context.WithoutCancel(ctx))
	m.metrics.SetWorkerCount(count)
	m.logger.Info(ctx, "worker spawned",
		logger.String("consumer_id", consumerID),
		logger.Int("workers", count),
	)
}

// awaitStop waits for a stopped worker's loop to exit. The wait is bounded
// by the context's deadline when it carries one, and otherwise by the worst
// case for the loop to notice the signal: one full blocking read plus the
// grace period for an in-flight batch.
func (m *Manager) awaitStop(ctx context.Context, w *Worker) bool {
	if _, ok := ctx.Deadline(); ok {
		select {
		case <-w.Done():
			return true
		case <-ctx.Done():
			return false
		}
	}

	timer := time.NewTimer(m.cfg.WorkerBlock + m.cfg.WorkerGrace)
	defer timer.Stop()
	select {
	case <-w.Done():
		return true
	case <-timer.C:
		return false
	}
}

// retireWorker stops one worker, waits for its loop to exit so an in-flight
// batch can finish, then removes its consumer from the group. Its remaining
// pending entries become ownerless.
func (m *Manager) retireWorker(ctx context.Context) {
	m.mu.Lock()
	var victim *Worker
	for id, w := range m.workers {
		victim = w
		delete(m.workers, id)
		break
	}
	count := len(m.workers)
	m.mu.Unlock()

	if victim == nil {
		return
	}

	victim.Stop()
	if !m.awaitStop(ctx, victim) {
		// The node still owns its stream, so a straggler finishing one last
		// entry is harmless; its consumer is removed now regardless.
		m.logger.Warn(ctx, "worker did not stop in time",
			logger.String("consumer_id", victim.ConsumerID),
		)
	}

	if err := m.stream.RemoveConsumer(ctx, victim.ConsumerID); err != nil {
		m.logger.Error(ctx, "failed to remove consumer", err,
			logger.String("consumer_id", victim.ConsumerID),
		)
	}

	m.metrics.SetWorkerCount(count)
	m.logger.Info(ctx, "worker retired",
		logger.String("consumer_id", victim.ConsumerID),
		logger.Int("workers", count),
	)
}

// Shutdown stops the scaling loop, drains every worker, removes their
// consumers, and returns the node id to the free pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stopLoop)
	<-m.loopDone

	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	drained := true
	for _, w := range workers {
		if !m.awaitStop(ctx, w) {
			drained = false
			m.logger.Warn(ctx, "worker did not stop before shutdown deadline",
				logger.String("consumer_id", w.ConsumerID),
			)
		}
		if err := m.stream.RemoveConsumer(ctx, w.ConsumerID); err != nil {
			m.logger.Error(ctx, "failed to remove consumer during shutdown", err,
				logger.String("consumer_id", w.ConsumerID),
			)
		}
	}
	m.metrics.SetWorkerCount(0)

	// Ids pinned via SERVER_ID were never taken from the allocator and must
	// not be pushed into the free pool. An id whose workers have not all
	// exited is not released either: a straggler acking against a reacquired
	// id would corrupt the new owner's stream, so leaking one id is the
	// lesser harm.
	if m.acquired {
		if !drained {
			m.logger.Error(ctx, "node id not released: workers still running",
				errors.ErrWorkerException("shutdown drain incomplete"),
				logger.String("node_id", m.nodeID),
			)
			return errors.ErrWorkerException("shutdown drain incomplete")
		}
		if err := m.allocator.Release(ctx, m.nodeID); err != nil {
			m.logger.Error(ctx, "failed to release node id", err,
				logger.String("node_id", m.nodeID),
			)
			return err
		}
	}

	m.logger.Info(ctx, "worker pool manager stopped", logger.String("node_id", m.nodeID))
	return nil
}
