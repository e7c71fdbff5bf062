// Package worker contains the deferred-request workers and the pool manager
// that scales them against the node's stream backlog.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/monitoring"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// Worker pulls batched deferred requests from the node's stream, re-checks
// the rate limit with the app's current config, executes the upstream call,
// and records the outcome. Upstream failures are not retried; the first
// outcome is final.
type Worker struct {
	ConsumerID string

	queue    service.RequestQueue
	apps     service.AppRepository
	limiter  service.RateLimitService
	outcomes service.OutcomeStore
	client   *http.Client
	metrics  *monitoring.Metrics
	logger   logger.Logger

	batchSize int64
	block     time.Duration

	stop chan struct{}
	done chan struct{}
}

// Deps bundles the collaborators a worker needs.
type Deps struct {
	Queue    service.RequestQueue
	Apps     service.AppRepository
	Limiter  service.RateLimitService
	Outcomes service.OutcomeStore
	Client   *http.Client
	Metrics  *monitoring.Metrics
	Logger   logger.Logger
}

// NewWorker builds a worker with the given consumer id.
func NewWorker(consumerID string, deps Deps, batchSize int64, block time.Duration) *Worker {
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Worker{
		ConsumerID: consumerID,
		queue:      deps.Queue,
		apps:       deps.Apps,
		limiter:    deps.Limiter,
		outcomes:   deps.Outcomes,
		client:     client,
		metrics:    deps.Metrics,
		logger:     deps.Logger.WithComponent("worker").WithFields(logger.String("consumer_id", consumerID)),
		batchSize:  batchSize,
		block:      block,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the cooperative worker loop. It blocks until Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info(ctx, "worker started")

	for {
		select {
		case <-w.stop:
			w.logger.Info(ctx, "worker stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		entries, err := w.queue.ReadBatch(ctx, w.ConsumerID, w.batchSize, w.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error(ctx, "failed to read stream batch", err)
			// Back off briefly so a broken store does not spin the loop.
			select {
			case <-w.stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, entry := range entries {
			w.processEntry(ctx, entry)
		}
	}
}

// Stop signals the loop to exit after its in-flight batch.
func (w *Worker) Stop() {
	close(w.stop)
}

// Done is closed once the loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// processEntry handles one delivered entry. Any processing failure records a
// failed outcome and acknowledges the entry so the stream keeps draining.
func (w *Worker) processEntry(ctx context.Context, entry service.QueueEntry) {
	req := entry.Request
	log := w.logger.WithFields(
		logger.String("ticket_id", req.TicketID),
		logger.String("app_id", req.AppID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "panic while processing deferred request",
				errors.ErrWorkerException(fmt.Sprintf("%v", r)))
			w.recordFailure(ctx, req.TicketID, fmt.Sprintf("internal error: %v", r))
			w.ack(ctx, entry.ID)
		}
	}()

	// The app's config is reloaded per request so updates take effect.
	app, err := w.apps.Get(ctx, req.AppID)
	if err != nil {
		log.Error(ctx, "failed to load app for deferred request", err)
		w.recordFailure(ctx, req.TicketID, "application no longer exists")
		w.ack(ctx, entry.ID)
		return
	}

	decision, err := w.limiter.Decide(ctx, app.ID, app.RateLimit)
	if err != nil {
		log.Error(ctx, "rate limit re-check failed", err)
		w.recordFailure(ctx, req.TicketID, "rate limit check failed")
		w.ack(ctx, entry.ID)
		return
	}

	if decision == service.Deny {
		// Still over the limit: push to the tail with a refreshed timestamp
		// and acknowledge the original so it is not pending twice.
		requeued := *req
		requeued.EnqueuedAt = time.Now().UnixMilli()
		if err := w.queue.Append(ctx, &requeued); err != nil {
			log.Error(ctx, "failed to requeue deferred request", err)
			w.recordFailure(ctx, req.TicketID, "failed to requeue request")
		}
		w.ack(ctx, entry.ID)
		return
	}

	statusCode, err := w.execute(ctx, app, req)
	if err != nil {
		log.Error(ctx, "upstream call failed", err)
		w.recordFailure(ctx, req.TicketID, err.Error())
		w.ack(ctx, entry.ID)
		return
	}

	outcome := &models.Outcome{
		Status:      constants.OutcomeCompleted,
		StatusCode:  statusCode,
		CompletedAt: time.Now().UnixMilli(),
	}
	if err := w.outcomes.Put(ctx, req.TicketID, outcome); err != nil {
		log.Error(ctx, "failed to record outcome", err)
	} else {
		w.metrics.RecordOutcome(string(constants.OutcomeCompleted))
	}
	w.ack(ctx, entry.ID)

	log.Debug(ctx, "deferred request completed", logger.Int("status_code", statusCode))
}

// execute performs the stored upstream call and returns its status code.
// A non-2xx upstream response is still a completed outcome.
func (w *Worker) execute(ctx context.Context, app *models.App, req *models.DeferredRequest) (int, error) {
	url := strings.TrimSuffix(app.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return 0, errors.ErrUpstream("invalid upstream request").WithCause(err)
	}
	for k, v := range req.Headers {
		if isHopByHopHeader(k) {
			continue
		}
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return 0, errors.ErrUpstream("upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	w.metrics.RecordUpstreamLatency(app.ID, time.Since(start))
	return resp.StatusCode, nil
}

func (w *Worker) recordFailure(ctx context.Context, ticketID, message string) {
	outcome := &models.Outcome{
		Status:      constants.OutcomeFailed,
		Error:       message,
		CompletedAt: time.Now().UnixMilli(),
	}
	if err := w.outcomes.Put(ctx, ticketID, outcome); err != nil {
		w.logger.Error(ctx, "failed to record failure outcome", err,
			logger.String("ticket_id", ticketID),
		)
		return
	}
	w.metrics.RecordOutcome(string(constants.OutcomeFailed))
}

func (w *Worker) ack(ctx context.Context, entryID string) {
	if err := w.queue.Ack(ctx, entryID); err != nil {
		w.logger.Error(ctx, "failed to acknowledge stream entry", err,
			logger.String("entry_id", entryID),
		)
	}
}

// isHopByHopHeader reports whether a header must not be forwarded.
func isHopByHopHeader(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
		"te", "trailer", "transfer-encoding", "upgrade", "content-length", "host":
		return true
	}
	return false
}
