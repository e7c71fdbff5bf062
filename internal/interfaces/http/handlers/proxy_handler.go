// Package handlers contains the gin handlers for the gateway's HTTP surface.
package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Largonarco/RateX/internal/domain/models"
	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/internal/infrastructure/monitoring"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// ProxyHandler is the synchronous admit path: look up the app, consult the
// rate-limit engine, and either forward inline or enqueue a deferred request
// and hand back a ticket.
type ProxyHandler struct {
	apps    service.AppRepository
	limiter service.RateLimitService
	queue   service.RequestQueue
	client  *http.Client
	metrics *monitoring.Metrics
	logger  logger.Logger
}

// NewProxyHandler builds the proxy handler. queue is this node's stream.
func NewProxyHandler(
	apps service.AppRepository,
	limiter service.RateLimitService,
	queue service.RequestQueue,
	client *http.Client,
	metrics *monitoring.Metrics,
	log logger.Logger,
) *ProxyHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProxyHandler{
		apps:    apps,
		limiter: limiter,
		queue:   queue,
		client:  client,
		metrics: metrics,
		logger:  log.WithComponent("proxy"),
	}
}

// queuedResponse is the 202 body returned for an enqueued request.
type queuedResponse struct {
	Status string     `json:"status"`
	Data   queuedData `json:"data"`
}

type queuedData struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// Handle serves ANY /apis/:appId/*path.
func (h *ProxyHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	appID := c.Param("appId")
	tail := strings.TrimPrefix(c.Param("path"), "/")

	app, err := h.apps.Get(ctx, appID)
	if err != nil {
		renderError(c, err)
		return
	}

	decision, err := h.limiter.Decide(ctx, app.ID, app.RateLimit)
	if err != nil {
		renderError(c, err)
		return
	}

	if decision == service.Admit {
		h.metrics.RecordProxied(app.ID, string(app.RateLimit.Strategy))
		h.forward(c, app, tail)
		return
	}

	h.metrics.RecordEnqueued(app.ID, string(app.RateLimit.Strategy))
	h.enqueue(c, app, tail)
}

// forward proxies the request inline and relays the upstream response:
// status code, headers, and body unchanged in meaning.
func (h *ProxyHandler) forward(c *gin.Context, app *models.App, tail string) {
	upstreamURL := joinURL(app.BaseURL, tail)
	if raw := c.Request.URL.RawQuery; raw != "" {
		upstreamURL += "?" + raw
	}

	var body io.Reader
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		body = c.Request.Body
	}

	// The upstream call inherits the client's deadline: a disconnect
	// abandons the call.
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstreamURL, body)
	if err != nil {
		renderError(c, errors.ErrUpstream("invalid upstream request").WithCause(err))
		return
	}

	for name, values := range c.Request.Header {
		if isHopByHopHeader(name) {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("X-Forwarded-For", appendForwardedFor(c.Request.Header.Get("X-Forwarded-For"), c.ClientIP()))

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error(c.Request.Context(), "upstream call failed", err,
			logger.String("app_id", app.ID),
			logger.String("url", upstreamURL),
		)
		renderError(c, errors.ErrUpstream("upstream request failed"))
		return
	}
	defer resp.Body.Close()
	h.metrics.RecordUpstreamLatency(app.ID, time.Since(start))

	for name, values := range resp.Header {
		if isHopByHopHeader(name) {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Writer.Header().Set("X-RateLimit-Strategy", string(app.RateLimit.Strategy))
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		h.logger.Warn(c.Request.Context(), "relaying upstream body failed",
			logger.String("app_id", app.ID),
			logger.Err(err),
		)
	}
}

// enqueue serialises the request onto this node's stream and returns a
// ticket. Over-limit requests are deferred, never refused with 429.
func (h *ProxyHandler) enqueue(c *gin.Context, app *models.App, tail string) {
	ctx := c.Request.Context()

	var body []byte
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			renderError(c, errors.ErrValidation("failed to read request body").WithCause(err))
			return
		}
		body = b
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	ticketID := uuid.NewString()
	req := &models.DeferredRequest{
		TicketID:   ticketID,
		AppID:      app.ID,
		Method:     c.Request.Method,
		Path:       tail,
		Headers:    headers,
		Body:       body,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	if err := h.queue.Append(ctx, req); err != nil {
		renderError(c, err)
		return
	}

	h.logger.Info(ctx, "request enqueued for deferred execution",
		logger.String("app_id", app.ID),
		logger.String("ticket_id", ticketID),
	)

	c.JSON(http.StatusAccepted, queuedResponse{
		Status: string(constants.OutcomeQueued),
		Data: queuedData{
			RequestID: ticketID,
			Message:   "Request queued for deferred execution. Poll /apis/status/" + ticketID + " for the result.",
		},
	})
}

// joinURL joins an absolute base origin with a relative tail.
func joinURL(base, tail string) string {
	base = strings.TrimSuffix(base, "/")
	if tail == "" {
		return base
	}
	return base + "/" + tail
}

// appendForwardedFor extends an X-Forwarded-For chain with the caller.
func appendForwardedFor(existing, addr string) string {
	if existing == "" {
		return addr
	}
	return existing + ", " + addr
}

// isHopByHopHeader reports whether a header must not be relayed.
func isHopByHopHeader(name string) bool {
	switch strings.ToLower(name) {
	case "connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
		"te", "trailer", "transfer-encoding", "upgrade", "content-length", "host":
		return true
	}
	return false
}

// renderError maps an error to its client-safe JSON body and status code.
func renderError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatusOf(err), errors.ToErrorResponse(err))
}
