package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Largonarco/RateX/internal/domain/service"
	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/logger"
)

// StatusHandler serves the recorded outcome for a deferred-request ticket.
// It never mutates: absence of the record reads as pending.
type StatusHandler struct {
	outcomes service.OutcomeStore
	logger   logger.Logger
}

// NewStatusHandler builds the status handler.
func NewStatusHandler(outcomes service.OutcomeStore, log logger.Logger) *StatusHandler {
	return &StatusHandler{outcomes: outcomes, logger: log.WithComponent("status")}
}

// Handle serves GET /apis/status/:ticketId.
func (h *StatusHandler) Handle(c *gin.Context) {
	ticketID := c.Param("ticketId")

	outcome, err := h.outcomes.Get(c.Request.Context(), ticketID)
	if err != nil {
		renderError(c, err)
		return
	}
	if outcome == nil {
		c.JSON(http.StatusOK, gin.H{"status": constants.OutcomePending})
		return
	}

	// The stored outcome is returned verbatim; once written it stays the
	// same until TTL expiry.
	c.JSON(http.StatusOK, outcome)
}
