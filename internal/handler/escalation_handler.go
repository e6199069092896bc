package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campusiq-api/internal/service"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
	"github.com/noah-isme/campusiq-api/pkg/response"
)

type escalationRunner interface {
	RunEscalations(ctx context.Context) (*service.EscalationResult, error)
}

// EscalationHandler lets operators trigger a sweep out of schedule.
type EscalationHandler struct {
	runner escalationRunner
}

// NewEscalationHandler constructs the handler.
func NewEscalationHandler(runner escalationRunner) *EscalationHandler {
	return &EscalationHandler{runner: runner}
}

// Run godoc
// @Summary Run one escalation sweep now
// @Tags Escalations
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /escalations/run [post]
func (h *EscalationHandler) Run(c *gin.Context) {
	if h.runner == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	result, err := h.runner.RunEscalations(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.LockHeld {
		response.Error(c, appErrors.Clone(appErrors.ErrLockHeld, "another sweep is running"))
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
