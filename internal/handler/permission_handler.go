package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/service"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
	"github.com/noah-isme/campusiq-api/pkg/response"
)

type workflowService interface {
	Create(ctx context.Context, studentID string, payload dto.CreatePermissionRequest) (*models.PermissionRequest, error)
	Forward(ctx context.Context, actorID string, id int64, payload dto.ForwardRequest) (*models.PermissionRequest, error)
	Reassign(ctx context.Context, actorID string, id int64, payload dto.ReassignRequest) (*models.PermissionRequest, error)
	Approve(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error)
	Reject(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error)
	BulkForward(ctx context.Context, actorID string, payload dto.BulkForwardRequest) (*dto.BulkForwardResult, error)
	Delete(ctx context.Context, actorID string, id int64) error
	Track(ctx context.Context, actorID string, id int64) (*dto.TrackResponse, error)
	ForwardOptions(ctx context.Context, actorID string, id int64, role string) (*dto.ForwardOptionsResponse, error)
	RecipientOptions(ctx context.Context, actorID string) (*dto.RecipientOptionsResponse, error)
	ListSubmitted(ctx context.Context, actorID string) ([]models.PermissionRequest, error)
	ListReceived(ctx context.Context, actorID string) ([]models.PermissionRequest, error)
}

type trackExporter interface {
	ExportTrack(ctx context.Context, actorID string, id int64, format string) (*service.ExportResult, error)
}

// PermissionHandler exposes the request workflow over HTTP.
type PermissionHandler struct {
	workflow workflowService
	exporter trackExporter
}

// NewPermissionHandler constructs the handler.
func NewPermissionHandler(workflow workflowService, exporter trackExporter) *PermissionHandler {
	return &PermissionHandler{workflow: workflow, exporter: exporter}
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// callerAndID resolves the caller and the :id parameter, writing the error response itself.
func callerAndID(c *gin.Context) (string, int64, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", 0, false
	}
	id, err := requestID(c)
	if err != nil {
		response.Error(c, err)
		return "", 0, false
	}
	return claims.UserID, id, true
}

// Create godoc
// @Summary Submit a permission request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreatePermissionRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *PermissionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.CreatePermissionRequest
	if !bindJSON(c, &payload, "invalid request payload") {
		return
	}
	req, err := h.workflow.Create(c.Request.Context(), claims.UserID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// Submitted godoc
// @Summary List requests the caller submitted
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/submitted [get]
func (h *PermissionHandler) Submitted(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	list, err := h.workflow.ListSubmitted(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, &response.Pagination{Page: 1, PageSize: len(list), TotalCount: len(list)})
}

// Received godoc
// @Summary List requests assigned to the caller
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/received [get]
func (h *PermissionHandler) Received(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	list, err := h.workflow.ListReceived(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, &response.Pagination{Page: 1, PageSize: len(list), TotalCount: len(list)})
}

// Recipients godoc
// @Summary Users a new request can be addressed to
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/recipients [get]
func (h *PermissionHandler) Recipients(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	opts, err := h.workflow.RecipientOptions(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, opts, nil)
}

// ForwardOptions godoc
// @Summary Roles and users the assignee may forward to
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Param role query string false "Selected role"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/{id}/forward-options [get]
func (h *PermissionHandler) ForwardOptions(c *gin.Context) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	opts, err := h.workflow.ForwardOptions(c.Request.Context(), actorID, id, c.Query("role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, opts, nil)
}

// Forward godoc
// @Summary Forward a request to a next-level role
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.ForwardRequest true "Forward payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/{id}/forward [post]
func (h *PermissionHandler) Forward(c *gin.Context) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	var payload dto.ForwardRequest
	if !bindJSON(c, &payload, "invalid forward payload") {
		return
	}
	req, err := h.workflow.Forward(c.Request.Context(), actorID, id, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Reassign godoc
// @Summary Reassign a pending request within the department
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.ReassignRequest true "Reassign payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/reassign [post]
func (h *PermissionHandler) Reassign(c *gin.Context) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	var payload dto.ReassignRequest
	if !bindJSON(c, &payload, "invalid reassign payload") {
		return
	}
	req, err := h.workflow.Reassign(c.Request.Context(), actorID, id, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Approve godoc
// @Summary Approve a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.DecisionRequest false "Optional remark"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *PermissionHandler) Approve(c *gin.Context) {
	h.decide(c, h.workflow.Approve)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.DecisionRequest false "Optional remark"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *PermissionHandler) Reject(c *gin.Context) {
	h.decide(c, h.workflow.Reject)
}

type decisionFunc func(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error)

func (h *PermissionHandler) decide(c *gin.Context, fn decisionFunc) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	var payload dto.DecisionRequest
	// The remark is optional; an empty body is a decision without note.
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &payload, "invalid decision payload") {
			return
		}
	}
	req, err := fn(c.Request.Context(), actorID, id, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// BulkForward godoc
// @Summary Forward several requests at once
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.BulkForwardRequest true "Bulk forward payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/bulk-forward [post]
func (h *PermissionHandler) BulkForward(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload dto.BulkForwardRequest
	if !bindJSON(c, &payload, "invalid bulk forward payload") {
		return
	}
	result, err := h.workflow.BulkForward(c.Request.Context(), claims.UserID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Withdraw a pending request
// @Tags Requests
// @Param id path int true "Request ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *PermissionHandler) Delete(c *gin.Context) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	if err := h.workflow.Delete(c.Request.Context(), actorID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Track godoc
// @Summary Audit trail of a request
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /requests/{id}/track [get]
func (h *PermissionHandler) Track(c *gin.Context) {
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	track, err := h.workflow.Track(c.Request.Context(), actorID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, track, nil)
}

// ExportTrack godoc
// @Summary Download the audit trail
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Request ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/track/export [get]
func (h *PermissionHandler) ExportTrack(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actorID, id, ok := callerAndID(c)
	if !ok {
		return
	}
	result, err := h.exporter.ExportTrack(c.Request.Context(), actorID, id, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Data)
}
