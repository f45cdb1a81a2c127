package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-portal-api/internal/dto"
	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/service"
	"github.com/noah-isme/studio-portal-api/pkg/response"
)

type rescheduleService interface {
	Propose(ctx context.Context, actor service.Actor, req service.ProposeRescheduleRequest) (*models.RescheduleRequest, error)
	Approve(ctx context.Context, actor service.Actor, id string, note *string) (*models.RescheduleRequest, error)
	Reject(ctx context.Context, actor service.Actor, id string, note *string) (*models.RescheduleRequest, error)
	List(ctx context.Context, actor service.Actor, filter models.RescheduleFilter) ([]models.RescheduleRequest, error)
	Get(ctx context.Context, actor service.Actor, id string) (*models.RescheduleRequest, error)
}

// RescheduleHandler exposes the reschedule request workflow.
type RescheduleHandler struct {
	service rescheduleService
}

// NewRescheduleHandler builds the handler.
func NewRescheduleHandler(svc rescheduleService) *RescheduleHandler {
	return &RescheduleHandler{service: svc}
}

// Propose godoc
// @Summary Request a one-off move to another occurrence
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param payload body dto.ProposeRescheduleRequest true "Reschedule proposal"
// @Success 201 {object} response.Envelope
// @Router /reschedules [post]
func (h *RescheduleHandler) Propose(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ProposeRescheduleRequest
	if !bindJSON(c, &req, "invalid reschedule proposal") {
		return
	}
	source, err := models.ParseDate(req.SourceDate)
	if err != nil {
		invalidDate(c, err)
		return
	}
	target, err := models.ParseDate(req.TargetDate)
	if err != nil {
		invalidDate(c, err)
		return
	}
	created, err := h.service.Propose(c.Request.Context(), actor, service.ProposeRescheduleRequest{
		StudentID:         studentScope(actor, req.StudentID),
		SourceFixedSlotID: req.SourceFixedSlotID,
		SourceDate:        source,
		TargetFixedSlotID: req.TargetFixedSlotID,
		TargetDate:        target,
		Reason:            req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List reschedule requests
// @Tags Reschedules
// @Produce json
// @Param studentId query string false "Student ID (staff only)"
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reschedules [get]
func (h *RescheduleHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var q dto.RescheduleQuery
	if !bindQuery(c, &q, "invalid reschedule filter") {
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 50
	}
	filter := models.RescheduleFilter{
		StudentID: q.StudentID,
		From:      optionalDate(q.From),
		To:        optionalDate(q.To),
		Limit:     q.PageSize,
		Offset:    (q.Page - 1) * q.PageSize,
	}
	if q.Status != "" {
		filter.Statuses = []models.RescheduleStatus{models.RescheduleStatus(q.Status)}
	}
	items, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &models.Pagination{Page: q.Page, PageSize: q.PageSize, TotalCount: len(items)})
}

// Get godoc
// @Summary Get a reschedule request
// @Tags Reschedules
// @Produce json
// @Param id path string true "Reschedule request ID"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id} [get]
func (h *RescheduleHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Approve godoc
// @Summary Approve a pending reschedule request
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Reschedule request ID"
// @Param payload body dto.ReviewRescheduleRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id}/approve [post]
func (h *RescheduleHandler) Approve(c *gin.Context) {
	h.review(c, h.service.Approve)
}

// Reject godoc
// @Summary Reject a pending reschedule request
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Reschedule request ID"
// @Param payload body dto.ReviewRescheduleRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id}/reject [post]
func (h *RescheduleHandler) Reject(c *gin.Context) {
	h.review(c, h.service.Reject)
}

type reviewFunc func(ctx context.Context, actor service.Actor, id string, note *string) (*models.RescheduleRequest, error)

func (h *RescheduleHandler) review(c *gin.Context, fn reviewFunc) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ReviewRescheduleRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "invalid review payload") {
		return
	}
	item, err := fn(c.Request.Context(), actor, c.Param("id"), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
