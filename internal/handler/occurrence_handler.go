package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-portal-api/internal/dto"
	"github.com/noah-isme/studio-portal-api/internal/middleware"
	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/service"
	"github.com/noah-isme/studio-portal-api/pkg/response"
)

type occurrenceResolver interface {
	ResolvePendingCached(ctx context.Context, from, to time.Time) ([]models.Occurrence, bool, error)
	ListStudentOccurrences(ctx context.Context, studentID string, from, to time.Time) ([]models.StudentOccurrence, error)
}

type attendanceService interface {
	Get(ctx context.Context, id string) (*models.OccurrenceRecord, error)
	FinalizeOccurrence(ctx context.Context, actor service.Actor, key models.OccurrenceKey, records []models.AttendanceRecord) (*models.OccurrenceRecord, error)
	MarkAttendance(ctx context.Context, actor service.Actor, key models.OccurrenceKey, studentID string) (*models.OccurrenceRecord, error)
	Revert(ctx context.Context, occurrenceID string) error
}

type cancellationService interface {
	CancelOccurrence(ctx context.Context, actor service.Actor, key models.OccurrenceKey, reason string) (*models.OccurrenceRecord, error)
	UndoCancellation(ctx context.Context, occurrenceID string) error
}

// OccurrenceHandler exposes the derived occurrence view and its resolutions.
type OccurrenceHandler struct {
	resolver   occurrenceResolver
	attendance attendanceService
	cancels    cancellationService
}

// NewOccurrenceHandler builds the handler.
func NewOccurrenceHandler(resolver occurrenceResolver, attendance attendanceService, cancels cancellationService) *OccurrenceHandler {
	return &OccurrenceHandler{resolver: resolver, attendance: attendance, cancels: cancels}
}

// Pending godoc
// @Summary List pending occurrences awaiting attendance or cancellation
// @Tags Occurrences
// @Produce json
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /occurrences/pending [get]
func (h *OccurrenceHandler) Pending(c *gin.Context) {
	var q dto.DateRangeQuery
	if !bindQuery(c, &q, "invalid date range") {
		return
	}
	from, to, err := q.Range()
	if err != nil {
		invalidDate(c, err)
		return
	}
	pending, hit, err := h.resolver.ResolvePendingCached(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	if pending == nil {
		pending = []models.Occurrence{}
	}
	response.JSON(c, http.StatusOK, dto.PendingBacklogResponse{
		From:        q.From,
		To:          q.To,
		Total:       len(pending),
		Occurrences: pending,
	}, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a resolved occurrence record
// @Tags Occurrences
// @Produce json
// @Param id path string true "Occurrence record ID"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id} [get]
func (h *OccurrenceHandler) Get(c *gin.Context) {
	rec, err := h.attendance.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Finalize godoc
// @Summary Realize an occurrence with its attendance list
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param payload body dto.FinalizeOccurrenceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Router /occurrences/finalize [post]
func (h *OccurrenceHandler) Finalize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.FinalizeOccurrenceRequest
	if !bindJSON(c, &req, "invalid attendance payload") {
		return
	}
	key, err := req.Key()
	if err != nil {
		invalidDate(c, err)
		return
	}
	rec, err := h.attendance.FinalizeOccurrence(c.Request.Context(), actor, key, req.Records)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// Mark godoc
// @Summary Mark one student present
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param payload body dto.MarkAttendanceRequest true "Attendance mark"
// @Success 200 {object} response.Envelope
// @Router /occurrences/attendance [post]
func (h *OccurrenceHandler) Mark(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.MarkAttendanceRequest
	if !bindJSON(c, &req, "invalid attendance mark") {
		return
	}
	key, err := req.Key()
	if err != nil {
		invalidDate(c, err)
		return
	}
	rec, err := h.attendance.MarkAttendance(c.Request.Context(), actor, key, req.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Revert godoc
// @Summary Revert a realized occurrence back to pending
// @Tags Occurrences
// @Param id path string true "Occurrence record ID"
// @Success 204
// @Router /occurrences/{id}/revert [post]
func (h *OccurrenceHandler) Revert(c *gin.Context) {
	if err := h.attendance.Revert(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Cancel godoc
// @Summary Cancel an occurrence and issue compensation credits
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param payload body dto.CancelOccurrenceRequest true "Cancellation payload"
// @Success 201 {object} response.Envelope
// @Router /occurrences/cancel [post]
func (h *OccurrenceHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CancelOccurrenceRequest
	if !bindJSON(c, &req, "invalid cancellation payload") {
		return
	}
	key, err := req.Key()
	if err != nil {
		invalidDate(c, err)
		return
	}
	rec, err := h.cancels.CancelOccurrence(c.Request.Context(), actor, key, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// UndoCancel godoc
// @Summary Undo a cancellation and withdraw unused credits
// @Tags Occurrences
// @Param id path string true "Occurrence record ID"
// @Success 204
// @Router /occurrences/{id}/undo-cancel [post]
func (h *OccurrenceHandler) UndoCancel(c *gin.Context) {
	if err := h.cancels.UndoCancellation(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// StudentOccurrences godoc
// @Summary List a student's occurrences with their participation
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Param from query string true "Start date (YYYY-MM-DD)"
// @Param to query string true "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/occurrences [get]
func (h *OccurrenceHandler) StudentOccurrences(c *gin.Context) {
	var q dto.DateRangeQuery
	if !bindQuery(c, &q, "invalid date range") {
		return
	}
	from, to, err := q.Range()
	if err != nil {
		invalidDate(c, err)
		return
	}
	items, err := h.resolver.ListStudentOccurrences(c.Request.Context(), c.Param("studentId"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
