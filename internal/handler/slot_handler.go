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

type slotService interface {
	List(ctx context.Context, filter models.FixedSlotFilter) ([]models.FixedSlot, error)
	Get(ctx context.Context, id string) (*models.SlotDetail, error)
	CreateSlot(ctx context.Context, req service.CreateSlotRequest) (*models.FixedSlot, error)
	BulkCreateSlot(ctx context.Context, req service.BulkCreateSlotRequest) (*service.BulkCreateSlotResult, error)
	AddMember(ctx context.Context, slotID, studentID string, note *string) (*models.SlotMembership, error)
	RemoveMember(ctx context.Context, slotID, studentID string) error
	UpdateTurmaNote(ctx context.Context, slotID string, note *string) (int64, error)
	UpdateMemberNote(ctx context.Context, slotID, studentID string, note *string) error
	DeleteSlotGroup(ctx context.Context, sig models.SlotSignature) (int64, error)
}

// SlotHandler exposes the weekly fixed slot registry.
type SlotHandler struct {
	service slotService
}

// NewSlotHandler builds the handler.
func NewSlotHandler(svc slotService) *SlotHandler {
	return &SlotHandler{service: svc}
}

// List godoc
// @Summary List fixed slots
// @Tags Slots
// @Produce json
// @Param professorId query string false "Professor ID"
// @Param modalityId query string false "Modality ID"
// @Param dayOfWeek query int false "Weekday, 0 is Sunday"
// @Param studentId query string false "Only slots with this member"
// @Param all query bool false "Include inactive slots"
// @Success 200 {object} response.Envelope
// @Router /slots [get]
func (h *SlotHandler) List(c *gin.Context) {
	var q dto.SlotQuery
	if !bindQuery(c, &q, "invalid slot filter") {
		return
	}
	slots, err := h.service.List(c.Request.Context(), models.FixedSlotFilter{
		ProfessorID: q.ProfessorID,
		ModalityID:  q.ModalityID,
		DayOfWeek:   q.DayOfWeek,
		StudentID:   q.StudentID,
		ActiveOnly:  !q.All,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Get godoc
// @Summary Get a fixed slot with its members
// @Tags Slots
// @Produce json
// @Param id path string true "Fixed slot ID"
// @Success 200 {object} response.Envelope
// @Router /slots/{id} [get]
func (h *SlotHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create a fixed slot with its members
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body service.CreateSlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Router /slots [post]
func (h *SlotHandler) Create(c *gin.Context) {
	var req service.CreateSlotRequest
	if !bindJSON(c, &req, "invalid slot payload") {
		return
	}
	slot, err := h.service.CreateSlot(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// BulkCreate godoc
// @Summary Create a fixed slot from free-text student names
// @Description Returns 200 with pending match decisions until every ambiguous name is decided, then 201 with the slot.
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body service.BulkCreateSlotRequest true "Bulk slot payload"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /slots/bulk [post]
func (h *SlotHandler) BulkCreate(c *gin.Context) {
	var req service.BulkCreateSlotRequest
	if !bindJSON(c, &req, "invalid bulk slot payload") {
		return
	}
	result, err := h.service.BulkCreateSlot(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Slot == nil {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// AddMember godoc
// @Summary Enroll a student in a slot
// @Tags Slots
// @Accept json
// @Produce json
// @Param id path string true "Fixed slot ID"
// @Param payload body dto.AddMemberRequest true "Member payload"
// @Success 201 {object} response.Envelope
// @Router /slots/{id}/members [post]
func (h *SlotHandler) AddMember(c *gin.Context) {
	var req dto.AddMemberRequest
	if !bindJSON(c, &req, "invalid member payload") {
		return
	}
	member, err := h.service.AddMember(c.Request.Context(), c.Param("id"), req.StudentID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, member)
}

// RemoveMember godoc
// @Summary Remove a student from a slot
// @Tags Slots
// @Param id path string true "Fixed slot ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /slots/{id}/members/{studentId} [delete]
func (h *SlotHandler) RemoveMember(c *gin.Context) {
	if err := h.service.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateTurmaNote godoc
// @Summary Set the shared note of a slot group
// @Tags Slots
// @Accept json
// @Produce json
// @Param id path string true "Fixed slot ID"
// @Param payload body dto.NoteRequest true "Note"
// @Success 200 {object} response.Envelope
// @Router /slots/{id}/note [patch]
func (h *SlotHandler) UpdateTurmaNote(c *gin.Context) {
	var req dto.NoteRequest
	if !bindJSON(c, &req, "invalid note") {
		return
	}
	n, err := h.service.UpdateTurmaNote(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AffectedResponse{Affected: n}, nil)
}

// UpdateMemberNote godoc
// @Summary Set the note of one slot member
// @Tags Slots
// @Accept json
// @Param id path string true "Fixed slot ID"
// @Param studentId path string true "Student ID"
// @Param payload body dto.NoteRequest true "Note"
// @Success 204
// @Router /slots/{id}/members/{studentId}/note [patch]
func (h *SlotHandler) UpdateMemberNote(c *gin.Context) {
	var req dto.NoteRequest
	if !bindJSON(c, &req, "invalid note") {
		return
	}
	if err := h.service.UpdateMemberNote(c.Request.Context(), c.Param("id"), c.Param("studentId"), req.Note); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DeleteGroup godoc
// @Summary Remove every membership of a slot group
// @Tags Slots
// @Produce json
// @Param professorId query string true "Professor ID"
// @Param dayOfWeek query int true "Weekday, 0 is Sunday"
// @Param startTime query string true "Start time HH:MM"
// @Param endTime query string true "End time HH:MM"
// @Success 200 {object} response.Envelope
// @Router /slots/group [delete]
func (h *SlotHandler) DeleteGroup(c *gin.Context) {
	var q dto.SlotSignatureQuery
	if !bindQuery(c, &q, "invalid slot signature") {
		return
	}
	n, err := h.service.DeleteSlotGroup(c.Request.Context(), models.SlotSignature{
		ProfessorID: q.ProfessorID,
		DayOfWeek:   *q.DayOfWeek,
		StartTime:   q.StartTime,
		EndTime:     q.EndTime,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AffectedResponse{Affected: n}, nil)
}
