package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-portal-api/internal/dto"
	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/service"
	"github.com/noah-isme/studio-portal-api/pkg/response"
)

type absenceService interface {
	FileAbsenceNotice(ctx context.Context, actor service.Actor, studentID string, key models.OccurrenceKey, reason string) (*models.AbsenceNotice, error)
	ConfirmDue(ctx context.Context) (int, error)
	CancelNotice(ctx context.Context, actor service.Actor, id string) (*models.AbsenceNotice, error)
	List(ctx context.Context, actor service.Actor, filter models.AbsenceFilter) ([]models.AbsenceNotice, error)
}

type creditService interface {
	RedeemCredit(ctx context.Context, actor service.Actor, creditID string, target models.OccurrenceKey) (*models.CreditRedemption, error)
	UndoRedemption(ctx context.Context, actor service.Actor, redemptionID string) error
	GrantCredit(ctx context.Context, actor service.Actor, req service.GrantCreditRequest) (*models.Credit, error)
	ListStudentCredits(ctx context.Context, actor service.Actor, studentID string, onlyRedeemable bool) ([]models.Credit, error)
}

// LedgerHandler exposes absence notices and the makeup credit ledger.
type LedgerHandler struct {
	absences absenceService
	credits  creditService
}

// NewLedgerHandler builds the handler.
func NewLedgerHandler(absences absenceService, credits creditService) *LedgerHandler {
	return &LedgerHandler{absences: absences, credits: credits}
}

// FileAbsence godoc
// @Summary File an advance absence notice
// @Tags Absences
// @Accept json
// @Produce json
// @Param payload body dto.FileAbsenceRequest true "Absence notice"
// @Success 201 {object} response.Envelope
// @Router /absences [post]
func (h *LedgerHandler) FileAbsence(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.FileAbsenceRequest
	if !bindJSON(c, &req, "invalid absence notice") {
		return
	}
	key, err := req.Key()
	if err != nil {
		invalidDate(c, err)
		return
	}
	notice, err := h.absences.FileAbsenceNotice(c.Request.Context(), actor, studentScope(actor, req.StudentID), key, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, notice)
}

// ListAbsences godoc
// @Summary List absence notices
// @Tags Absences
// @Produce json
// @Param studentId query string false "Student ID (staff only)"
// @Param fixedSlotId query string false "Fixed slot ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param status query string false "PENDING, CONFIRMED, CANCELLED or USED"
// @Success 200 {object} response.Envelope
// @Router /absences [get]
func (h *LedgerHandler) ListAbsences(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var q dto.AbsenceQuery
	if !bindQuery(c, &q, "invalid absence filter") {
		return
	}
	filter := models.AbsenceFilter{
		StudentID:   q.StudentID,
		FixedSlotID: q.FixedSlotID,
		From:        optionalDate(q.From),
		To:          optionalDate(q.To),
	}
	if q.Status != "" {
		filter.Statuses = []models.AbsenceStatus{models.AbsenceStatus(q.Status)}
	}
	notices, err := h.absences.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notices, nil)
}

// CancelAbsence godoc
// @Summary Withdraw a pending absence notice
// @Tags Absences
// @Produce json
// @Param id path string true "Absence notice ID"
// @Success 200 {object} response.Envelope
// @Router /absences/{id}/cancel [post]
func (h *LedgerHandler) CancelAbsence(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	notice, err := h.absences.CancelNotice(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notice, nil)
}

// ConfirmDue godoc
// @Summary Confirm notices whose occurrence has started and issue their credits
// @Tags Absences
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /absences/confirm-due [post]
func (h *LedgerHandler) ConfirmDue(c *gin.Context) {
	n, err := h.absences.ConfirmDue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ConfirmDueResponse{Confirmed: n}, nil)
}

// GrantCredit godoc
// @Summary Grant a manual makeup credit
// @Tags Credits
// @Accept json
// @Produce json
// @Param payload body dto.GrantCreditRequest true "Credit grant"
// @Success 201 {object} response.Envelope
// @Router /credits [post]
func (h *LedgerHandler) GrantCredit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.GrantCreditRequest
	if !bindJSON(c, &req, "invalid credit grant") {
		return
	}
	grant := service.GrantCreditRequest{
		StudentID:  req.StudentID,
		Quantity:   req.Quantity,
		Reason:     req.Reason,
		ModalityID: req.ModalityID,
	}
	if req.ValidUntil != nil {
		grant.ValidUntil = optionalDate(*req.ValidUntil)
	}
	credit, err := h.credits.GrantCredit(c.Request.Context(), actor, grant)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, credit)
}

// RedeemCredit godoc
// @Summary Redeem a credit for a makeup seat
// @Tags Credits
// @Accept json
// @Produce json
// @Param id path string true "Credit ID"
// @Param payload body dto.RedeemCreditRequest true "Target occurrence"
// @Success 201 {object} response.Envelope
// @Router /credits/{id}/redeem [post]
func (h *LedgerHandler) RedeemCredit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RedeemCreditRequest
	if !bindJSON(c, &req, "invalid redemption target") {
		return
	}
	key, err := req.Key()
	if err != nil {
		invalidDate(c, err)
		return
	}
	red, err := h.credits.RedeemCredit(c.Request.Context(), actor, c.Param("id"), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, red)
}

// UndoRedemption godoc
// @Summary Release a makeup seat and restore the credit
// @Tags Credits
// @Param id path string true "Redemption ID"
// @Success 204
// @Router /redemptions/{id} [delete]
func (h *LedgerHandler) UndoRedemption(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.credits.UndoRedemption(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// StudentCredits godoc
// @Summary List a student's credits and redemptions
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Param redeemable query bool false "Only credits that can still be redeemed"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/credits [get]
func (h *LedgerHandler) StudentCredits(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	onlyRedeemable, _ := strconv.ParseBool(c.Query("redeemable"))
	studentID := c.Param("studentId")
	credits, err := h.credits.ListStudentCredits(c.Request.Context(), actor, studentID, onlyRedeemable)
	if err != nil {
		response.Error(c, err)
		return
	}
	if credits == nil {
		credits = []models.Credit{}
	}
	resp := dto.CreditListResponse{StudentID: studentID, Credits: credits}
	for _, credit := range credits {
		if credit.Remaining() > 0 {
			resp.Remaining += credit.Remaining()
		}
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
