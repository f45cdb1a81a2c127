package dto

import "github.com/noah-isme/studio-portal-api/internal/models"

// FileAbsenceRequest files an advance absence notice. Students may omit
// student_id to file for themselves.
type FileAbsenceRequest struct {
	OccurrenceKeyRequest
	StudentID string `json:"student_id"`
	Reason    string `json:"reason" binding:"max=500"`
}

// AbsenceQuery filters absence listings.
type AbsenceQuery struct {
	StudentID   string `form:"studentId"`
	FixedSlotID string `form:"fixedSlotId"`
	From        string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To          string `form:"to" binding:"omitempty,datetime=2006-01-02"`
	Status      string `form:"status" binding:"omitempty,oneof=PENDING CONFIRMED CANCELLED USED"`
}

// GrantCreditRequest issues a manual makeup credit.
type GrantCreditRequest struct {
	StudentID  string  `json:"student_id" binding:"required"`
	Quantity   int     `json:"quantity" binding:"required,min=1,max=50"`
	Reason     string  `json:"reason" binding:"required,max=500"`
	ValidUntil *string `json:"valid_until,omitempty" binding:"omitempty,datetime=2006-01-02"`
	ModalityID *string `json:"modality_id,omitempty"`
}

// RedeemCreditRequest books a makeup seat with a credit.
type RedeemCreditRequest struct {
	OccurrenceKeyRequest
}

// CreditListResponse wraps a student's credits with their unused quantity.
type CreditListResponse struct {
	StudentID string          `json:"student_id"`
	Remaining int             `json:"remaining"`
	Credits   []models.Credit `json:"credits"`
}
