package models

import "time"

// CreditSource records which event issued a credit.
type CreditSource string

const (
	CreditSourceAbsence      CreditSource = "ABSENCE"
	CreditSourceCancellation CreditSource = "CANCELLATION"
	CreditSourceManual       CreditSource = "MANUAL"
)

// Credit is a makeup (reposição) entitlement.
type Credit struct {
	ID                 string       `db:"id" json:"id"`
	StudentID          string       `db:"student_id" json:"student_id"`
	Quantity           int          `db:"quantity" json:"quantity"`
	QuantityUsed       int          `db:"quantity_used" json:"quantity_used"`
	Reason             string       `db:"reason" json:"reason"`
	ValidUntil         time.Time    `db:"valid_until" json:"valid_until"`
	Source             CreditSource `db:"source" json:"source"`
	SourceOccurrenceID *string      `db:"source_occurrence_id" json:"source_occurrence_id,omitempty"`
	SourceAbsenceID    *string      `db:"source_absence_id" json:"source_absence_id,omitempty"`
	ModalityID         *string      `db:"modality_id" json:"modality_id,omitempty"`
	CreatedBy          string       `db:"created_by" json:"created_by"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`

	Redemptions []CreditRedemption `db:"-" json:"redemptions,omitempty"`
}

// Remaining returns unused quantity.
func (c Credit) Remaining() int {
	return c.Quantity - c.QuantityUsed
}

// ExpiredOn reports whether the credit can no longer be redeemed on today.
func (c Credit) ExpiredOn(today time.Time) bool {
	return NormalizeDate(c.ValidUntil).Before(NormalizeDate(today))
}

// CreditRedemption books a credit into a target occurrence.
type CreditRedemption struct {
	ID          string    `db:"id" json:"id"`
	CreditID    string    `db:"credit_id" json:"credit_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	FixedSlotID string    `db:"fixed_slot_id" json:"fixed_slot_id"`
	Date        time.Time `db:"date" json:"date"`
	UsedAt      time.Time `db:"used_at" json:"used_at"`
}

// Key returns the target occurrence.
func (r CreditRedemption) Key() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: r.FixedSlotID, Date: r.Date}
}

// CreditFilter narrows ledger listings.
type CreditFilter struct {
	StudentID          string
	Source             CreditSource
	SourceOccurrenceID string
	OnlyRedeemable     bool
	Today              time.Time
}

// RedemptionFilter narrows redemption listings.
type RedemptionFilter struct {
	CreditID    string
	StudentID   string
	FixedSlotID string
	Date        *time.Time
	From        *time.Time
	To          *time.Time
}
