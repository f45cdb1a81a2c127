package models

import "time"

// AbsenceStatus tracks an advance absence notice.
type AbsenceStatus string

const (
	AbsencePending   AbsenceStatus = "PENDING"
	AbsenceConfirmed AbsenceStatus = "CONFIRMED"
	AbsenceCancelled AbsenceStatus = "CANCELLED"
	AbsenceUsed      AbsenceStatus = "USED"
)

// Open reports whether the notice still resolves its occurrence.
func (s AbsenceStatus) Open() bool {
	return s != AbsenceCancelled
}

// AbsenceNotice is filed by a student ahead of an occurrence.
type AbsenceNotice struct {
	ID                string        `db:"id" json:"id"`
	StudentID         string        `db:"student_id" json:"student_id"`
	FixedSlotID       string        `db:"fixed_slot_id" json:"fixed_slot_id"`
	Date              time.Time     `db:"date" json:"date"`
	Reason            string        `db:"reason" json:"reason"`
	Status            AbsenceStatus `db:"status" json:"status"`
	EligibleForCredit bool          `db:"eligible_for_credit" json:"eligible_for_credit"`
	LeadMinutes       int           `db:"lead_minutes" json:"lead_minutes"`
	CreditID          *string       `db:"credit_id" json:"credit_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Key returns the occurrence the notice refers to.
func (n AbsenceNotice) Key() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: n.FixedSlotID, Date: n.Date}
}

// AbsenceFilter narrows notice listings.
type AbsenceFilter struct {
	StudentID   string
	FixedSlotID string
	From        *time.Time
	To          *time.Time
	Statuses    []AbsenceStatus
}
