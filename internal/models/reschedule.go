package models

import "time"

// RescheduleStatus enumerates the approval states of a reschedule request.
type RescheduleStatus string

const (
	ReschedulePending  RescheduleStatus = "PENDING"
	RescheduleApproved RescheduleStatus = "APPROVED"
	RescheduleRejected RescheduleStatus = "REJECTED"
)

// RescheduleRequest moves one occurrence of a student to another slot/date.
type RescheduleRequest struct {
	ID                string           `db:"id" json:"id"`
	StudentID         string           `db:"student_id" json:"student_id"`
	SourceFixedSlotID string           `db:"source_fixed_slot_id" json:"source_fixed_slot_id"`
	SourceDate        time.Time        `db:"source_date" json:"source_date"`
	TargetFixedSlotID string           `db:"target_fixed_slot_id" json:"target_fixed_slot_id"`
	TargetDate        time.Time        `db:"target_date" json:"target_date"`
	Status            RescheduleStatus `db:"status" json:"status"`
	Reason            string           `db:"reason" json:"reason"`
	ReviewedBy        *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote        *string          `db:"review_note" json:"review_note,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// Source returns the occurrence being moved away from.
func (r RescheduleRequest) Source() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: r.SourceFixedSlotID, Date: r.SourceDate}
}

// Target returns the occurrence gaining the student.
func (r RescheduleRequest) Target() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: r.TargetFixedSlotID, Date: r.TargetDate}
}

// RescheduleFilter narrows request listings.
// From/To bound either the source or the target date.
type RescheduleFilter struct {
	StudentID string
	Statuses  []RescheduleStatus
	Source    *OccurrenceKey
	Target    *OccurrenceKey
	// TargetSlotID matches every target date of one slot.
	TargetSlotID string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}
