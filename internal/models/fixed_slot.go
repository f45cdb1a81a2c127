package models

import (
	"fmt"
	"time"
)

// FixedSlot is a recurring weekly class template.
type FixedSlot struct {
	ID          string    `db:"id" json:"id"`
	ModalityID  string    `db:"modality_id" json:"modality_id"`
	ProfessorID string    `db:"professor_id" json:"professor_id"`
	DayOfWeek   int       `db:"day_of_week" json:"day_of_week"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	Capacity    *int      `db:"capacity" json:"capacity,omitempty"`
	MemberCount int       `db:"member_count" json:"member_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Signature identifies a turma: the same professor teaching the same window.
func (s FixedSlot) Signature() SlotSignature {
	return SlotSignature{ProfessorID: s.ProfessorID, DayOfWeek: s.DayOfWeek, StartTime: s.StartTime, EndTime: s.EndTime}
}

// Active reports whether the slot still has members.
func (s FixedSlot) Active() bool {
	return s.MemberCount > 0
}

// RecursOn reports whether the slot takes place on the given civil date.
func (s FixedSlot) RecursOn(date time.Time) bool {
	return int(date.Weekday()) == s.DayOfWeek
}

// SlotSignature is the (professor, day, start, end) tuple shared by one turma.
type SlotSignature struct {
	ProfessorID string `json:"professor_id" validate:"required"`
	DayOfWeek   int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
}

func (s SlotSignature) String() string {
	return fmt.Sprintf("%s|%d|%s|%s", s.ProfessorID, s.DayOfWeek, s.StartTime, s.EndTime)
}

// SlotMembership enrols a student in a fixed slot.
type SlotMembership struct {
	ID          string    `db:"id" json:"id"`
	FixedSlotID string    `db:"fixed_slot_id" json:"fixed_slot_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
	Note        *string   `db:"note" json:"note,omitempty"`
	TurmaNote   *string   `db:"turma_note" json:"turma_note,omitempty"`
}

// FixedSlotFilter narrows slot listings.
type FixedSlotFilter struct {
	ProfessorID string
	ModalityID  string
	DayOfWeek   *int
	StudentID   string
	ActiveOnly  bool
}

// SlotConflict describes an existing slot that blocks a registry mutation.
type SlotConflict struct {
	FixedSlotID string `json:"fixed_slot_id"`
	ProfessorID string `json:"professor_id"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	StudentID   string `json:"student_id,omitempty"`
	Dimension   string `json:"dimension"`
}

// SlotConflictError is returned when a slot or membership collides with an existing one.
type SlotConflictError struct {
	Type     string       `json:"type"`
	Message  string       `json:"message"`
	Conflict SlotConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// SlotDetail is a slot together with its memberships.
type SlotDetail struct {
	FixedSlot
	Members []SlotMembership `json:"members"`
}
