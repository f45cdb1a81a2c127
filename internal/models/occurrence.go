package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OccurrenceState classifies one dated instance of a fixed slot.
type OccurrenceState string

const (
	OccurrencePending   OccurrenceState = "PENDING"
	OccurrenceRealized  OccurrenceState = "REALIZED"
	OccurrenceCancelled OccurrenceState = "CANCELLED"
	// OccurrenceScheduled is a future date; it is shown but not actionable.
	OccurrenceScheduled OccurrenceState = "SCHEDULED"
)

// OccurrenceKey addresses an occurrence by slot and civil date.
type OccurrenceKey struct {
	FixedSlotID string    `json:"fixed_slot_id"`
	Date        time.Time `json:"date"`
}

// String renders the key used for locks and cache entries.
func (k OccurrenceKey) String() string {
	return k.FixedSlotID + "|" + FormatDate(k.Date)
}

// Occurrence is the derived view of a slot on a date.
type Occurrence struct {
	FixedSlotID string          `json:"fixed_slot_id"`
	Date        time.Time       `json:"date"`
	State       OccurrenceState `json:"state"`
	ModalityID  string          `json:"modality_id"`
	ProfessorID string          `json:"professor_id"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	RecordID    *string         `json:"record_id,omitempty"`
}

// Key returns the occurrence key.
func (o Occurrence) Key() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: o.FixedSlotID, Date: o.Date}
}

// AttendanceRecord is one student's presence inside a realized occurrence.
// Present nil means not yet marked.
type AttendanceRecord struct {
	StudentID     string `json:"student_id" validate:"required"`
	Present       *bool  `json:"present"`
	WasReschedule bool   `json:"was_reschedule"`
}

// NextPresence advances the tri-state marker null -> true -> false -> null.
func NextPresence(current *bool) *bool {
	switch {
	case current == nil:
		v := true
		return &v
	case *current:
		v := false
		return &v
	default:
		return nil
	}
}

// AttendanceList is persisted as a JSONB array.
type AttendanceList []AttendanceRecord

// Totals counts marked presences and absences; unmarked entries count as neither.
func (l AttendanceList) Totals() (present, absent int) {
	for _, r := range l {
		if r.Present == nil {
			continue
		}
		if *r.Present {
			present++
		} else {
			absent++
		}
	}
	return present, absent
}

// Find returns the index of studentID or -1.
func (l AttendanceList) Find(studentID string) int {
	for i, r := range l {
		if r.StudentID == studentID {
			return i
		}
	}
	return -1
}

// Value marshals the list to JSON for persistence.
func (l AttendanceList) Value() (driver.Value, error) {
	if l == nil {
		l = AttendanceList{}
	}
	data, err := json.Marshal([]AttendanceRecord(l))
	if err != nil {
		return nil, fmt.Errorf("marshal attendance: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the list.
func (l *AttendanceList) Scan(value interface{}) error {
	if value == nil {
		*l = AttendanceList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AttendanceList", value)
	}
	if len(data) == 0 {
		*l = AttendanceList{}
		return nil
	}
	var records []AttendanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal attendance: %w", err)
	}
	*l = records
	return nil
}

// OccurrenceRecord is the durable artifact of a realized or cancelled occurrence.
type OccurrenceRecord struct {
	ID            string          `db:"id" json:"id"`
	FixedSlotID   string          `db:"fixed_slot_id" json:"fixed_slot_id"`
	Date          time.Time       `db:"date" json:"date"`
	State         OccurrenceState `db:"state" json:"state"`
	Attendance    AttendanceList  `db:"attendance" json:"attendance"`
	TotalPresent  int             `db:"total_present" json:"total_present"`
	TotalAbsent   int             `db:"total_absent" json:"total_absent"`
	Reason        *string         `db:"reason" json:"reason,omitempty"`
	CreditsIssued int             `db:"credits_issued" json:"credits_issued"`
	RecordedBy    string          `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Key returns the occurrence key of the record.
func (r OccurrenceRecord) Key() OccurrenceKey {
	return OccurrenceKey{FixedSlotID: r.FixedSlotID, Date: r.Date}
}

// Recount refreshes the derived totals from the attendance list.
func (r *OccurrenceRecord) Recount() {
	r.TotalPresent, r.TotalAbsent = r.Attendance.Totals()
}

// OccurrenceSource explains why a student appears on a date.
type OccurrenceSource string

const (
	SourceMembership OccurrenceSource = "MEMBERSHIP"
	SourceReschedule OccurrenceSource = "RESCHEDULE"
	SourceRedemption OccurrenceSource = "REDEMPTION"
)

// StudentOccurrence is one row of a student's own calendar.
type StudentOccurrence struct {
	Occurrence
	StudentID     string            `json:"student_id"`
	Source        OccurrenceSource  `json:"source"`
	WasReschedule bool              `json:"was_reschedule"`
	Present       *bool             `json:"present"`
	AbsenceID     *string           `json:"absence_id,omitempty"`
	AbsenceStatus *AbsenceStatus    `json:"absence_status,omitempty"`
	RescheduleID  *string           `json:"reschedule_id,omitempty"`
	RedemptionID  *string           `json:"redemption_id,omitempty"`
}
