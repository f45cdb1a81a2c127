package dto

import (
	"time"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

// DateRangeQuery binds an inclusive from/to civil date range.
type DateRangeQuery struct {
	From string `form:"from" binding:"required,datetime=2006-01-02"`
	To   string `form:"to" binding:"required,datetime=2006-01-02"`
}

// Range parses both ends of the query.
func (q DateRangeQuery) Range() (from, to time.Time, err error) {
	params := models.ReportJobParams{From: q.From, To: q.To}
	return params.Range()
}

// OccurrenceKeyRequest addresses one occurrence of a fixed slot.
type OccurrenceKeyRequest struct {
	FixedSlotID string `json:"fixed_slot_id" binding:"required"`
	Date        string `json:"date" binding:"required,datetime=2006-01-02"`
}

// Key converts the payload into an occurrence key.
func (r OccurrenceKeyRequest) Key() (models.OccurrenceKey, error) {
	d, err := models.ParseDate(r.Date)
	if err != nil {
		return models.OccurrenceKey{}, err
	}
	return models.OccurrenceKey{FixedSlotID: r.FixedSlotID, Date: d}, nil
}

// FinalizeOccurrenceRequest realizes an occurrence with its attendance list.
type FinalizeOccurrenceRequest struct {
	OccurrenceKeyRequest
	Records []models.AttendanceRecord `json:"records" binding:"dive"`
}

// MarkAttendanceRequest flags a single student present.
type MarkAttendanceRequest struct {
	OccurrenceKeyRequest
	StudentID string `json:"student_id" binding:"required"`
}

// CancelOccurrenceRequest cancels an occurrence and compensates its members.
type CancelOccurrenceRequest struct {
	OccurrenceKeyRequest
	Reason string `json:"reason" binding:"required,max=500"`
}

// PendingBacklogResponse lists pending occurrences in a range.
type PendingBacklogResponse struct {
	From        string              `json:"from"`
	To          string              `json:"to"`
	Total       int                 `json:"total"`
	Occurrences []models.Occurrence `json:"occurrences"`
}

// ConfirmDueResponse reports how many notices were confirmed.
type ConfirmDueResponse struct {
	Confirmed int `json:"confirmed"`
}
