package dto

// ProposeRescheduleRequest moves a student from one occurrence to another.
type ProposeRescheduleRequest struct {
	StudentID         string `json:"student_id"`
	SourceFixedSlotID string `json:"source_fixed_slot_id" binding:"required"`
	SourceDate        string `json:"source_date" binding:"required,datetime=2006-01-02"`
	TargetFixedSlotID string `json:"target_fixed_slot_id" binding:"required"`
	TargetDate        string `json:"target_date" binding:"required,datetime=2006-01-02"`
	Reason            string `json:"reason" binding:"max=500"`
}

// ReviewRescheduleRequest carries the optional reviewer note.
type ReviewRescheduleRequest struct {
	Note *string `json:"note,omitempty" binding:"omitempty,max=500"`
}

// RescheduleQuery filters reschedule listings.
type RescheduleQuery struct {
	StudentID string `form:"studentId"`
	Status    string `form:"status" binding:"omitempty,oneof=PENDING APPROVED REJECTED"`
	From      string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To        string `form:"to" binding:"omitempty,datetime=2006-01-02"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" binding:"omitempty,min=1,max=200"`
}
