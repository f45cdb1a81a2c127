package dto

// SlotQuery filters the slot registry listing.
type SlotQuery struct {
	ProfessorID string `form:"professorId"`
	ModalityID  string `form:"modalityId"`
	DayOfWeek   *int   `form:"dayOfWeek" binding:"omitempty,min=0,max=6"`
	StudentID   string `form:"studentId"`
	All         bool   `form:"all"`
}

// SlotSignatureQuery identifies every slot sharing professor, weekday and times.
type SlotSignatureQuery struct {
	ProfessorID string `form:"professorId" binding:"required"`
	DayOfWeek   *int   `form:"dayOfWeek" binding:"required,min=0,max=6"`
	StartTime   string `form:"startTime" binding:"required,len=5"`
	EndTime     string `form:"endTime" binding:"required,len=5"`
}

// AddMemberRequest enrolls a student in a slot.
type AddMemberRequest struct {
	StudentID string  `json:"student_id" binding:"required"`
	Note      *string `json:"note,omitempty" binding:"omitempty,max=500"`
}

// NoteRequest sets or clears a free-text note.
type NoteRequest struct {
	Note *string `json:"note" binding:"omitempty,max=500"`
}

// AffectedResponse reports how many rows a group operation touched.
type AffectedResponse struct {
	Affected int64 `json:"affected"`
}
