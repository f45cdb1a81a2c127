package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

func TestFinalizeSeedsEveryoneBooked(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s2", "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}

	rec, err := f.attendance.FinalizeOccurrence(ctx, admin(), key, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OccurrenceRealized, rec.State)
	require.Len(t, rec.Attendance, 2)
	assert.Equal(t, "s1", rec.Attendance[0].StudentID)
	assert.Nil(t, rec.Attendance[0].Present)
	assert.Equal(t, "admin-1", rec.RecordedBy)
}

func TestFinalizeValidation(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1")
	yes := true

	_, err := f.attendance.FinalizeOccurrence(ctx, admin(), models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-04")}, nil)
	assert.ErrorIs(t, err, appErrors.ErrDayMismatch)

	_, err = f.attendance.FinalizeOccurrence(ctx, admin(), models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}
	_, err = f.attendance.FinalizeOccurrence(ctx, admin(), key, []models.AttendanceRecord{{StudentID: "stranger", Present: &yes}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.attendance.FinalizeOccurrence(ctx, admin(), key, []models.AttendanceRecord{{StudentID: "s1"}, {StudentID: "s1"}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	rec, err := f.attendance.FinalizeOccurrence(ctx, admin(), key, []models.AttendanceRecord{{StudentID: "s1", Present: &yes}})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalPresent)
	assert.Equal(t, 0, rec.TotalAbsent)
}

func TestFinalizeRejectsCancelledOccurrence(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}

	_, err := f.credits.CancelOccurrence(ctx, admin(), key, "flood")
	require.NoError(t, err)
	_, err = f.attendance.FinalizeOccurrence(ctx, admin(), key, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestMarkAttendanceCyclesThroughThreeStates(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}

	_, err := f.attendance.MarkAttendance(ctx, admin(), key, "s1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = f.attendance.FinalizeOccurrence(ctx, admin(), key, nil)
	require.NoError(t, err)

	var seen []string
	for i := 0; i < 3; i++ {
		rec, err := f.attendance.MarkAttendance(ctx, admin(), key, "s1")
		require.NoError(t, err)
		p := rec.Attendance[rec.Attendance.Find("s1")].Present
		switch {
		case p == nil:
			seen = append(seen, "unmarked")
		case *p:
			seen = append(seen, "present")
		default:
			seen = append(seen, "absent")
		}
	}
	assert.Equal(t, []string{"present", "absent", "unmarked"}, seen)

	_, err = f.attendance.MarkAttendance(ctx, admin(), key, "stranger")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestFinalizeConfirmsNoticesAndRevertTakesCreditsBack(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1", "s2")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	notice, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "travel")
	require.NoError(t, err)
	require.True(t, notice.EligibleForCredit)

	f.setNow(date("2025-03-10").Add(11 * time.Hour))
	rec, err := f.attendance.FinalizeOccurrence(ctx, admin(), key, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CreditsIssued)

	credits := f.db.creditsOf("s1")
	require.Len(t, credits, 1)
	assert.Equal(t, models.CreditSourceAbsence, credits[0].Source)
	require.NotNil(t, credits[0].SourceOccurrenceID)
	assert.Equal(t, rec.ID, *credits[0].SourceOccurrenceID)

	stored, err := memAbsences{f.db}.GetByID(ctx, nil, notice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AbsenceConfirmed, stored.Status)

	require.NoError(t, f.attendance.Revert(ctx, rec.ID))
	assert.Empty(t, f.db.creditsOf("s1"))
	stored, err = memAbsences{f.db}.GetByID(ctx, nil, notice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AbsencePending, stored.Status)
	assert.Nil(t, stored.CreditID)

	_, err = memOccurrences{f.db}.GetByID(ctx, nil, rec.ID)
	assert.Error(t, err)
}

func TestRevertReportsRedeemedCreditsAfterCommitting(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	f.db.addModality("pilates", nil)
	slot := f.db.addSlot(mondaySlot(intPtr(10)), "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	_, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "")
	require.NoError(t, err)
	f.setNow(date("2025-03-10").Add(11 * time.Hour))
	rec, err := f.attendance.FinalizeOccurrence(ctx, admin(), key, nil)
	require.NoError(t, err)

	credit := f.db.creditsOf("s1")[0]
	_, err = f.credits.RedeemCredit(ctx, studentActor("s1"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-17")})
	assert.ErrorIs(t, err, appErrors.ErrConflict, "members cannot redeem into their own occurrence")

	other := mondaySlot(intPtr(10))
	other.DayOfWeek = 2
	tuesday := f.db.addSlot(other, "t1")
	_, err = f.credits.RedeemCredit(ctx, studentActor("s1"), credit.ID, models.OccurrenceKey{FixedSlotID: tuesday.ID, Date: date("2025-03-11")})
	require.NoError(t, err)

	err = f.attendance.Revert(ctx, rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPartialUndo)
	details, ok := appErrors.FromError(err).Details.(PartialUndoDetails)
	require.True(t, ok)
	assert.Equal(t, []string{credit.ID}, details.UnreconciledCreditIDs)
	assert.Equal(t, 1, details.Expected)
	assert.Equal(t, 0, details.Removed)

	_, err = memOccurrences{f.db}.GetByID(ctx, nil, rec.ID)
	assert.Error(t, err, "record is removed even when credits stay")
}
