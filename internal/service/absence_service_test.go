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

func TestAbsenceEligibilityFollowsLeadTime(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "early", "late", "tardy")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	early, err := f.absences.FileAbsenceNotice(ctx, studentActor("early"), "early", key, "dentist")
	require.NoError(t, err)
	assert.True(t, early.EligibleForCredit)
	assert.Equal(t, 21*60, early.LeadMinutes)
	assert.Equal(t, models.AbsencePending, early.Status)

	f.setNow(time.Date(2025, 3, 10, 8, 50, 0, 0, time.UTC))
	late, err := f.absences.FileAbsenceNotice(ctx, studentActor("late"), "late", key, "traffic")
	require.NoError(t, err)
	assert.False(t, late.EligibleForCredit)
	assert.Equal(t, 10, late.LeadMinutes)

	f.setNow(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	_, err = f.absences.FileAbsenceNotice(ctx, studentActor("tardy"), "tardy", key, "")
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestFileAbsenceNoticeRejections(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	_, err := f.absences.FileAbsenceNotice(ctx, studentActor("s2"), "s1", key, "")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-11")}, "")
	assert.ErrorIs(t, err, appErrors.ErrDayMismatch)

	f.db.addStudent("outsider", "Outsider")
	_, err = f.absences.FileAbsenceNotice(ctx, admin(), "outsider", key, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "")
	require.NoError(t, err)
	_, err = f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "again")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyResolved)
}

func TestConfirmDueIssuesCreditsForEligibleNoticesOnly(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "early", "late")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	early, err := f.absences.FileAbsenceNotice(ctx, studentActor("early"), "early", key, "")
	require.NoError(t, err)
	f.setNow(time.Date(2025, 3, 10, 8, 50, 0, 0, time.UTC))
	late, err := f.absences.FileAbsenceNotice(ctx, studentActor("late"), "late", key, "")
	require.NoError(t, err)

	n, err := f.absences.ConfirmDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "notices of today are not due")

	f.setNow(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	notices, err := f.absences.List(ctx, admin(), models.AbsenceFilter{FixedSlotID: slot.ID})
	require.NoError(t, err)
	require.Len(t, notices, 2)
	for _, notice := range notices {
		assert.Equal(t, models.AbsenceConfirmed, notice.Status)
	}

	credits := f.db.creditsOf("early")
	require.Len(t, credits, 1)
	assert.Equal(t, models.CreditSourceAbsence, credits[0].Source)
	require.NotNil(t, credits[0].SourceAbsenceID)
	assert.Equal(t, early.ID, *credits[0].SourceAbsenceID)
	assert.Equal(t, date("2025-04-10"), credits[0].ValidUntil)
	assert.Empty(t, f.db.creditsOf("late"))

	again, err := f.absences.ConfirmDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.db.creditsOf(""), 1)

	mine, err := f.absences.List(ctx, studentActor("late"), models.AbsenceFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, late.ID, mine[0].ID)
}

func TestConfirmDueSkipsCreditForCancelledOccurrence(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1", "s2")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	_, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "")
	require.NoError(t, err)

	f.setNow(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	_, err = f.credits.CancelOccurrence(ctx, admin(), key, "instructor absence")
	require.NoError(t, err)

	_, err = f.absences.ConfirmDue(ctx)
	require.NoError(t, err)
	for _, c := range f.db.creditsOf("s1") {
		assert.Equal(t, models.CreditSourceCancellation, c.Source)
	}
	assert.Len(t, f.db.creditsOf("s1"), 1)
}

func TestCancelNoticeRemovesUnusedCredit(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "s1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	notice, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "")
	require.NoError(t, err)
	f.setNow(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	_, err = f.absences.ConfirmDue(ctx)
	require.NoError(t, err)
	require.Len(t, f.db.creditsOf("s1"), 1)

	_, err = f.absences.CancelNotice(ctx, studentActor("s2"), notice.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	out, err := f.absences.CancelNotice(ctx, studentActor("s1"), notice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AbsenceCancelled, out.Status)
	assert.Empty(t, f.db.creditsOf("s1"))

	_, err = f.absences.CancelNotice(ctx, studentActor("s1"), notice.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}
