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

func TestCancelOccurrenceIssuesOneCreditPerMemberAndUndoRemovesThem(t *testing.T) {
	f := newEngineFixture(t, time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "m1", "m2", "m3", "m4", "m5")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	rec, err := f.credits.CancelOccurrence(ctx, admin(), key, "instructor absence")
	require.NoError(t, err)
	assert.Equal(t, models.OccurrenceCancelled, rec.State)
	assert.Equal(t, 5, rec.CreditsIssued)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, "instructor absence", *rec.Reason)

	credits := f.db.creditsOf("")
	require.Len(t, credits, 5)
	for _, c := range credits {
		assert.Equal(t, models.CreditSourceCancellation, c.Source)
		assert.Equal(t, 1, c.Quantity)
		require.NotNil(t, c.SourceOccurrenceID)
		assert.Equal(t, rec.ID, *c.SourceOccurrenceID)
	}

	pending, err := f.resolver.ResolvePending(ctx, date("2025-03-10"), date("2025-03-10"))
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.credits.CancelOccurrence(ctx, admin(), key, "again")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyResolved)

	require.NoError(t, f.credits.UndoCancellation(ctx, rec.ID))
	assert.Empty(t, f.db.creditsOf(""))

	pending, err = f.resolver.ResolvePending(ctx, date("2025-03-10"), date("2025-03-10"))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OccurrencePending, pending[0].State)
}

func TestCancelOccurrenceRules(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "m1")

	_, err := f.credits.CancelOccurrence(ctx, admin(), models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}, "  ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.credits.CancelOccurrence(ctx, admin(), models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-04")}, "rain")
	assert.ErrorIs(t, err, appErrors.ErrDayMismatch)

	_, err = f.credits.CancelOccurrence(ctx, admin(), models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}, "rain")
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	realized := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")}
	rec, err := f.attendance.FinalizeOccurrence(ctx, admin(), realized, nil)
	require.NoError(t, err)
	_, err = f.credits.CancelOccurrence(ctx, admin(), realized, "rain")
	assert.ErrorIs(t, err, appErrors.ErrAlreadyResolved)

	err = f.credits.UndoCancellation(ctx, rec.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestUndoCancellationWithRedeemedCreditIsPartial(t *testing.T) {
	f := newEngineFixture(t, time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	f.db.addModality("pilates", nil)
	slot := f.db.addSlot(mondaySlot(nil), "m1", "m2")
	wed := mondaySlot(intPtr(8))
	wed.DayOfWeek = 3
	other := f.db.addSlot(wed, "w1")
	key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	rec, err := f.credits.CancelOccurrence(ctx, admin(), key, "instructor absence")
	require.NoError(t, err)
	used := f.db.creditsOf("m1")[0]
	_, err = f.credits.RedeemCredit(ctx, studentActor("m1"), used.ID, models.OccurrenceKey{FixedSlotID: other.ID, Date: date("2025-03-12")})
	require.NoError(t, err)

	err = f.credits.UndoCancellation(ctx, rec.ID)
	require.ErrorIs(t, err, appErrors.ErrPartialUndo)
	details := appErrors.FromError(err).Details.(PartialUndoDetails)
	assert.Equal(t, []string{used.ID}, details.UnreconciledCreditIDs)
	assert.Equal(t, 2, details.Expected)
	assert.Equal(t, 1, details.Removed)

	assert.Len(t, f.db.creditsOf(""), 1)
	_, err = memOccurrences{f.db}.GetByID(ctx, nil, rec.ID)
	assert.Error(t, err)
}

func TestRedeemCreditChecks(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	f.db.addModality("pilates", intPtr(10))
	f.db.addModality("yoga", intPtr(10))
	slot := f.db.addSlot(mondaySlot(nil), "m1")
	yogaSlot := mondaySlot(nil)
	yogaSlot.ModalityID = "yoga"
	yogaSlot.ProfessorID = "prof-2"
	yoga := f.db.addSlot(yogaSlot, "y1")
	f.db.addStudent("guest", "Guest")
	f.db.addHoliday(date("2025-03-17"), "Feriado")
	monday := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

	credit := grant(t, f, "guest", 1)

	_, err := f.credits.RedeemCredit(ctx, studentActor("m1"), credit.ID, monday)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-11")})
	assert.ErrorIs(t, err, appErrors.ErrDayMismatch)

	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-03")})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState, "past occurrence")

	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-17")})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState, "holiday")

	pilatesOnly := "pilates"
	bound, err := f.credits.GrantCredit(ctx, admin(), GrantCreditRequest{StudentID: "guest", Quantity: 1, Reason: "promo", ModalityID: &pilatesOnly})
	require.NoError(t, err)
	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), bound.ID, models.OccurrenceKey{FixedSlotID: yoga.ID, Date: date("2025-03-10")})
	assert.ErrorIs(t, err, appErrors.ErrModalityMismatch)

	red, err := f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, credit.ID, red.CreditID)

	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-24")})
	assert.ErrorIs(t, err, appErrors.ErrCreditExhausted)

	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), bound.ID, monday)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestRedeemExpiredCredit(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	slot := f.db.addSlot(mondaySlot(nil), "m1")
	f.db.addStudent("guest", "Guest")
	until := date("2025-03-09")
	credit, err := f.credits.GrantCredit(ctx, admin(), GrantCreditRequest{StudentID: "guest", Quantity: 1, Reason: "promo", ValidUntil: &until})
	require.NoError(t, err)

	f.setNow(time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC))
	_, err = f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")})
	assert.ErrorIs(t, err, appErrors.ErrCreditExpired)
}

func TestUndoRedemptionRestoresCreditAndNotice(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	f.db.addModality("pilates", intPtr(10))
	home := f.db.addSlot(mondaySlot(nil), "s1")
	wed := mondaySlot(nil)
	wed.DayOfWeek = 3
	target := f.db.addSlot(wed, "w1")

	notice, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", models.OccurrenceKey{FixedSlotID: home.ID, Date: date("2025-03-10")}, "")
	require.NoError(t, err)
	f.setNow(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	_, err = f.absences.ConfirmDue(ctx)
	require.NoError(t, err)
	credit := f.db.creditsOf("s1")[0]

	red, err := f.credits.RedeemCredit(ctx, studentActor("s1"), credit.ID, models.OccurrenceKey{FixedSlotID: target.ID, Date: date("2025-03-12")})
	require.NoError(t, err)
	stored, err := memAbsences{f.db}.GetByID(ctx, nil, notice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AbsenceUsed, stored.Status)

	require.NoError(t, f.credits.UndoRedemption(ctx, studentActor("s1"), red.ID))
	assert.Zero(t, f.db.redemptionCount())
	assert.Equal(t, 0, f.db.creditsOf("s1")[0].QuantityUsed)
	stored, err = memAbsences{f.db}.GetByID(ctx, nil, notice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AbsenceConfirmed, stored.Status)
	require.NotNil(t, stored.CreditID)
	assert.Equal(t, credit.ID, *stored.CreditID)

	err = f.credits.UndoRedemption(ctx, studentActor("s1"), red.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCreditConservationAcrossOperations(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	ctx := context.Background()
	f.db.addModality("pilates", intPtr(20))
	slot := f.db.addSlot(mondaySlot(nil), "m1")
	f.db.addStudent("guest", "Guest")
	credit := grant(t, f, "guest", 3)

	var reds []*models.CreditRedemption
	for _, d := range []string{"2025-03-10", "2025-03-24", "2025-03-31"} {
		red, err := f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date(d)})
		require.NoError(t, err)
		reds = append(reds, red)
	}
	require.NoError(t, f.credits.UndoRedemption(ctx, admin(), reds[1].ID))
	_, err := f.credits.RedeemCredit(ctx, studentActor("guest"), credit.ID, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-04-07")})
	require.NoError(t, err)

	list, err := f.credits.ListStudentCredits(ctx, studentActor("guest"), "guest", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].QuantityUsed)
	assert.Len(t, list[0].Redemptions, list[0].QuantityUsed)
	assert.LessOrEqual(t, list[0].QuantityUsed, list[0].Quantity)

	redeemable, err := f.credits.ListStudentCredits(ctx, studentActor("guest"), "guest", true)
	require.NoError(t, err)
	assert.Empty(t, redeemable)

	_, err = f.credits.ListStudentCredits(ctx, studentActor("m1"), "guest", false)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestGrantCreditRequiresStaff(t *testing.T) {
	f := newEngineFixture(t, fixtureNow)
	f.db.addStudent("guest", "Guest")
	_, err := f.credits.GrantCredit(context.Background(), studentActor("guest"), GrantCreditRequest{StudentID: "guest", Quantity: 1, Reason: "self"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.credits.GrantCredit(context.Background(), admin(), GrantCreditRequest{StudentID: "ghost", Quantity: 1, Reason: "x"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.credits.GrantCredit(context.Background(), admin(), GrantCreditRequest{StudentID: "guest", Quantity: 0, Reason: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAbsenceAndCancellationCreditsAreExclusive(t *testing.T) {
	cases := []struct {
		name         string
		confirmFirst bool
		issued       int
	}{
		{name: "confirmed before cancel", confirmFirst: true, issued: 1},
		{name: "cancelled before confirm", confirmFirst: false, issued: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t, fixtureNow)
			ctx := context.Background()
			slot := f.db.addSlot(mondaySlot(nil), "s1", "s2")
			key := models.OccurrenceKey{FixedSlotID: slot.ID, Date: date("2025-03-10")}

			notice, err := f.absences.FileAbsenceNotice(ctx, studentActor("s1"), "s1", key, "")
			require.NoError(t, err)
			require.True(t, notice.EligibleForCredit)
			f.setNow(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))

			var rec *models.OccurrenceRecord
			if tc.confirmFirst {
				_, err = f.absences.ConfirmDue(ctx)
				require.NoError(t, err)
				rec, err = f.credits.CancelOccurrence(ctx, admin(), key, "instructor absence")
				require.NoError(t, err)
			} else {
				rec, err = f.credits.CancelOccurrence(ctx, admin(), key, "instructor absence")
				require.NoError(t, err)
				_, err = f.absences.ConfirmDue(ctx)
				require.NoError(t, err)
			}
			assert.Equal(t, tc.issued, rec.CreditsIssued)
			assert.Len(t, f.db.creditsOf("s1"), 1)
			assert.Len(t, f.db.creditsOf("s2"), 1)

			require.NoError(t, f.credits.UndoCancellation(ctx, rec.ID))
			_, err = f.absences.ConfirmDue(ctx)
			require.NoError(t, err)

			credits := f.db.creditsOf("s1")
			require.Len(t, credits, 1)
			assert.Equal(t, models.CreditSourceAbsence, credits[0].Source)
			assert.Empty(t, f.db.creditsOf("s2"))

			stored, err := f.absences.load(ctx, notice.ID)
			require.NoError(t, err)
			assert.Equal(t, models.AbsenceConfirmed, stored.Status)
			require.NotNil(t, stored.CreditID)
			assert.Equal(t, credits[0].ID, *stored.CreditID)
		})
	}
}
