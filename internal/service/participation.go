package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// seat describes how one student is booked into an occurrence.
type seat struct {
	Member        bool
	MovedAway     *models.RescheduleRequest
	RescheduledIn *models.RescheduleRequest
	Redemption    *models.CreditRedemption
}

// Attending reports whether the student is expected in class.
func (s seat) Attending() bool {
	return (s.Member && s.MovedAway == nil) || s.RescheduledIn != nil || s.Redemption != nil
}

// Guest reports whether the seat comes from a reschedule or a credit.
func (s seat) Guest() bool {
	return s.RescheduledIn != nil || s.Redemption != nil
}

// participation answers who is booked into an occurrence.
type participation struct {
	slots       slotStore
	reschedules rescheduleStore
	credits     creditStore
}

func (p participation) seatOf(ctx context.Context, exec sqlx.ExtContext, studentID string, key models.OccurrenceKey) (seat, error) {
	seats, err := p.seats(ctx, exec, key)
	if err != nil {
		return seat{}, err
	}
	return seats[studentID], nil
}

// seats maps every student with any booking on key to their seat.
func (p participation) seats(ctx context.Context, exec sqlx.ExtContext, key models.OccurrenceKey) (map[string]seat, error) {
	out := make(map[string]seat)
	members, err := p.slots.ListMembers(ctx, exec, key.FixedSlotID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
	}
	for _, m := range members {
		out[m.StudentID] = seat{Member: true}
	}
	approved := []models.RescheduleStatus{models.RescheduleApproved}
	outs, err := p.reschedules.List(ctx, exec, models.RescheduleFilter{Statuses: approved, Source: &key})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedules")
	}
	for i := range outs {
		s := out[outs[i].StudentID]
		s.MovedAway = &outs[i]
		out[outs[i].StudentID] = s
	}
	ins, err := p.reschedules.List(ctx, exec, models.RescheduleFilter{Statuses: approved, Target: &key})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedules")
	}
	for i := range ins {
		s := out[ins[i].StudentID]
		s.RescheduledIn = &ins[i]
		out[ins[i].StudentID] = s
	}
	date := key.Date
	reds, err := p.credits.ListRedemptions(ctx, exec, models.RedemptionFilter{FixedSlotID: key.FixedSlotID, Date: &date})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load redemptions")
	}
	for i := range reds {
		s := out[reds[i].StudentID]
		s.Redemption = &reds[i]
		out[reds[i].StudentID] = s
	}
	return out, nil
}
