package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// GrantCreditRequest is a manual credit issued by staff.
type GrantCreditRequest struct {
	StudentID  string     `json:"student_id" validate:"required"`
	Quantity   int        `json:"quantity" validate:"min=1,max=50"`
	Reason     string     `json:"reason" validate:"required,max=500"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	ModalityID *string    `json:"modality_id,omitempty"`
}

// CreditService owns occurrence cancellation and the redemption of credits.
type CreditService struct {
	slots       slotStore
	occurrences occurrenceStore
	absences    absenceStore
	credits     creditStore
	roster      rosterStore
	guard       *CapacityGuard
	resolver    *OccurrenceResolver
	ledger      creditLedger
	validator   *validator.Validate
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewCreditService constructs the credit service.
func NewCreditService(d EngineDeps, guard *CapacityGuard, resolver *OccurrenceResolver, ledger creditLedger) *CreditService {
	d = d.normalized()
	return &CreditService{
		slots:       d.Slots,
		occurrences: d.Occurrences,
		absences:    d.Absences,
		credits:     d.Credits,
		roster:      d.Roster,
		guard:       guard,
		resolver:    resolver,
		ledger:      ledger,
		validator:   d.Validator,
		cfg:         d.Config,
		logger:      d.Logger,
	}
}

// CancelOccurrence cancels a Pending occurrence and issues one credit to every
// current member of the slot, atomically. Members already holding the credit of
// an absence notice for the occurrence get nothing more.
func (s *CreditService) CancelOccurrence(ctx context.Context, actor Actor, key models.OccurrenceKey, reason string) (*models.OccurrenceRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation reason is required")
	}
	key.Date = models.NormalizeDate(key.Date)
	slot, err := fetchSlot(ctx, s.slots, nil, key.FixedSlotID)
	if err != nil {
		return nil, err
	}
	if !slot.RecursOn(key.Date) {
		return nil, appErrors.Clone(appErrors.ErrDayMismatch, "")
	}

	var saved *models.OccurrenceRecord
	err = s.guard.SerializeOccurrences(ctx, "cancel_occurrence", []models.OccurrenceKey{key}, func(ctx context.Context, b *Booking) error {
		state, _, err := s.resolver.StateOf(ctx, b.Exec, slot, key.Date)
		if err != nil {
			return err
		}
		switch state {
		case models.OccurrenceRealized, models.OccurrenceCancelled:
			return appErrors.Clone(appErrors.ErrAlreadyResolved, "occurrence already has a record")
		case models.OccurrenceScheduled:
			return appErrors.Clone(appErrors.ErrInvalidState, "only pending occurrences can be cancelled")
		}
		members, err := s.slots.ListMembers(ctx, b.Exec, slot.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
		}
		members, err = s.withoutAbsenceCredit(ctx, b, members, key)
		if err != nil {
			return err
		}
		now := s.cfg.Now().UTC()
		rec := &models.OccurrenceRecord{
			FixedSlotID:   key.FixedSlotID,
			Date:          key.Date,
			State:         models.OccurrenceCancelled,
			Attendance:    models.AttendanceList{},
			Reason:        &reason,
			CreditsIssued: len(members),
			RecordedBy:    actor.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.occurrences.Save(ctx, b.Exec, rec); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save occurrence")
		}
		for _, m := range members {
			occurrenceID := rec.ID
			credit := &models.Credit{
				StudentID:          m.StudentID,
				Quantity:           1,
				Reason:             fmt.Sprintf("class cancelled on %s: %s", models.FormatDate(key.Date), reason),
				Source:             models.CreditSourceCancellation,
				SourceOccurrenceID: &occurrenceID,
				CreatedBy:          actor.ID,
			}
			if err := s.ledger.issue(ctx, b.Exec, credit); err != nil {
				return err
			}
		}
		saved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx)
	s.logger.Info("occurrence cancelled",
		zap.String("occurrence_id", saved.ID),
		zap.String("slot_id", key.FixedSlotID),
		zap.String("date", models.FormatDate(key.Date)),
		zap.Int("credits", saved.CreditsIssued),
	)
	return saved, nil
}

// withoutAbsenceCredit drops members whose notice for key already earned a credit.
func (s *CreditService) withoutAbsenceCredit(ctx context.Context, b *Booking, members []models.SlotMembership, key models.OccurrenceKey) ([]models.SlotMembership, error) {
	out := make([]models.SlotMembership, 0, len(members))
	for _, m := range members {
		notice, err := s.absences.FindOpen(ctx, b.Exec, m.StudentID, key)
		switch {
		case err == nil:
			if notice.CreditID != nil {
				continue
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence notice")
		}
		out = append(out, m)
	}
	return out, nil
}

// UndoCancellation deletes a Cancelled record and every credit it issued.
// Eligible notices confirmed without a credit because of the cancellation go
// back to Pending so the next confirmation pass credits them. When
// some credits cannot be removed the occurrence still returns to Pending and a
// PARTIAL_UNDO error lists the leftovers.
func (s *CreditService) UndoCancellation(ctx context.Context, occurrenceID string) error {
	return revertRecord(ctx, s.guard, s.occurrences, s.ledger, s.resolver, "undo_cancellation", occurrenceID, models.OccurrenceCancelled)
}

// RedeemCredit books the credit owner into the target occurrence.
func (s *CreditService) RedeemCredit(ctx context.Context, actor Actor, creditID string, target models.OccurrenceKey) (*models.CreditRedemption, error) {
	credit, err := s.load(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(credit.StudentID); err != nil {
		return nil, err
	}
	target.Date = models.NormalizeDate(target.Date)
	slot, err := fetchSlot(ctx, s.slots, nil, target.FixedSlotID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRedeemable(credit, slot, target.Date); err != nil {
		return nil, err
	}

	var red *models.CreditRedemption
	err = s.guard.SerializeOccurrences(ctx, "redeem_credit", []models.OccurrenceKey{target}, func(ctx context.Context, b *Booking) error {
		current, err := s.credits.GetByID(ctx, b.Exec, creditID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit")
		}
		if err := s.checkRedeemable(current, slot, target.Date); err != nil {
			return err
		}
		if err := s.checkTargetOpen(ctx, b, slot, target.Date); err != nil {
			return err
		}
		st, err := s.resolver.seats.seatOf(ctx, b.Exec, current.StudentID, target)
		if err != nil {
			return err
		}
		if st.Attending() {
			return appErrors.Clone(appErrors.ErrConflict, "student already booked into this occurrence")
		}
		if err := b.RequireRoom(ctx, target); err != nil {
			return err
		}
		if err := s.credits.IncrementUsed(ctx, b.Exec, current.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrCreditExhausted, "")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume credit")
		}
		r := &models.CreditRedemption{
			CreditID:    current.ID,
			StudentID:   current.StudentID,
			FixedSlotID: target.FixedSlotID,
			Date:        target.Date,
			UsedAt:      s.cfg.Now().UTC(),
		}
		if err := s.credits.CreateRedemption(ctx, b.Exec, r); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create redemption")
		}
		if current.SourceAbsenceID != nil && current.QuantityUsed+1 >= current.Quantity {
			if err := s.absences.UpdateStatus(ctx, b.Exec, *current.SourceAbsenceID, models.AbsenceConfirmed, models.AbsenceUsed, &current.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark absence notice used")
			}
		}
		red = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("credit redeemed",
		zap.String("credit_id", creditID),
		zap.String("student_id", credit.StudentID),
		zap.String("slot_id", target.FixedSlotID),
		zap.String("date", models.FormatDate(target.Date)),
	)
	return red, nil
}

// checkRedeemable runs the credit-side rules in their reporting order.
func (s *CreditService) checkRedeemable(credit *models.Credit, slot *models.FixedSlot, date time.Time) error {
	if credit.ExpiredOn(s.cfg.Today()) {
		return appErrors.WithDetails(appErrors.ErrCreditExpired, "", map[string]string{"valid_until": models.FormatDate(credit.ValidUntil)})
	}
	if credit.Remaining() <= 0 {
		return appErrors.Clone(appErrors.ErrCreditExhausted, "")
	}
	if !slot.RecursOn(date) {
		return appErrors.Clone(appErrors.ErrDayMismatch, "")
	}
	if credit.ModalityID != nil && *credit.ModalityID != slot.ModalityID {
		return appErrors.Clone(appErrors.ErrModalityMismatch, "")
	}
	return nil
}

// checkTargetOpen requires a future occurrence without a record.
func (s *CreditService) checkTargetOpen(ctx context.Context, b *Booking, slot *models.FixedSlot, date time.Time) error {
	state, _, err := s.resolver.StateOf(ctx, b.Exec, slot, date)
	if err != nil {
		return err
	}
	if state != models.OccurrenceScheduled {
		return appErrors.Clone(appErrors.ErrInvalidState, "target occurrence is not open for booking")
	}
	started, err := startedAt(s.cfg, slot, date, s.cfg.Now())
	if err != nil {
		return err
	}
	if started {
		return appErrors.Clone(appErrors.ErrInvalidState, "target occurrence already started")
	}
	return nil
}

// UndoRedemption releases a booked seat and returns the unit to its credit.
func (s *CreditService) UndoRedemption(ctx context.Context, actor Actor, redemptionID string) error {
	red, err := s.credits.GetRedemption(ctx, nil, redemptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "redemption not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load redemption")
	}
	if err := actor.authorize(red.StudentID); err != nil {
		return err
	}
	slot, err := fetchSlot(ctx, s.slots, nil, red.FixedSlotID)
	if err != nil {
		return err
	}

	err = s.guard.SerializeOccurrences(ctx, "undo_redemption", []models.OccurrenceKey{red.Key()}, func(ctx context.Context, b *Booking) error {
		if err := s.checkTargetOpen(ctx, b, slot, red.Date); err != nil {
			return err
		}
		credit, err := s.credits.GetByID(ctx, b.Exec, red.CreditID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit")
		}
		if err := s.credits.DeleteRedemption(ctx, b.Exec, red.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "redemption not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete redemption")
		}
		if err := s.credits.DecrementUsed(ctx, b.Exec, credit.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore credit")
		}
		if credit.SourceAbsenceID != nil {
			if err := s.absences.UpdateStatus(ctx, b.Exec, *credit.SourceAbsenceID, models.AbsenceUsed, models.AbsenceConfirmed, &credit.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen absence notice")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("redemption undone", zap.String("redemption_id", redemptionID), zap.String("credit_id", red.CreditID))
	return nil
}

// GrantCredit issues a manual credit.
func (s *CreditService) GrantCredit(ctx context.Context, actor Actor, req GrantCreditRequest) (*models.Credit, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can grant credits")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credit payload")
	}
	if _, err := s.roster.GetStudent(ctx, nil, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", req.StudentID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	credit := &models.Credit{
		StudentID:  req.StudentID,
		Quantity:   req.Quantity,
		Reason:     strings.TrimSpace(req.Reason),
		Source:     models.CreditSourceManual,
		ModalityID: req.ModalityID,
		CreatedBy:  actor.ID,
	}
	if req.ValidUntil != nil {
		credit.ValidUntil = models.NormalizeDate(*req.ValidUntil)
		if credit.ValidUntil.Before(s.cfg.Today()) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "valid_until must not be in the past")
		}
	}
	if err := s.ledger.issue(ctx, nil, credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// ListStudentCredits returns the credits of a student with their redemptions.
func (s *CreditService) ListStudentCredits(ctx context.Context, actor Actor, studentID string, onlyRedeemable bool) ([]models.Credit, error) {
	if err := actor.authorize(studentID); err != nil {
		return nil, err
	}
	credits, err := s.credits.List(ctx, nil, models.CreditFilter{StudentID: studentID, OnlyRedeemable: onlyRedeemable, Today: s.cfg.Today()})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credits")
	}
	reds, err := s.credits.ListRedemptions(ctx, nil, models.RedemptionFilter{StudentID: studentID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list redemptions")
	}
	byCredit := make(map[string][]models.CreditRedemption, len(reds))
	for _, r := range reds {
		byCredit[r.CreditID] = append(byCredit[r.CreditID], r)
	}
	for i := range credits {
		credits[i].Redemptions = byCredit[credits[i].ID]
	}
	return credits, nil
}

func (s *CreditService) load(ctx context.Context, id string) (*models.Credit, error) {
	credit, err := s.credits.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credit not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit")
	}
	return credit, nil
}
