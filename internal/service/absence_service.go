package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// AbsenceService handles advance absence notices.
type AbsenceService struct {
	slots       slotStore
	occurrences occurrenceStore
	absences    absenceStore
	credits     creditStore
	reschedules rescheduleStore
	guard       *CapacityGuard
	resolver    *OccurrenceResolver
	ledger      creditLedger
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewAbsenceService constructs the absence service.
func NewAbsenceService(d EngineDeps, guard *CapacityGuard, resolver *OccurrenceResolver, ledger creditLedger) *AbsenceService {
	d = d.normalized()
	return &AbsenceService{
		slots:       d.Slots,
		occurrences: d.Occurrences,
		absences:    d.Absences,
		credits:     d.Credits,
		reschedules: d.Reschedules,
		guard:       guard,
		resolver:    resolver,
		ledger:      ledger,
		cfg:         d.Config,
		logger:      d.Logger,
	}
}

// FileAbsenceNotice records that studentID will miss key. Credit eligibility is
// decided here from the lead time and never recomputed.
func (s *AbsenceService) FileAbsenceNotice(ctx context.Context, actor Actor, studentID string, key models.OccurrenceKey, reason string) (*models.AbsenceNotice, error) {
	if err := actor.authorize(studentID); err != nil {
		return nil, err
	}
	key.Date = models.NormalizeDate(key.Date)
	slot, err := fetchSlot(ctx, s.slots, nil, key.FixedSlotID)
	if err != nil {
		return nil, err
	}
	if !slot.RecursOn(key.Date) {
		return nil, appErrors.Clone(appErrors.ErrDayMismatch, "")
	}
	start, err := s.cfg.StartOf(slot, key.Date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid slot start time")
	}
	lead := start.Sub(s.cfg.Now())
	if lead <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "occurrence already started")
	}

	var notice *models.AbsenceNotice
	err = s.guard.SerializeOccurrences(ctx, "file_absence", []models.OccurrenceKey{key}, func(ctx context.Context, b *Booking) error {
		state, _, err := s.resolver.StateOf(ctx, b.Exec, slot, key.Date)
		if err != nil {
			return err
		}
		if state == models.OccurrenceCancelled || state == models.OccurrenceRealized {
			return appErrors.Clone(appErrors.ErrInvalidState, "occurrence already has a record")
		}
		if err := s.ensureUnresolved(ctx, b, studentID, key); err != nil {
			return err
		}
		n := &models.AbsenceNotice{
			StudentID:         studentID,
			FixedSlotID:       key.FixedSlotID,
			Date:              key.Date,
			Reason:            strings.TrimSpace(reason),
			Status:            models.AbsencePending,
			EligibleForCredit: lead >= s.cfg.MinNotice,
			LeadMinutes:       int(lead.Minutes()),
		}
		if err := s.absences.Create(ctx, b.Exec, n); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create absence notice")
		}
		notice = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("absence notice filed",
		zap.String("notice_id", notice.ID),
		zap.String("student_id", studentID),
		zap.String("slot_id", key.FixedSlotID),
		zap.String("date", models.FormatDate(key.Date)),
		zap.Bool("eligible", notice.EligibleForCredit),
	)
	return notice, nil
}

// ensureUnresolved rejects a source occurrence that already carries a resolution.
func (s *AbsenceService) ensureUnresolved(ctx context.Context, b *Booking, studentID string, key models.OccurrenceKey) error {
	st, err := s.resolver.seats.seatOf(ctx, b.Exec, studentID, key)
	if err != nil {
		return err
	}
	return checkSourceSeat(ctx, b, st, studentID, key, s.absences, s.reschedules)
}

// checkSourceSeat is shared by absence notices and reschedule proposals: the
// student must hold a plain membership seat with no open resolution.
func checkSourceSeat(ctx context.Context, b *Booking, st seat, studentID string, key models.OccurrenceKey, absences absenceStore, reschedules rescheduleStore) error {
	if st.MovedAway != nil {
		return appErrors.Clone(appErrors.ErrAlreadyResolved, "occurrence was rescheduled away")
	}
	if st.Guest() {
		return appErrors.Clone(appErrors.ErrAlreadyResolved, "occurrence is itself a reschedule or credit booking")
	}
	if !st.Member {
		return appErrors.WithDetails(appErrors.ErrValidation, "student is not enrolled in this slot", map[string]string{"student_id": studentID})
	}
	open, err := absences.FindOpen(ctx, b.Exec, studentID, key)
	switch {
	case err == nil:
		return appErrors.WithDetails(appErrors.ErrAlreadyResolved, "occurrence already has an absence notice", map[string]string{"absence_id": open.ID})
	case errors.Is(err, sql.ErrNoRows):
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence notices")
	}
	active, err := reschedules.List(ctx, b.Exec, models.RescheduleFilter{
		StudentID: studentID,
		Statuses:  []models.RescheduleStatus{models.ReschedulePending, models.RescheduleApproved},
		Source:    &key,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedules")
	}
	if len(active) > 0 {
		return appErrors.WithDetails(appErrors.ErrAlreadyResolved, "occurrence already has a reschedule request", map[string]string{"reschedule_id": active[0].ID})
	}
	return nil
}

// ConfirmDue confirms every Pending notice whose date has passed and issues
// credits for the eligible ones. Notices of cancelled occurrences are confirmed
// without a credit since the cancellation already compensated every member.
func (s *AbsenceService) ConfirmDue(ctx context.Context) (int, error) {
	yesterday := models.AddDays(s.cfg.Today(), -1)
	due, err := s.absences.List(ctx, nil, models.AbsenceFilter{To: &yesterday, Statuses: []models.AbsenceStatus{models.AbsencePending}})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due absence notices")
	}
	confirmed := 0
	for i := range due {
		notice := due[i]
		err := s.guard.SerializeOccurrences(ctx, "confirm_absence", []models.OccurrenceKey{notice.Key()}, func(ctx context.Context, b *Booking) error {
			eligible := notice.EligibleForCredit
			rec, err := s.occurrences.GetByKey(ctx, b.Exec, notice.Key())
			switch {
			case err == nil:
				if rec.State == models.OccurrenceCancelled {
					eligible = false
				}
			case errors.Is(err, sql.ErrNoRows):
			default:
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
			}
			var creditID *string
			if eligible {
				id := uuid.NewString()
				creditID = &id
			}
			if err := s.absences.UpdateStatus(ctx, b.Exec, notice.ID, models.AbsencePending, models.AbsenceConfirmed, creditID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm absence notice")
			}
			confirmed++
			if creditID == nil {
				return nil
			}
			return s.ledger.issueForNotice(ctx, b.Exec, &notice, *creditID, nil, "system")
		})
		if err != nil {
			return confirmed, err
		}
	}
	if confirmed > 0 {
		s.logger.Info("absence notices confirmed", zap.Int("count", confirmed))
	}
	return confirmed, nil
}

// CancelNotice withdraws a Pending or Confirmed notice and removes its unused credit.
func (s *AbsenceService) CancelNotice(ctx context.Context, actor Actor, id string) (*models.AbsenceNotice, error) {
	notice, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(notice.StudentID); err != nil {
		return nil, err
	}
	var out *models.AbsenceNotice
	err = s.guard.SerializeOccurrences(ctx, "cancel_absence", []models.OccurrenceKey{notice.Key()}, func(ctx context.Context, b *Booking) error {
		current, err := s.absences.GetByID(ctx, b.Exec, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence notice")
		}
		if current.Status != models.AbsencePending && current.Status != models.AbsenceConfirmed {
			return appErrors.Clone(appErrors.ErrInvalidState, "notice can no longer be cancelled")
		}
		if current.CreditID != nil {
			credit, err := s.credits.GetByID(ctx, b.Exec, *current.CreditID)
			switch {
			case err == nil:
				if credit.QuantityUsed > 0 {
					return appErrors.Clone(appErrors.ErrInvalidState, "credit of this notice was already redeemed")
				}
				if err := s.credits.Delete(ctx, b.Exec, credit.ID); err != nil {
					if errors.Is(err, sql.ErrNoRows) {
						return appErrors.Clone(appErrors.ErrInvalidState, "credit of this notice was already redeemed")
					}
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete credit")
				}
			case errors.Is(err, sql.ErrNoRows):
			default:
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit")
			}
		}
		if err := s.absences.UpdateStatus(ctx, b.Exec, id, current.Status, models.AbsenceCancelled, nil); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidState, "notice changed concurrently")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel absence notice")
		}
		current.Status = models.AbsenceCancelled
		current.CreditID = nil
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("absence notice cancelled", zap.String("notice_id", id), zap.String("student_id", notice.StudentID))
	return out, nil
}

// List returns notices; students only see their own.
func (s *AbsenceService) List(ctx context.Context, actor Actor, filter models.AbsenceFilter) ([]models.AbsenceNotice, error) {
	if !actor.IsStaff() {
		filter.StudentID = actor.ID
	}
	if _, err := s.ConfirmDue(ctx); err != nil {
		s.logger.Warn("confirm due absences failed", zap.Error(err))
	}
	notices, err := s.absences.List(ctx, nil, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absence notices")
	}
	return notices, nil
}

func (s *AbsenceService) load(ctx context.Context, id string) (*models.AbsenceNotice, error) {
	notice, err := s.absences.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "absence notice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence notice")
	}
	return notice, nil
}
