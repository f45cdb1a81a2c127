package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// AttendanceService records realized occurrences and their per-student presence.
type AttendanceService struct {
	slots       slotStore
	occurrences occurrenceStore
	absences    absenceStore
	guard       *CapacityGuard
	resolver    *OccurrenceResolver
	ledger      creditLedger
	confirmer   dueConfirmer
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewAttendanceService constructs the attendance ledger.
func NewAttendanceService(d EngineDeps, guard *CapacityGuard, resolver *OccurrenceResolver, ledger creditLedger, confirmer dueConfirmer) *AttendanceService {
	d = d.normalized()
	return &AttendanceService{
		slots:       d.Slots,
		occurrences: d.Occurrences,
		absences:    d.Absences,
		guard:       guard,
		resolver:    resolver,
		ledger:      ledger,
		confirmer:   confirmer,
		cfg:         d.Config,
		logger:      d.Logger,
	}
}

// Get returns the record of an occurrence.
func (s *AttendanceService) Get(ctx context.Context, id string) (*models.OccurrenceRecord, error) {
	rec, err := s.occurrences.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence record")
	}
	return rec, nil
}

// FinalizeOccurrence persists the Realized record of key. Without records the
// attendance list is seeded from everyone booked, unmarked. Pending absence
// notices of the occurrence are confirmed and eligible ones earn a credit.
func (s *AttendanceService) FinalizeOccurrence(ctx context.Context, actor Actor, key models.OccurrenceKey, records []models.AttendanceRecord) (*models.OccurrenceRecord, error) {
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
	if s.cfg.Now().Before(start) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "occurrence has not started yet")
	}

	var saved *models.OccurrenceRecord
	err = s.guard.SerializeOccurrences(ctx, "finalize_occurrence", []models.OccurrenceKey{key}, func(ctx context.Context, b *Booking) error {
		state, existing, err := s.resolver.StateOf(ctx, b.Exec, slot, key.Date)
		if err != nil {
			return err
		}
		if state == models.OccurrenceCancelled {
			return appErrors.Clone(appErrors.ErrInvalidState, "occurrence is cancelled")
		}
		seats, err := s.resolver.seats.seats(ctx, b.Exec, key)
		if err != nil {
			return err
		}
		attendance, err := buildAttendance(records, seats, existing)
		if err != nil {
			return err
		}

		now := s.cfg.Now().UTC()
		rec := &models.OccurrenceRecord{FixedSlotID: key.FixedSlotID, Date: key.Date, CreatedAt: now}
		if existing != nil {
			rec = existing
		}
		rec.State = models.OccurrenceRealized
		rec.Attendance = attendance
		rec.RecordedBy = actor.ID
		rec.UpdatedAt = now
		rec.Recount()
		if err := s.occurrences.Save(ctx, b.Exec, rec); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save occurrence")
		}

		issued, err := s.confirmNotices(ctx, b, key, rec.ID, actor.ID)
		if err != nil {
			return err
		}
		if issued > 0 {
			rec.CreditsIssued += issued
			if err := s.occurrences.Save(ctx, b.Exec, rec); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save occurrence")
			}
		}
		saved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx)
	if s.confirmer != nil {
		if _, err := s.confirmer.ConfirmDue(ctx); err != nil {
			s.logger.Warn("confirm due absences failed", zap.Error(err))
		}
	}
	s.logger.Info("occurrence finalized",
		zap.String("slot_id", key.FixedSlotID),
		zap.String("date", models.FormatDate(key.Date)),
		zap.Int("present", saved.TotalPresent),
		zap.Int("absent", saved.TotalAbsent),
	)
	return saved, nil
}

func (s *AttendanceService) confirmNotices(ctx context.Context, b *Booking, key models.OccurrenceKey, recordID, actorID string) (int, error) {
	d := key.Date
	notices, err := s.absences.List(ctx, b.Exec, models.AbsenceFilter{
		FixedSlotID: key.FixedSlotID,
		From:        &d,
		To:          &d,
		Statuses:    []models.AbsenceStatus{models.AbsencePending},
	})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absence notices")
	}
	issued := 0
	for i := range notices {
		notice := &notices[i]
		var creditID *string
		if notice.EligibleForCredit {
			id := uuid.NewString()
			creditID = &id
		}
		if err := s.absences.UpdateStatus(ctx, b.Exec, notice.ID, models.AbsencePending, models.AbsenceConfirmed, creditID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm absence notice")
		}
		if creditID == nil {
			continue
		}
		occurrenceID := recordID
		if err := s.ledger.issueForNotice(ctx, b.Exec, notice, *creditID, &occurrenceID, actorID); err != nil {
			return 0, err
		}
		issued++
	}
	return issued, nil
}

// buildAttendance validates records against everyone allowed in the occurrence.
func buildAttendance(records []models.AttendanceRecord, seats map[string]seat, existing *models.OccurrenceRecord) (models.AttendanceList, error) {
	allowed := make(map[string]bool, len(seats))
	for id, st := range seats {
		allowed[id] = st.Guest()
	}
	if existing != nil {
		for _, r := range existing.Attendance {
			if _, ok := allowed[r.StudentID]; !ok {
				allowed[r.StudentID] = r.WasReschedule
			}
		}
	}

	if len(records) == 0 {
		out := models.AttendanceList{}
		for _, id := range sortedSeatIDs(seats) {
			if seats[id].Attending() {
				out = append(out, models.AttendanceRecord{StudentID: id, WasReschedule: seats[id].Guest()})
			}
		}
		return out, nil
	}

	out := make(models.AttendanceList, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.StudentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "attendance record without student")
		}
		if _, dup := seen[r.StudentID]; dup {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "duplicate attendance record", map[string]string{"student_id": r.StudentID})
		}
		seen[r.StudentID] = struct{}{}
		guest, ok := allowed[r.StudentID]
		if !ok {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "student is not booked into this occurrence", map[string]string{"student_id": r.StudentID})
		}
		r.WasReschedule = guest
		out = append(out, r)
	}
	return out, nil
}

// MarkAttendance advances one student's presence through null, true, false.
func (s *AttendanceService) MarkAttendance(ctx context.Context, actor Actor, key models.OccurrenceKey, studentID string) (*models.OccurrenceRecord, error) {
	key.Date = models.NormalizeDate(key.Date)
	var saved *models.OccurrenceRecord
	err := s.guard.SerializeOccurrences(ctx, "mark_attendance", []models.OccurrenceKey{key}, func(ctx context.Context, b *Booking) error {
		rec, err := s.occurrences.GetByKey(ctx, b.Exec, key)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidState, "occurrence is not realized")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
		}
		if rec.State != models.OccurrenceRealized {
			return appErrors.Clone(appErrors.ErrInvalidState, "occurrence is not realized")
		}
		idx := rec.Attendance.Find(studentID)
		if idx < 0 {
			st, err := s.resolver.seats.seatOf(ctx, b.Exec, studentID, key)
			if err != nil {
				return err
			}
			if !st.Attending() {
				return appErrors.WithDetails(appErrors.ErrValidation, "student is not booked into this occurrence", map[string]string{"student_id": studentID})
			}
			rec.Attendance = append(rec.Attendance, models.AttendanceRecord{StudentID: studentID, WasReschedule: st.Guest()})
			idx = len(rec.Attendance) - 1
		}
		rec.Attendance[idx].Present = models.NextPresence(rec.Attendance[idx].Present)
		rec.Recount()
		rec.RecordedBy = actor.ID
		rec.UpdatedAt = s.cfg.Now().UTC()
		if err := s.occurrences.Save(ctx, b.Exec, rec); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save occurrence")
		}
		saved = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Revert deletes a record, returning the occurrence to Pending, and takes back
// every credit it issued. A PARTIAL_UNDO error is returned after the revert
// committed when some credits could not be removed.
func (s *AttendanceService) Revert(ctx context.Context, occurrenceID string) error {
	return revertRecord(ctx, s.guard, s.occurrences, s.ledger, s.resolver, "revert_occurrence", occurrenceID, "")
}

func revertRecord(ctx context.Context, guard *CapacityGuard, occurrences occurrenceStore, ledger creditLedger, resolver *OccurrenceResolver, op, id string, want models.OccurrenceState) error {
	rec, err := occurrences.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "occurrence record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence record")
	}
	if want != "" && rec.State != want {
		return appErrors.Clone(appErrors.ErrInvalidState, "occurrence is not "+string(want))
	}

	var partial error
	err = guard.SerializeOccurrences(ctx, op, []models.OccurrenceKey{rec.Key()}, func(ctx context.Context, b *Booking) error {
		current, err := occurrences.GetByID(ctx, b.Exec, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "occurrence record not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence record")
		}
		rev, err := ledger.reverseOccurrence(ctx, b.Exec, current)
		if err != nil {
			return err
		}
		if err := occurrences.Delete(ctx, b.Exec, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete occurrence record")
		}
		partial = rev.err()
		return nil
	})
	if err != nil {
		return err
	}
	resolver.Invalidate(ctx)
	ledger.logger.Info("occurrence reverted", zap.String("occurrence_id", id), zap.String("state", string(rec.State)), zap.Bool("partial", partial != nil))
	return partial
}

func sortedSeatIDs(seats map[string]seat) []string {
	ids := make([]string, 0, len(seats))
	for id := range seats {
		ids = append(ids, id)
	}
	return uniqueSorted(ids)
}

// startedAt reports whether the occurrence of slot on date has begun at now.
func startedAt(cfg EngineConfig, slot *models.FixedSlot, date, now time.Time) (bool, error) {
	start, err := cfg.StartOf(slot, date)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid slot start time")
	}
	return !now.Before(start), nil
}
