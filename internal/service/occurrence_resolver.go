package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// classify decides the state of one dated occurrence. ok is false when the date
// produces no occurrence at all (before the platform started or a holiday).
func classify(date, today, platformStart time.Time, holiday bool, rec *models.OccurrenceRecord) (state models.OccurrenceState, ok bool) {
	if date.Before(platformStart) || holiday {
		return "", false
	}
	if rec != nil {
		return rec.State, true
	}
	if !date.Before(today) {
		return models.OccurrenceScheduled, true
	}
	return models.OccurrencePending, true
}

type dueConfirmer interface {
	ConfirmDue(ctx context.Context) (int, error)
}

// OccurrenceResolver derives occurrences from fixed slots, holidays and records.
type OccurrenceResolver struct {
	slots       slotStore
	occurrences occurrenceStore
	absences    absenceStore
	roster      rosterStore
	seats       participation
	confirmer   dueConfirmer
	cache       *CacheService
	metrics     *MetricsService
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewOccurrenceResolver constructs the resolver.
func NewOccurrenceResolver(slots slotStore, occurrences occurrenceStore, absences absenceStore, roster rosterStore, reschedules rescheduleStore, credits creditStore, cache *CacheService, metrics *MetricsService, cfg EngineConfig, logger *zap.Logger) *OccurrenceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OccurrenceResolver{
		slots:       slots,
		occurrences: occurrences,
		absences:    absences,
		roster:      roster,
		seats:       participation{slots: slots, reschedules: reschedules, credits: credits},
		cache:       cache,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

func (r *OccurrenceResolver) checkRange(from, to time.Time) (time.Time, time.Time, error) {
	from, to = models.NormalizeDate(from), models.NormalizeDate(to)
	if to.Before(from) {
		return from, to, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if models.DaysBetween(from, to) > r.cfg.MaxRangeDays {
		return from, to, appErrors.WithDetails(appErrors.ErrValidation, "date range too large", map[string]int{"max_days": r.cfg.MaxRangeDays})
	}
	return from, to, nil
}

// ResolvePending lists every Pending occurrence in [from, to] ordered by date,
// start time and slot id. It never writes.
func (r *OccurrenceResolver) ResolvePending(ctx context.Context, from, to time.Time) ([]models.Occurrence, error) {
	pending, _, err := r.ResolvePendingCached(ctx, from, to)
	return pending, err
}

// ResolvePendingCached is ResolvePending that also reports whether the backlog
// came from the cache.
func (r *OccurrenceResolver) ResolvePendingCached(ctx context.Context, from, to time.Time) ([]models.Occurrence, bool, error) {
	from, to, err := r.checkRange(from, to)
	if err != nil {
		return nil, false, err
	}
	today := r.cfg.Today()
	key := BacklogKey(today, from, to)
	if cached, ok := r.cache.GetBacklog(ctx, key); ok {
		return cached, true, nil
	}

	slots, err := r.slots.List(ctx, models.FixedSlotFilter{ActiveOnly: true})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fixed slots")
	}
	holidays, err := r.holidaySet(ctx, from, to)
	if err != nil {
		return nil, false, err
	}
	records, err := r.recordIndex(ctx, from, to)
	if err != nil {
		return nil, false, err
	}

	pending := make([]models.Occurrence, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		_, holiday := holidays[models.FormatDate(d)]
		for i := range slots {
			slot := &slots[i]
			if !slot.RecursOn(d) {
				continue
			}
			k := models.OccurrenceKey{FixedSlotID: slot.ID, Date: d}
			state, ok := classify(d, today, r.cfg.PlatformStart, holiday, records[k.String()])
			if !ok || state != models.OccurrencePending {
				continue
			}
			pending = append(pending, occurrenceOf(slot, d, state, nil))
		}
	}
	sortOccurrences(pending)

	r.cache.SetBacklog(ctx, key, pending)
	r.metrics.SetPendingBacklog(len(pending))
	r.logger.Debug("resolved pending occurrences", zap.String("from", models.FormatDate(from)), zap.String("to", models.FormatDate(to)), zap.Int("count", len(pending)))
	return pending, false, nil
}

// Invalidate drops cached backlogs after an occurrence mutation.
func (r *OccurrenceResolver) Invalidate(ctx context.Context) {
	r.cache.InvalidateBacklog(ctx)
}

// StateOf resolves the current state of one occurrence. The second result is
// the stored record, nil while the occurrence is Pending or Scheduled.
func (r *OccurrenceResolver) StateOf(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot, date time.Time) (models.OccurrenceState, *models.OccurrenceRecord, error) {
	date = models.NormalizeDate(date)
	holidays, err := r.holidaySet(ctx, date, date)
	if err != nil {
		return "", nil, err
	}
	rec, err := r.occurrences.GetByKey(ctx, exec, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	if err != nil {
		rec = nil
	}
	_, holiday := holidays[models.FormatDate(date)]
	state, ok := classify(date, r.cfg.Today(), r.cfg.PlatformStart, holiday, rec)
	if !ok {
		if holiday {
			return "", nil, appErrors.Clone(appErrors.ErrInvalidState, "occurrence falls on a holiday")
		}
		return "", nil, appErrors.Clone(appErrors.ErrInvalidState, "occurrence predates the platform start")
	}
	return state, rec, nil
}

// ListStudentOccurrences projects the calendar of one student over [from, to].
func (r *OccurrenceResolver) ListStudentOccurrences(ctx context.Context, studentID string, from, to time.Time) ([]models.StudentOccurrence, error) {
	from, to, err := r.checkRange(from, to)
	if err != nil {
		return nil, err
	}
	if r.confirmer != nil {
		if _, err := r.confirmer.ConfirmDue(ctx); err != nil {
			r.logger.Warn("confirm due absences failed", zap.Error(err))
		}
	}
	today := r.cfg.Today()

	memberships, err := r.slots.ListMembershipsByStudent(ctx, nil, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list memberships")
	}
	holidays, err := r.holidaySet(ctx, from, to)
	if err != nil {
		return nil, err
	}
	records, err := r.recordIndex(ctx, from, to)
	if err != nil {
		return nil, err
	}
	notices, err := r.absences.List(ctx, nil, models.AbsenceFilter{StudentID: studentID, From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absence notices")
	}
	noticeByKey := make(map[string]*models.AbsenceNotice, len(notices))
	for i := range notices {
		if notices[i].Status.Open() {
			noticeByKey[notices[i].Key().String()] = &notices[i]
		}
	}
	moves, err := r.seats.reschedules.List(ctx, nil, models.RescheduleFilter{
		StudentID: studentID,
		Statuses:  []models.RescheduleStatus{models.RescheduleApproved},
		From:      &from,
		To:        &to,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reschedules")
	}
	movedAway := make(map[string]struct{}, len(moves))
	for _, m := range moves {
		movedAway[m.Source().String()] = struct{}{}
	}
	redemptions, err := r.seats.credits.ListRedemptions(ctx, nil, models.RedemptionFilter{StudentID: studentID, From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list redemptions")
	}

	slotCache := map[string]*models.FixedSlot{}
	slotOf := func(id string) (*models.FixedSlot, error) {
		if s, ok := slotCache[id]; ok {
			return s, nil
		}
		s, err := fetchSlot(ctx, r.slots, nil, id)
		if err != nil {
			return nil, err
		}
		slotCache[id] = s
		return s, nil
	}

	var out []models.StudentOccurrence
	add := func(slot *models.FixedSlot, d time.Time, source models.OccurrenceSource) *models.StudentOccurrence {
		k := models.OccurrenceKey{FixedSlotID: slot.ID, Date: d}
		rec := records[k.String()]
		_, holiday := holidays[models.FormatDate(d)]
		state, ok := classify(d, today, r.cfg.PlatformStart, holiday, rec)
		if !ok {
			return nil
		}
		row := models.StudentOccurrence{
			Occurrence:    occurrenceOf(slot, d, state, rec),
			StudentID:     studentID,
			Source:        source,
			WasReschedule: source != models.SourceMembership,
		}
		if rec != nil {
			if i := rec.Attendance.Find(studentID); i >= 0 {
				row.Present = rec.Attendance[i].Present
			}
		}
		if n := noticeByKey[k.String()]; n != nil {
			id, status := n.ID, n.Status
			row.AbsenceID = &id
			row.AbsenceStatus = &status
		}
		out = append(out, row)
		return &out[len(out)-1]
	}

	for _, m := range memberships {
		slot, err := slotOf(m.FixedSlotID)
		if err != nil {
			return nil, err
		}
		for d := firstOnOrAfter(from, slot.DayOfWeek); !d.After(to); d = d.AddDate(0, 0, 7) {
			k := models.OccurrenceKey{FixedSlotID: slot.ID, Date: d}
			if _, gone := movedAway[k.String()]; gone {
				continue
			}
			add(slot, d, models.SourceMembership)
		}
	}
	for _, m := range moves {
		if m.TargetDate.Before(from) || m.TargetDate.After(to) {
			continue
		}
		slot, err := slotOf(m.TargetFixedSlotID)
		if err != nil {
			return nil, err
		}
		if row := add(slot, m.TargetDate, models.SourceReschedule); row != nil {
			id := m.ID
			row.RescheduleID = &id
		}
	}
	for _, red := range redemptions {
		slot, err := slotOf(red.FixedSlotID)
		if err != nil {
			return nil, err
		}
		if row := add(slot, red.Date, models.SourceRedemption); row != nil {
			id := red.ID
			row.RedemptionID = &id
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessOccurrence(out[i].Occurrence, out[j].Occurrence)
	})
	return out, nil
}

func (r *OccurrenceResolver) holidaySet(ctx context.Context, from, to time.Time) (map[string]struct{}, error) {
	holidays, err := r.roster.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list holidays")
	}
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		set[models.FormatDate(h.Date)] = struct{}{}
	}
	return set, nil
}

func (r *OccurrenceResolver) recordIndex(ctx context.Context, from, to time.Time) (map[string]*models.OccurrenceRecord, error) {
	records, err := r.occurrences.ListInRange(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list occurrence records")
	}
	index := make(map[string]*models.OccurrenceRecord, len(records))
	for i := range records {
		index[records[i].Key().String()] = &records[i]
	}
	return index, nil
}

func occurrenceOf(slot *models.FixedSlot, d time.Time, state models.OccurrenceState, rec *models.OccurrenceRecord) models.Occurrence {
	occ := models.Occurrence{
		FixedSlotID: slot.ID,
		Date:        d,
		State:       state,
		ModalityID:  slot.ModalityID,
		ProfessorID: slot.ProfessorID,
		StartTime:   slot.StartTime,
		EndTime:     slot.EndTime,
	}
	if rec != nil {
		id := rec.ID
		occ.RecordID = &id
	}
	return occ
}

func lessOccurrence(a, b models.Occurrence) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.FixedSlotID < b.FixedSlotID
}

func sortOccurrences(list []models.Occurrence) {
	sort.SliceStable(list, func(i, j int) bool { return lessOccurrence(list[i], list[j]) })
}

func firstOnOrAfter(from time.Time, weekday int) time.Time {
	shift := (weekday - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, shift)
}

func fetchSlot(ctx context.Context, slots slotStore, exec sqlx.ExtContext, id string) (*models.FixedSlot, error) {
	slot, err := slots.GetByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fixed slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fixed slot")
	}
	return slot, nil
}
