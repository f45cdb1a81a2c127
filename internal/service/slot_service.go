package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// CreateSlotRequest describes a new fixed slot or a join into an existing turma.
type CreateSlotRequest struct {
	ModalityID  string   `json:"modality_id" validate:"required"`
	ProfessorID string   `json:"professor_id" validate:"required"`
	DayOfWeek   int      `json:"day_of_week" validate:"min=0,max=6"`
	StartTime   string   `json:"start_time" validate:"required,len=5"`
	EndTime     string   `json:"end_time" validate:"required,len=5"`
	Capacity    *int     `json:"capacity,omitempty" validate:"omitempty,min=1"`
	StudentIDs  []string `json:"student_ids" validate:"unique,dive,required"`
	TurmaNote   *string  `json:"turma_note,omitempty"`
}

// BulkCreateSlotRequest creates a slot from free-text student names.
// Decisions are keyed by the input name.
type BulkCreateSlotRequest struct {
	ModalityID  string                          `json:"modality_id" validate:"required"`
	ProfessorID string                          `json:"professor_id" validate:"required"`
	DayOfWeek   int                             `json:"day_of_week" validate:"min=0,max=6"`
	StartTime   string                          `json:"start_time" validate:"required,len=5"`
	EndTime     string                          `json:"end_time" validate:"required,len=5"`
	Capacity    *int                            `json:"capacity,omitempty" validate:"omitempty,min=1"`
	Names       []string                        `json:"names" validate:"required,min=1,dive,required"`
	Decisions   map[string]models.MatchDecision `json:"decisions"`
	TurmaNote   *string                         `json:"turma_note,omitempty"`
}

// BulkCreateSlotResult is either a list of pending decisions or the created slot.
type BulkCreateSlotResult struct {
	Pending  []models.MatchCandidate `json:"pending,omitempty"`
	Slot     *models.FixedSlot       `json:"slot,omitempty"`
	Created  []models.Student        `json:"created,omitempty"`
	Outcomes []models.MatchOutcome   `json:"outcomes,omitempty"`
}

// SlotService manages the weekly fixed slot registry.
type SlotService struct {
	slots       slotStore
	roster      rosterStore
	reschedules rescheduleStore
	credits     creditStore
	guard       *CapacityGuard
	resolver    *OccurrenceResolver
	matcher     *NameMatcher
	validator   *validator.Validate
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewSlotService constructs the registry service.
func NewSlotService(d EngineDeps, guard *CapacityGuard, resolver *OccurrenceResolver, matcher *NameMatcher) *SlotService {
	d = d.normalized()
	return &SlotService{
		slots:       d.Slots,
		roster:      d.Roster,
		reschedules: d.Reschedules,
		credits:     d.Credits,
		guard:       guard,
		resolver:    resolver,
		matcher:     matcher,
		validator:   d.Validator,
		cfg:         d.Config,
		logger:      d.Logger,
	}
}

// List returns fixed slots matching filter.
func (s *SlotService) List(ctx context.Context, filter models.FixedSlotFilter) ([]models.FixedSlot, error) {
	slots, err := s.slots.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fixed slots")
	}
	return slots, nil
}

// Get returns a slot with its members.
func (s *SlotService) Get(ctx context.Context, id string) (*models.SlotDetail, error) {
	slot, err := fetchSlot(ctx, s.slots, nil, id)
	if err != nil {
		return nil, err
	}
	members, err := s.slots.ListMembers(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
	}
	return &models.SlotDetail{FixedSlot: *slot, Members: members}, nil
}

// CreateSlot creates a slot, or adds the students to the turma with the same signature.
func (s *SlotService) CreateSlot(ctx context.Context, req CreateSlotRequest) (*models.FixedSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	if err := s.checkWindow(ctx, req.ModalityID, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	for _, id := range req.StudentIDs {
		if err := s.requireStudent(ctx, id); err != nil {
			return nil, err
		}
	}

	var created *models.FixedSlot
	err := s.guardCell(ctx, "create_slot", req.ProfessorID, req.DayOfWeek, req.StartTime, func(ctx context.Context, b *Booking) error {
		slot, err := s.createInCell(ctx, b, req)
		if err != nil {
			return err
		}
		created = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx)
	s.logger.Info("fixed slot saved", zap.String("slot_id", created.ID), zap.Int("members", created.MemberCount))
	return created, nil
}

// BulkCreateSlot resolves every name against the roster first. When any
// candidate still needs a decision nothing is written and the candidates are returned.
func (s *SlotService) BulkCreateSlot(ctx context.Context, req BulkCreateSlotRequest) (*BulkCreateSlotResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk slot payload")
	}
	if err := s.checkWindow(ctx, req.ModalityID, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	students, err := s.roster.ListStudents(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	roster := make([]models.RosterEntry, 0, len(students))
	for _, st := range students {
		roster = append(roster, models.RosterEntry{StudentID: st.ID, FullName: st.FullName})
	}

	result := &BulkCreateSlotResult{}
	for _, name := range req.Names {
		candidate := s.matcher.ResolveCandidate(name, roster)
		decision, ok := req.Decisions[name]
		if candidate.NeedsDecision && !ok {
			result.Pending = append(result.Pending, candidate)
			continue
		}
		outcome, err := s.matcher.ApplyDecision(candidate, decision)
		if err != nil {
			return nil, err
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	if len(result.Pending) > 0 {
		result.Outcomes = nil
		return result, nil
	}

	err = s.guardCell(ctx, "bulk_create_slot", req.ProfessorID, req.DayOfWeek, req.StartTime, func(ctx context.Context, b *Booking) error {
		seen := map[string]struct{}{}
		var ids []string
		for i, outcome := range result.Outcomes {
			switch {
			case outcome.Skip:
				continue
			case outcome.Create:
				student := models.Student{FullName: strings.Join(strings.Fields(outcome.Input), " "), CreatedAt: s.cfg.Now().UTC()}
				if err := s.roster.CreateStudent(ctx, b.Exec, &student); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
				}
				result.Created = append(result.Created, student)
				result.Outcomes[i].StudentID = student.ID
				ids = append(ids, student.ID)
			default:
				if _, dup := seen[outcome.StudentID]; dup {
					continue
				}
				seen[outcome.StudentID] = struct{}{}
				ids = append(ids, outcome.StudentID)
			}
		}
		slot, err := s.createInCell(ctx, b, CreateSlotRequest{
			ModalityID:  req.ModalityID,
			ProfessorID: req.ProfessorID,
			DayOfWeek:   req.DayOfWeek,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Capacity:    req.Capacity,
			StudentIDs:  ids,
			TurmaNote:   req.TurmaNote,
		})
		if err != nil {
			return err
		}
		result.Slot = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx)
	return result, nil
}

// AddMember enrols a student into a slot.
func (s *SlotService) AddMember(ctx context.Context, slotID, studentID string, note *string) (*models.SlotMembership, error) {
	slot, err := fetchSlot(ctx, s.slots, nil, slotID)
	if err != nil {
		return nil, err
	}
	if err := s.requireStudent(ctx, studentID); err != nil {
		return nil, err
	}
	var member *models.SlotMembership
	err = s.guardCell(ctx, "add_member", slot.ProfessorID, slot.DayOfWeek, slot.StartTime, func(ctx context.Context, b *Booking) error {
		target := b.Slot(slotID)
		if target == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "fixed slot not found")
		}
		cell, err := s.slots.FindByCell(ctx, b.Exec, target.ProfessorID, target.DayOfWeek, target.StartTime)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cell slots")
		}
		var current []models.SlotMembership
		for _, cs := range cell {
			members, err := s.slots.ListMembers(ctx, b.Exec, cs.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
			}
			if cs.ID == slotID {
				current = members
			}
			if hasMember(members, studentID) {
				if cs.ID == slotID {
					return s.wrapConflict("MEMBERSHIP", "student already enrolled in this slot", cs, studentID)
				}
				return s.wrapConflict("TURMA", "student already holds this professor and time", cs, studentID)
			}
		}
		if err := s.checkLimit(ctx, b, target, len(current), 1); err != nil {
			return err
		}
		m := models.SlotMembership{FixedSlotID: slotID, StudentID: studentID, Note: note, JoinedAt: s.cfg.Now().UTC()}
		if len(current) > 0 {
			m.TurmaNote = current[0].TurmaNote
		}
		if err := s.slots.AddMember(ctx, b.Exec, &m); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add slot member")
		}
		member = &m
		return nil
	}, slotID)
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx)
	s.logger.Info("slot member added", zap.String("slot_id", slotID), zap.String("student_id", studentID))
	return member, nil
}

// RemoveMember deletes one membership.
func (s *SlotService) RemoveMember(ctx context.Context, slotID, studentID string) error {
	err := s.guard.SerializeSlot(ctx, "remove_member", slotID, func(ctx context.Context, b *Booking) error {
		if err := s.slots.RemoveMember(ctx, b.Exec, slotID, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "membership not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove slot member")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate(ctx)
	s.logger.Info("slot member removed", zap.String("slot_id", slotID), zap.String("student_id", studentID))
	return nil
}

// UpdateTurmaNote sets the shared note on every membership of the slot's turma.
func (s *SlotService) UpdateTurmaNote(ctx context.Context, slotID string, note *string) (int64, error) {
	slot, err := fetchSlot(ctx, s.slots, nil, slotID)
	if err != nil {
		return 0, err
	}
	group, err := s.group(ctx, slot.Signature())
	if err != nil {
		return 0, err
	}
	ids := slotIDs(group)
	var updated int64
	err = s.guard.SerializeSlots(ctx, "update_turma_note", ids, nil, func(ctx context.Context, b *Booking) error {
		for _, id := range ids {
			n, err := s.slots.UpdateTurmaNote(ctx, b.Exec, id, note)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update turma note")
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// UpdateMemberNote sets the note of one membership.
func (s *SlotService) UpdateMemberNote(ctx context.Context, slotID, studentID string, note *string) error {
	if err := s.slots.UpdateMemberNote(ctx, nil, slotID, studentID, note); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "membership not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update member note")
	}
	return nil
}

// DeleteSlotGroup removes every membership of the turma in one transaction.
func (s *SlotService) DeleteSlotGroup(ctx context.Context, sig models.SlotSignature) (int64, error) {
	if err := s.validator.Struct(sig); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot signature")
	}
	group, err := s.group(ctx, sig)
	if err != nil {
		return 0, err
	}
	if len(group) == 0 {
		return 0, appErrors.Clone(appErrors.ErrNotFound, "slot group not found")
	}
	ids := slotIDs(group)
	var removed int64
	err = s.guard.SerializeSlots(ctx, "delete_slot_group", ids, []string{cellKey(sig.ProfessorID, sig.DayOfWeek, sig.StartTime)}, func(ctx context.Context, b *Booking) error {
		n, err := s.slots.DeleteMemberships(ctx, b.Exec, ids)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete slot group")
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.resolver.Invalidate(ctx)
	s.logger.Info("slot group deleted", zap.String("signature", sig.String()), zap.Int64("memberships", removed))
	return removed, nil
}

// guardCell serializes on the (professor, day, start) cell, holding every slot
// already in the cell plus extra slot ids.
func (s *SlotService) guardCell(ctx context.Context, op, professorID string, day int, start string, fn func(ctx context.Context, b *Booking) error, extra ...string) error {
	cell, err := s.slots.FindByCell(ctx, nil, professorID, day, start)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cell slots")
	}
	ids := append(slotIDs(cell), extra...)
	return s.guard.SerializeSlots(ctx, op, ids, []string{cellKey(professorID, day, start)}, fn)
}

func (s *SlotService) createInCell(ctx context.Context, b *Booking, req CreateSlotRequest) (*models.FixedSlot, error) {
	cell, err := s.slots.FindByCell(ctx, b.Exec, req.ProfessorID, req.DayOfWeek, req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cell slots")
	}
	var target *models.FixedSlot
	var current []models.SlotMembership
	for i := range cell {
		cs := cell[i]
		members, err := s.slots.ListMembers(ctx, b.Exec, cs.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
		}
		sameTurma := cs.EndTime == req.EndTime
		if sameTurma {
			if cs.ModalityID != req.ModalityID {
				return nil, s.wrapConflict("MODALITY", "turma already exists with another modality", cs, "")
			}
			target = &cell[i]
			current = members
		}
		for _, id := range req.StudentIDs {
			if !hasMember(members, id) {
				continue
			}
			if sameTurma {
				return nil, s.wrapConflict("MEMBERSHIP", "student already enrolled in this turma", cs, id)
			}
			return nil, s.wrapConflict("TURMA", "student already holds this professor and time", cs, id)
		}
	}

	if target == nil {
		target = &models.FixedSlot{
			ModalityID:  req.ModalityID,
			ProfessorID: req.ProfessorID,
			DayOfWeek:   req.DayOfWeek,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Capacity:    req.Capacity,
			CreatedAt:   s.cfg.Now().UTC(),
		}
		if err := s.checkLimit(ctx, b, target, 0, len(req.StudentIDs)); err != nil {
			return nil, err
		}
		if err := s.slots.Create(ctx, b.Exec, target); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fixed slot")
		}
	} else if err := s.checkLimit(ctx, b, target, len(current), len(req.StudentIDs)); err != nil {
		return nil, err
	}

	note := req.TurmaNote
	if note == nil && len(current) > 0 {
		note = current[0].TurmaNote
	}
	for _, id := range req.StudentIDs {
		m := models.SlotMembership{FixedSlotID: target.ID, StudentID: id, JoinedAt: s.cfg.Now().UTC(), TurmaNote: note}
		if err := s.slots.AddMember(ctx, b.Exec, &m); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add slot member")
		}
	}
	return fetchSlot(ctx, s.slots, b.Exec, target.ID)
}

// checkLimit rejects enrolments beyond the modality or slot seat limit. An
// existing slot must also keep room on every upcoming date that already
// holds guests.
func (s *SlotService) checkLimit(ctx context.Context, b *Booking, slot *models.FixedSlot, current, adding int) error {
	limit, limited, err := b.MembershipLimit(ctx, slot)
	if err != nil {
		return err
	}
	if !limited {
		return nil
	}
	if current+adding > limit {
		return appErrors.WithDetails(appErrors.ErrSlotFull, "", Room{Occupancy: current, Capacity: limit, Limited: true})
	}
	if slot.ID == "" {
		return nil
	}
	dates, err := s.guestDates(ctx, b, slot.ID)
	if err != nil {
		return err
	}
	for _, date := range dates {
		occupancy, err := s.guard.Occupancy(ctx, b.Exec, slot, date)
		if err != nil {
			return err
		}
		if occupancy+adding > limit {
			return appErrors.WithDetails(appErrors.ErrSlotFull, fmt.Sprintf("class on %s is full", models.FormatDate(date)), Room{Occupancy: occupancy, Capacity: limit, Limited: true})
		}
	}
	return nil
}

// guestDates lists the dates from today on where slotID receives an approved
// reschedule or a credit redemption, in order.
func (s *SlotService) guestDates(ctx context.Context, b *Booking, slotID string) ([]time.Time, error) {
	today := s.cfg.Today()
	seen := map[time.Time]struct{}{}
	var dates []time.Time
	mark := func(d time.Time) {
		d = models.NormalizeDate(d)
		if d.Before(today) {
			return
		}
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dates = append(dates, d)
		}
	}
	ins, err := s.reschedules.List(ctx, b.Exec, models.RescheduleFilter{
		Statuses:     []models.RescheduleStatus{models.RescheduleApproved},
		TargetSlotID: slotID,
		From:         &today,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedules")
	}
	for _, r := range ins {
		mark(r.TargetDate)
	}
	reds, err := s.credits.ListRedemptions(ctx, b.Exec, models.RedemptionFilter{FixedSlotID: slotID, From: &today})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load redemptions")
	}
	for _, r := range reds {
		mark(r.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (s *SlotService) checkWindow(ctx context.Context, modalityID, start, end string) error {
	startMin, err := models.ClockMinutes(start)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	endMin, err := models.ClockMinutes(end)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}
	if endMin <= startMin {
		return appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	if !s.cfg.WithinOperatingHours(start, end) {
		return appErrors.WithDetails(appErrors.ErrValidation, "slot outside operating hours", map[string]string{
			"opens":  s.cfg.OperatingHoursStart,
			"closes": s.cfg.OperatingHoursEnd,
		})
	}
	if _, err := s.roster.GetModality(ctx, nil, modalityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "modality not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modality")
	}
	return nil
}

func (s *SlotService) requireStudent(ctx context.Context, id string) error {
	if _, err := s.roster.GetStudent(ctx, nil, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", id))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

func (s *SlotService) group(ctx context.Context, sig models.SlotSignature) ([]models.FixedSlot, error) {
	cell, err := s.slots.FindByCell(ctx, nil, sig.ProfessorID, sig.DayOfWeek, sig.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot group")
	}
	var group []models.FixedSlot
	for _, cs := range cell {
		if cs.EndTime == sig.EndTime {
			group = append(group, cs)
		}
	}
	return group, nil
}

func (s *SlotService) wrapConflict(conflictType, message string, existing models.FixedSlot, studentID string) error {
	conflict := models.SlotConflict{
		FixedSlotID: existing.ID,
		ProfessorID: existing.ProfessorID,
		DayOfWeek:   existing.DayOfWeek,
		StartTime:   existing.StartTime,
		EndTime:     existing.EndTime,
		StudentID:   studentID,
		Dimension:   conflictType,
	}
	domainErr := &models.SlotConflictError{Type: conflictType, Message: message, Conflict: conflict}
	return appErrors.Wrap(domainErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, fmt.Sprintf("slot conflict: %s", message))
}

func hasMember(members []models.SlotMembership, studentID string) bool {
	for _, m := range members {
		if m.StudentID == studentID {
			return true
		}
	}
	return false
}

func slotIDs(slots []models.FixedSlot) []string {
	ids := make([]string, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ID)
	}
	return ids
}
