package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/repository"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// ProposeRescheduleRequest moves a student from one occurrence to another.
type ProposeRescheduleRequest struct {
	StudentID         string    `json:"student_id" validate:"required"`
	SourceFixedSlotID string    `json:"source_fixed_slot_id" validate:"required"`
	SourceDate        time.Time `json:"source_date" validate:"required"`
	TargetFixedSlotID string    `json:"target_fixed_slot_id" validate:"required"`
	TargetDate        time.Time `json:"target_date" validate:"required"`
	Reason            string    `json:"reason" validate:"max=500"`
}

// RescheduleService runs the propose/approve/reject workflow.
type RescheduleService struct {
	slots       slotStore
	absences    absenceStore
	reschedules rescheduleStore
	guard       *CapacityGuard
	resolver    *OccurrenceResolver
	validator   *validator.Validate
	cfg         EngineConfig
	logger      *zap.Logger
}

// NewRescheduleService constructs the reschedule service.
func NewRescheduleService(d EngineDeps, guard *CapacityGuard, resolver *OccurrenceResolver) *RescheduleService {
	d = d.normalized()
	return &RescheduleService{
		slots:       d.Slots,
		absences:    d.Absences,
		reschedules: d.Reschedules,
		guard:       guard,
		resolver:    resolver,
		validator:   d.Validator,
		cfg:         d.Config,
		logger:      d.Logger,
	}
}

// Propose creates a Pending request after checking the window, the source seat
// and the target capacity.
func (s *RescheduleService) Propose(ctx context.Context, actor Actor, req ProposeRescheduleRequest) (*models.RescheduleRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	if err := actor.authorize(req.StudentID); err != nil {
		return nil, err
	}
	source := models.OccurrenceKey{FixedSlotID: req.SourceFixedSlotID, Date: models.NormalizeDate(req.SourceDate)}
	target := models.OccurrenceKey{FixedSlotID: req.TargetFixedSlotID, Date: models.NormalizeDate(req.TargetDate)}

	gap := models.DaysBetween(source.Date, target.Date)
	if gap == 0 {
		return nil, appErrors.Clone(appErrors.ErrSameDay, "")
	}
	if gap < 0 || gap > s.cfg.RescheduleWindow {
		return nil, appErrors.WithDetails(appErrors.ErrWindowExceeded, "", map[string]int{"days": gap, "window": s.cfg.RescheduleWindow})
	}

	sourceSlot, err := fetchSlot(ctx, s.slots, nil, source.FixedSlotID)
	if err != nil {
		return nil, err
	}
	targetSlot, err := fetchSlot(ctx, s.slots, nil, target.FixedSlotID)
	if err != nil {
		return nil, err
	}
	if !sourceSlot.RecursOn(source.Date) {
		return nil, appErrors.WithDetails(appErrors.ErrDayMismatch, "", map[string]string{"side": "source"})
	}
	if !targetSlot.RecursOn(target.Date) {
		return nil, appErrors.WithDetails(appErrors.ErrDayMismatch, "", map[string]string{"side": "target"})
	}
	started, err := startedAt(s.cfg, sourceSlot, source.Date, s.cfg.Now())
	if err != nil {
		return nil, err
	}
	if started {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "source occurrence already started")
	}

	var created *models.RescheduleRequest
	err = s.guard.SerializeOccurrences(ctx, "propose_reschedule", []models.OccurrenceKey{source, target}, func(ctx context.Context, b *Booking) error {
		state, _, err := s.resolver.StateOf(ctx, b.Exec, sourceSlot, source.Date)
		if err != nil {
			return err
		}
		if state == models.OccurrenceCancelled {
			return appErrors.Clone(appErrors.ErrInvalidState, "source occurrence is cancelled")
		}
		st, err := s.resolver.seats.seatOf(ctx, b.Exec, req.StudentID, source)
		if err != nil {
			return err
		}
		if err := checkSourceSeat(ctx, b, st, req.StudentID, source, s.absences, s.reschedules); err != nil {
			return err
		}
		if err := s.checkTarget(ctx, b, targetSlot, req.StudentID, target); err != nil {
			return err
		}
		r := &models.RescheduleRequest{
			StudentID:         req.StudentID,
			SourceFixedSlotID: source.FixedSlotID,
			SourceDate:        source.Date,
			TargetFixedSlotID: target.FixedSlotID,
			TargetDate:        target.Date,
			Status:            models.ReschedulePending,
			Reason:            strings.TrimSpace(req.Reason),
			CreatedAt:         s.cfg.Now().UTC(),
		}
		if err := s.reschedules.Create(ctx, b.Exec, r); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reschedule request")
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reschedule proposed",
		zap.String("request_id", created.ID),
		zap.String("student_id", created.StudentID),
		zap.String("source", source.String()),
		zap.String("target", target.String()),
	)
	return created, nil
}

// checkTarget requires an open target the student is not booked into, with a free seat.
func (s *RescheduleService) checkTarget(ctx context.Context, b *Booking, slot *models.FixedSlot, studentID string, key models.OccurrenceKey) error {
	state, _, err := s.resolver.StateOf(ctx, b.Exec, slot, key.Date)
	if err != nil {
		return err
	}
	if state == models.OccurrenceCancelled || state == models.OccurrenceRealized {
		return appErrors.Clone(appErrors.ErrInvalidState, "target occurrence already has a record")
	}
	st, err := s.resolver.seats.seatOf(ctx, b.Exec, studentID, key)
	if err != nil {
		return err
	}
	if st.Attending() {
		return appErrors.Clone(appErrors.ErrConflict, "student already booked into the target occurrence")
	}
	return b.RequireRoom(ctx, key)
}

// Approve accepts a Pending request, re-checking the target under the guard.
func (s *RescheduleService) Approve(ctx context.Context, actor Actor, id string, note *string) (*models.RescheduleRequest, error) {
	return s.review(ctx, actor, id, models.RescheduleApproved, note)
}

// Reject declines a Pending request.
func (s *RescheduleService) Reject(ctx context.Context, actor Actor, id string, note *string) (*models.RescheduleRequest, error) {
	return s.review(ctx, actor, id, models.RescheduleRejected, note)
}

func (s *RescheduleService) review(ctx context.Context, actor Actor, id string, status models.RescheduleStatus, note *string) (*models.RescheduleRequest, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can review reschedule requests")
	}
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ReschedulePending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request was already reviewed")
	}
	op := "approve_reschedule"
	if status == models.RescheduleRejected {
		op = "reject_reschedule"
	}
	now := s.cfg.Now().UTC()
	err = s.guard.SerializeOccurrences(ctx, op, []models.OccurrenceKey{req.Source(), req.Target()}, func(ctx context.Context, b *Booking) error {
		if status == models.RescheduleApproved {
			slot := b.Slot(req.TargetFixedSlotID)
			if slot == nil {
				return appErrors.Clone(appErrors.ErrNotFound, "fixed slot not found")
			}
			if err := s.checkTarget(ctx, b, slot, req.StudentID, req.Target()); err != nil {
				return err
			}
		}
		err := s.reschedules.Review(ctx, b.Exec, repository.ReviewParams{
			ID:         id,
			Status:     status,
			ReviewedBy: actor.ID,
			ReviewedAt: now,
			Note:       note,
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidState, "request was already reviewed")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review reschedule request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reviewer := actor.ID
	req.Status = status
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &now
	req.ReviewNote = note
	if status == models.RescheduleApproved {
		s.resolver.Invalidate(ctx)
	}
	s.logger.Info("reschedule reviewed", zap.String("request_id", id), zap.String("status", string(status)))
	return req, nil
}

// List returns requests; students only see their own.
func (s *RescheduleService) List(ctx context.Context, actor Actor, filter models.RescheduleFilter) ([]models.RescheduleRequest, error) {
	if !actor.IsStaff() {
		filter.StudentID = actor.ID
	}
	items, err := s.reschedules.List(ctx, nil, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reschedule requests")
	}
	return items, nil
}

// Get returns one request visible to actor.
func (s *RescheduleService) Get(ctx context.Context, actor Actor, id string) (*models.RescheduleRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := actor.authorize(req.StudentID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *RescheduleService) load(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	req, err := s.reschedules.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedule request")
	}
	return req, nil
}
