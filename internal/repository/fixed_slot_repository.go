package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

const slotColumns = `s.id, s.modality_id, s.professor_id, s.day_of_week, s.start_time, s.end_time, s.capacity, s.created_at,
	(SELECT COUNT(*) FROM slot_memberships m WHERE m.fixed_slot_id = s.id) AS member_count`

const membershipColumns = `id, fixed_slot_id, student_id, joined_at, note, turma_note`

// FixedSlotRepository persists the weekly slot registry and its memberships.
type FixedSlotRepository struct {
	db *sqlx.DB
}

// NewFixedSlotRepository constructs the repository.
func NewFixedSlotRepository(db *sqlx.DB) *FixedSlotRepository {
	return &FixedSlotRepository{db: db}
}

// Create inserts a slot template.
func (r *FixedSlotRepository) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO fixed_slots (id, modality_id, professor_id, day_of_week, start_time, end_time, capacity, created_at)
VALUES (:id, :modality_id, :professor_id, :day_of_week, :start_time, :end_time, :capacity, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, slot); err != nil {
		return fmt.Errorf("create fixed slot: %w", err)
	}
	return nil
}

// GetByID loads a slot with its member count.
func (r *FixedSlotRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.FixedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM fixed_slots s WHERE s.id = $1`
	var slot models.FixedSlot
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// List returns slots matching filter ordered by weekday and start time.
func (r *FixedSlotRepository) List(ctx context.Context, filter models.FixedSlotFilter) ([]models.FixedSlot, error) {
	w := &whereBuilder{}
	if filter.ProfessorID != "" {
		w.add("s.professor_id = $%d", filter.ProfessorID)
	}
	if filter.ModalityID != "" {
		w.add("s.modality_id = $%d", filter.ModalityID)
	}
	if filter.DayOfWeek != nil {
		w.add("s.day_of_week = $%d", *filter.DayOfWeek)
	}
	if filter.StudentID != "" {
		w.add("EXISTS (SELECT 1 FROM slot_memberships sm WHERE sm.fixed_slot_id = s.id AND sm.student_id = $%d)", filter.StudentID)
	}
	if filter.ActiveOnly {
		w.raw("EXISTS (SELECT 1 FROM slot_memberships am WHERE am.fixed_slot_id = s.id)")
	}
	query := `SELECT ` + slotColumns + ` FROM fixed_slots s` + w.clause() + ` ORDER BY s.day_of_week ASC, s.start_time ASC, s.id ASC`
	var slots []models.FixedSlot
	if err := r.db.SelectContext(ctx, &slots, query, w.args...); err != nil {
		return nil, fmt.Errorf("list fixed slots: %w", err)
	}
	return slots, nil
}

// FindByCell returns every slot of a professor starting at the same weekday and time.
func (r *FixedSlotRepository) FindByCell(ctx context.Context, exec sqlx.ExtContext, professorID string, dayOfWeek int, startTime string) ([]models.FixedSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM fixed_slots s
WHERE s.professor_id = $1 AND s.day_of_week = $2 AND s.start_time = $3 ORDER BY s.end_time ASC, s.id ASC`
	var slots []models.FixedSlot
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &slots, query, professorID, dayOfWeek, startTime); err != nil {
		return nil, fmt.Errorf("find fixed slots by cell: %w", err)
	}
	return slots, nil
}

// ListMembers returns memberships of a slot, oldest first.
func (r *FixedSlotRepository) ListMembers(ctx context.Context, exec sqlx.ExtContext, slotID string) ([]models.SlotMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM slot_memberships WHERE fixed_slot_id = $1 ORDER BY joined_at ASC, id ASC`
	var members []models.SlotMembership
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &members, query, slotID); err != nil {
		return nil, fmt.Errorf("list slot members: %w", err)
	}
	return members, nil
}

// ListMembershipsByStudent returns every slot membership of a student.
func (r *FixedSlotRepository) ListMembershipsByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.SlotMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM slot_memberships WHERE student_id = $1 ORDER BY joined_at ASC`
	var members []models.SlotMembership
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &members, query, studentID); err != nil {
		return nil, fmt.Errorf("list student memberships: %w", err)
	}
	return members, nil
}

// AddMember enrols a student. The (fixed_slot_id, student_id) pair is unique.
func (r *FixedSlotRepository) AddMember(ctx context.Context, exec sqlx.ExtContext, member *models.SlotMembership) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO slot_memberships (id, fixed_slot_id, student_id, joined_at, note, turma_note)
VALUES (:id, :fixed_slot_id, :student_id, :joined_at, :note, :turma_note)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, member); err != nil {
		return fmt.Errorf("add slot member: %w", err)
	}
	return nil
}

// RemoveMember deletes one membership; sql.ErrNoRows when absent.
func (r *FixedSlotRepository) RemoveMember(ctx context.Context, exec sqlx.ExtContext, slotID, studentID string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM slot_memberships WHERE fixed_slot_id = $1 AND student_id = $2`, slotID, studentID)
	if err != nil {
		return fmt.Errorf("remove slot member: %w", err)
	}
	return expectRows(res, "remove slot member")
}

// UpdateTurmaNote sets the shared note on every membership of a slot.
func (r *FixedSlotRepository) UpdateTurmaNote(ctx context.Context, exec sqlx.ExtContext, slotID string, note *string) (int64, error) {
	res, err := pick(r.db, exec).ExecContext(ctx, `UPDATE slot_memberships SET turma_note = $1 WHERE fixed_slot_id = $2`, note, slotID)
	if err != nil {
		return 0, fmt.Errorf("update turma note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update turma note rows: %w", err)
	}
	return n, nil
}

// UpdateMemberNote sets the per-student note of a membership.
func (r *FixedSlotRepository) UpdateMemberNote(ctx context.Context, exec sqlx.ExtContext, slotID, studentID string, note *string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `UPDATE slot_memberships SET note = $1 WHERE fixed_slot_id = $2 AND student_id = $3`, note, slotID, studentID)
	if err != nil {
		return fmt.Errorf("update member note: %w", err)
	}
	return expectRows(res, "update member note")
}

// DeleteMemberships removes all memberships of the given slots.
func (r *FixedSlotRepository) DeleteMemberships(ctx context.Context, exec sqlx.ExtContext, slotIDs []string) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM slot_memberships WHERE fixed_slot_id IN (?)`, slotIDs)
	if err != nil {
		return 0, fmt.Errorf("build delete memberships: %w", err)
	}
	target := pick(r.db, exec)
	res, err := target.ExecContext(ctx, target.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete memberships: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete memberships rows: %w", err)
	}
	return n, nil
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
