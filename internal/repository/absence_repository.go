package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

const absenceColumns = `id, student_id, fixed_slot_id, date, reason, status, eligible_for_credit, lead_minutes, credit_id, created_at, updated_at`

// AbsenceRepository persists absence notices.
type AbsenceRepository struct {
	db *sqlx.DB
}

// NewAbsenceRepository constructs the repository.
func NewAbsenceRepository(db *sqlx.DB) *AbsenceRepository {
	return &AbsenceRepository{db: db}
}

// Create inserts a notice.
func (r *AbsenceRepository) Create(ctx context.Context, exec sqlx.ExtContext, notice *models.AbsenceNotice) error {
	now := time.Now().UTC()
	if notice.ID == "" {
		notice.ID = uuid.NewString()
	}
	if notice.Status == "" {
		notice.Status = models.AbsencePending
	}
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = now
	}
	notice.UpdatedAt = now
	const query = `INSERT INTO absence_notices (` + absenceColumns + `)
VALUES (:id, :student_id, :fixed_slot_id, :date, :reason, :status, :eligible_for_credit, :lead_minutes, :credit_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, notice); err != nil {
		return fmt.Errorf("create absence notice: %w", err)
	}
	return nil
}

// GetByID loads a notice.
func (r *AbsenceRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AbsenceNotice, error) {
	query := `SELECT ` + absenceColumns + ` FROM absence_notices WHERE id = $1`
	var notice models.AbsenceNotice
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &notice, query, id); err != nil {
		return nil, err
	}
	return &notice, nil
}

// FindOpen returns the non-cancelled notice of a student for an occurrence.
func (r *AbsenceRepository) FindOpen(ctx context.Context, exec sqlx.ExtContext, studentID string, key models.OccurrenceKey) (*models.AbsenceNotice, error) {
	query := `SELECT ` + absenceColumns + ` FROM absence_notices
WHERE student_id = $1 AND fixed_slot_id = $2 AND date = $3 AND status <> 'CANCELLED' LIMIT 1`
	var notice models.AbsenceNotice
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &notice, query, studentID, key.FixedSlotID, key.Date); err != nil {
		return nil, err
	}
	return &notice, nil
}

// FindByCredit returns the notice that produced a credit.
func (r *AbsenceRepository) FindByCredit(ctx context.Context, exec sqlx.ExtContext, creditID string) (*models.AbsenceNotice, error) {
	query := `SELECT ` + absenceColumns + ` FROM absence_notices WHERE credit_id = $1 LIMIT 1`
	var notice models.AbsenceNotice
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &notice, query, creditID); err != nil {
		return nil, err
	}
	return &notice, nil
}

// List returns notices matching filter ordered by date.
func (r *AbsenceRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.AbsenceFilter) ([]models.AbsenceNotice, error) {
	w := &whereBuilder{}
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if filter.FixedSlotID != "" {
		w.add("fixed_slot_id = $%d", filter.FixedSlotID)
	}
	if filter.From != nil {
		w.add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("date <= $%d", *filter.To)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			w.args = append(w.args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(w.args))
		}
		w.raw(fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	query := `SELECT ` + absenceColumns + ` FROM absence_notices` + w.clause() + ` ORDER BY date ASC, created_at ASC`
	var notices []models.AbsenceNotice
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &notices, query, w.args...); err != nil {
		return nil, fmt.Errorf("list absence notices: %w", err)
	}
	return notices, nil
}

// UpdateStatus moves a notice to status and records the linked credit.
// from guards the transition; sql.ErrNoRows when the notice left that state.
func (r *AbsenceRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AbsenceStatus, creditID *string) error {
	const query = `UPDATE absence_notices SET status = $1, credit_id = $2, updated_at = $3 WHERE id = $4 AND status = $5`
	res, err := pick(r.db, exec).ExecContext(ctx, query, to, creditID, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update absence notice: %w", err)
	}
	return expectRows(res, "update absence notice")
}
