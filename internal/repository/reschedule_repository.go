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

const rescheduleColumns = `id, student_id, source_fixed_slot_id, source_date, target_fixed_slot_id, target_date, status, reason, reviewed_by, reviewed_at, review_note, created_at`

// RescheduleRepository persists reschedule requests.
type RescheduleRepository struct {
	db *sqlx.DB
}

// NewRescheduleRepository constructs the repository.
func NewRescheduleRepository(db *sqlx.DB) *RescheduleRepository {
	return &RescheduleRepository{db: db}
}

// Create inserts a pending request.
func (r *RescheduleRepository) Create(ctx context.Context, exec sqlx.ExtContext, req *models.RescheduleRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ReschedulePending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reschedule_requests (` + rescheduleColumns + `)
VALUES (:id, :student_id, :source_fixed_slot_id, :source_date, :target_fixed_slot_id, :target_date, :status, :reason, :reviewed_by, :reviewed_at, :review_note, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, req); err != nil {
		return fmt.Errorf("create reschedule request: %w", err)
	}
	return nil
}

// GetByID loads a request.
func (r *RescheduleRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RescheduleRequest, error) {
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE id = $1`
	var req models.RescheduleRequest
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching filter, newest first.
func (r *RescheduleRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.RescheduleFilter) ([]models.RescheduleRequest, error) {
	w := &whereBuilder{}
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			w.args = append(w.args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(w.args))
		}
		w.raw(fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Source != nil {
		w.add("source_fixed_slot_id = $%d", filter.Source.FixedSlotID)
		w.add("source_date = $%d", filter.Source.Date)
	}
	if filter.Target != nil {
		w.add("target_fixed_slot_id = $%d", filter.Target.FixedSlotID)
		w.add("target_date = $%d", filter.Target.Date)
	}
	if filter.TargetSlotID != "" {
		w.add("target_fixed_slot_id = $%d", filter.TargetSlotID)
	}
	if filter.From != nil {
		w.args = append(w.args, *filter.From)
		n := len(w.args)
		w.raw(fmt.Sprintf("(source_date >= $%d OR target_date >= $%d)", n, n))
	}
	if filter.To != nil {
		w.args = append(w.args, *filter.To)
		n := len(w.args)
		w.raw(fmt.Sprintf("(source_date <= $%d OR target_date <= $%d)", n, n))
	}
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests` + w.clause() + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		w.args = append(w.args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(w.args))
		if filter.Offset > 0 {
			w.args = append(w.args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(w.args))
		}
	}
	var reqs []models.RescheduleRequest
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &reqs, query, w.args...); err != nil {
		return nil, fmt.Errorf("list reschedule requests: %w", err)
	}
	return reqs, nil
}

// ReviewParams carries the outcome of a pending request.
type ReviewParams struct {
	ID         string
	Status     models.RescheduleStatus
	ReviewedBy string
	ReviewedAt time.Time
	Note       *string
}

// Review resolves a pending request; sql.ErrNoRows when it is no longer pending.
func (r *RescheduleRepository) Review(ctx context.Context, exec sqlx.ExtContext, params ReviewParams) error {
	const query = `UPDATE reschedule_requests SET status = $1, reviewed_by = $2, reviewed_at = $3, review_note = $4
WHERE id = $5 AND status = 'PENDING'`
	res, err := pick(r.db, exec).ExecContext(ctx, query, params.Status, params.ReviewedBy, params.ReviewedAt, params.Note, params.ID)
	if err != nil {
		return fmt.Errorf("review reschedule request: %w", err)
	}
	return expectRows(res, "review reschedule request")
}
