package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

const occurrenceColumns = `id, fixed_slot_id, date, state, attendance, total_present, total_absent, reason, credits_issued, recorded_by, created_at, updated_at`

// OccurrenceRepository persists realized and cancelled occurrences. Pending
// occurrences are never stored.
type OccurrenceRepository struct {
	db *sqlx.DB
}

// NewOccurrenceRepository constructs the repository.
func NewOccurrenceRepository(db *sqlx.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// GetByKey loads the record of a slot on a date.
func (r *OccurrenceRepository) GetByKey(ctx context.Context, exec sqlx.ExtContext, key models.OccurrenceKey) (*models.OccurrenceRecord, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE fixed_slot_id = $1 AND date = $2`
	var rec models.OccurrenceRecord
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &rec, query, key.FixedSlotID, key.Date); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID loads a record by identifier.
func (r *OccurrenceRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.OccurrenceRecord, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE id = $1`
	var rec models.OccurrenceRecord
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &rec, query, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListInRange returns records dated within [from, to].
func (r *OccurrenceRepository) ListInRange(ctx context.Context, from, to time.Time) ([]models.OccurrenceRecord, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE date BETWEEN $1 AND $2 ORDER BY date ASC, fixed_slot_id ASC`
	var recs []models.OccurrenceRecord
	if err := r.db.SelectContext(ctx, &recs, query, from, to); err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	return recs, nil
}

// Save inserts or replaces the record for its (fixed_slot_id, date) key.
func (r *OccurrenceRepository) Save(ctx context.Context, exec sqlx.ExtContext, rec *models.OccurrenceRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Attendance == nil {
		rec.Attendance = models.AttendanceList{}
	}
	const query = `INSERT INTO occurrences (` + occurrenceColumns + `)
VALUES (:id, :fixed_slot_id, :date, :state, :attendance, :total_present, :total_absent, :reason, :credits_issued, :recorded_by, :created_at, :updated_at)
ON CONFLICT (fixed_slot_id, date) DO UPDATE
SET state = EXCLUDED.state,
    attendance = EXCLUDED.attendance,
    total_present = EXCLUDED.total_present,
    total_absent = EXCLUDED.total_absent,
    reason = EXCLUDED.reason,
    credits_issued = EXCLUDED.credits_issued,
    recorded_by = EXCLUDED.recorded_by,
    updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, rec); err != nil {
		return fmt.Errorf("save occurrence: %w", err)
	}
	return nil
}

// Delete removes a record, returning the occurrence to pending.
func (r *OccurrenceRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM occurrences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	return expectRows(res, "delete occurrence")
}
