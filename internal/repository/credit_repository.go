package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

const creditColumns = `id, student_id, quantity, quantity_used, reason, valid_until, source, source_occurrence_id, source_absence_id, modality_id, created_by, created_at`

const redemptionColumns = `id, credit_id, student_id, fixed_slot_id, date, used_at`

// CreditRepository persists the makeup credit ledger and its redemptions.
type CreditRepository struct {
	db *sqlx.DB
}

// NewCreditRepository constructs the repository.
func NewCreditRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Create inserts a credit.
func (r *CreditRepository) Create(ctx context.Context, exec sqlx.ExtContext, credit *models.Credit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO credits (` + creditColumns + `)
VALUES (:id, :student_id, :quantity, :quantity_used, :reason, :valid_until, :source, :source_occurrence_id, :source_absence_id, :modality_id, :created_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, credit); err != nil {
		return fmt.Errorf("create credit: %w", err)
	}
	return nil
}

// GetByID loads a credit. Inside a transaction the row is locked for update.
func (r *CreditRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE id = $1`
	if exec != nil {
		query += ` FOR UPDATE`
	}
	var credit models.Credit
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &credit, query, id); err != nil {
		return nil, err
	}
	return &credit, nil
}

// List returns credits matching filter, soonest expiry first.
func (r *CreditRepository) List(ctx context.Context, exec sqlx.ExtContext, filter models.CreditFilter) ([]models.Credit, error) {
	w := &whereBuilder{}
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if filter.Source != "" {
		w.add("source = $%d", filter.Source)
	}
	if filter.SourceOccurrenceID != "" {
		w.add("source_occurrence_id = $%d", filter.SourceOccurrenceID)
	}
	if filter.OnlyRedeemable {
		w.raw("quantity_used < quantity")
		if !filter.Today.IsZero() {
			w.add("valid_until >= $%d", filter.Today)
		}
	}
	query := `SELECT ` + creditColumns + ` FROM credits` + w.clause() + ` ORDER BY valid_until ASC, created_at ASC`
	var credits []models.Credit
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &credits, query, w.args...); err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	return credits, nil
}

// Delete removes an unused credit; sql.ErrNoRows when missing or partially used.
func (r *CreditRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM credits WHERE id = $1 AND quantity_used = 0`, id)
	if err != nil {
		return fmt.Errorf("delete credit: %w", err)
	}
	return expectRows(res, "delete credit")
}

// IncrementUsed consumes one unit; sql.ErrNoRows when the credit is exhausted.
func (r *CreditRepository) IncrementUsed(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `UPDATE credits SET quantity_used = quantity_used + 1 WHERE id = $1 AND quantity_used < quantity`, id)
	if err != nil {
		return fmt.Errorf("increment credit usage: %w", err)
	}
	return expectRows(res, "increment credit usage")
}

// DecrementUsed returns one unit; sql.ErrNoRows when nothing was used.
func (r *CreditRepository) DecrementUsed(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `UPDATE credits SET quantity_used = quantity_used - 1 WHERE id = $1 AND quantity_used > 0`, id)
	if err != nil {
		return fmt.Errorf("decrement credit usage: %w", err)
	}
	return expectRows(res, "decrement credit usage")
}

// CreateRedemption books a credit into an occurrence.
func (r *CreditRepository) CreateRedemption(ctx context.Context, exec sqlx.ExtContext, red *models.CreditRedemption) error {
	if red.ID == "" {
		red.ID = uuid.NewString()
	}
	if red.UsedAt.IsZero() {
		red.UsedAt = time.Now().UTC()
	}
	const query = `INSERT INTO credit_redemptions (` + redemptionColumns + `)
VALUES (:id, :credit_id, :student_id, :fixed_slot_id, :date, :used_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, red); err != nil {
		return fmt.Errorf("create redemption: %w", err)
	}
	return nil
}

// GetRedemption loads one redemption.
func (r *CreditRepository) GetRedemption(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CreditRedemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM credit_redemptions WHERE id = $1`
	var red models.CreditRedemption
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &red, query, id); err != nil {
		return nil, err
	}
	return &red, nil
}

// DeleteRedemption removes a redemption; sql.ErrNoRows when absent.
func (r *CreditRepository) DeleteRedemption(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM credit_redemptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}
	return expectRows(res, "delete redemption")
}

// ListRedemptions returns redemptions matching filter.
func (r *CreditRepository) ListRedemptions(ctx context.Context, exec sqlx.ExtContext, filter models.RedemptionFilter) ([]models.CreditRedemption, error) {
	w := &whereBuilder{}
	if filter.CreditID != "" {
		w.add("credit_id = $%d", filter.CreditID)
	}
	if filter.StudentID != "" {
		w.add("student_id = $%d", filter.StudentID)
	}
	if filter.FixedSlotID != "" {
		w.add("fixed_slot_id = $%d", filter.FixedSlotID)
	}
	if filter.Date != nil {
		w.add("date = $%d", *filter.Date)
	}
	if filter.From != nil {
		w.add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("date <= $%d", *filter.To)
	}
	query := `SELECT ` + redemptionColumns + ` FROM credit_redemptions` + w.clause() + ` ORDER BY date ASC, used_at ASC`
	var reds []models.CreditRedemption
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &reds, query, w.args...); err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return reds, nil
}
