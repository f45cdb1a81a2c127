package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

// RosterRepository reads students, modalities and holidays.
type RosterRepository struct {
	db *sqlx.DB
}

// NewRosterRepository constructs the repository.
func NewRosterRepository(db *sqlx.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

// GetStudent loads a student.
func (r *RosterRepository) GetStudent(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, phone, active, created_at FROM students WHERE id = $1`
	var student models.Student
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListStudents returns the active roster ordered by name.
func (r *RosterRepository) ListStudents(ctx context.Context) ([]models.Student, error) {
	const query = `SELECT id, full_name, phone, active, created_at FROM students WHERE active = TRUE ORDER BY full_name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// CreateStudent inserts a roster entry.
func (r *RosterRepository) CreateStudent(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	student.Active = true
	const query = `INSERT INTO students (id, full_name, phone, active, created_at) VALUES (:id, :full_name, :phone, :active, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, pick(r.db, exec), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// GetModality loads a modality.
func (r *RosterRepository) GetModality(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Modality, error) {
	const query = `SELECT id, name, capacity FROM modalities WHERE id = $1`
	var modality models.Modality
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &modality, query, id); err != nil {
		return nil, err
	}
	return &modality, nil
}

// ListHolidays returns holidays within [from, to].
func (r *RosterRepository) ListHolidays(ctx context.Context, from, to time.Time) ([]models.Holiday, error) {
	const query = `SELECT date, name FROM holidays WHERE date BETWEEN $1 AND $2 ORDER BY date ASC`
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, from, to); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	return holidays, nil
}
