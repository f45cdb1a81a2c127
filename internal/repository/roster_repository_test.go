package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-portal-api/internal/models"
)

func TestRosterRepositoryCreateStudentActivates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students (id, full_name, phone, active, created_at)")).
		WithArgs(sqlmock.AnyArg(), "MARIA SOUZA", nil, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{FullName: "MARIA SOUZA"}
	require.NoError(t, repo.CreateStudent(context.Background(), nil, student))
	assert.NotEmpty(t, student.ID)
	assert.True(t, student.Active)
	assert.False(t, student.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryGetModalityMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM modalities WHERE id = $1")).
		WithArgs("yoga").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetModality(context.Background(), nil, "yoga")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryListHolidaysInRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"date", "name"}).
		AddRow(time.Date(2024, 4, 21, 0, 0, 0, 0, time.UTC), "Tiradentes")
	mock.ExpectQuery(regexp.QuoteMeta("FROM holidays WHERE date BETWEEN $1 AND $2")).
		WithArgs(from, to).
		WillReturnRows(rows)

	holidays, err := repo.ListHolidays(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.Equal(t, "Tiradentes", holidays[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryListStudentsWrapsError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRosterRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE active = TRUE")).
		WillReturnError(sql.ErrConnDone)

	_, err := repo.ListStudents(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "list students")
}
