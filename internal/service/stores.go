package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/repository"
	"github.com/noah-isme/studio-portal-api/pkg/database"
)

// Every store method taking an exec runs on that transaction when non-nil.

type slotStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.FixedSlot, error)
	List(ctx context.Context, filter models.FixedSlotFilter) ([]models.FixedSlot, error)
	FindByCell(ctx context.Context, exec sqlx.ExtContext, professorID string, dayOfWeek int, startTime string) ([]models.FixedSlot, error)
	ListMembers(ctx context.Context, exec sqlx.ExtContext, slotID string) ([]models.SlotMembership, error)
	ListMembershipsByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.SlotMembership, error)
	AddMember(ctx context.Context, exec sqlx.ExtContext, member *models.SlotMembership) error
	RemoveMember(ctx context.Context, exec sqlx.ExtContext, slotID, studentID string) error
	UpdateTurmaNote(ctx context.Context, exec sqlx.ExtContext, slotID string, note *string) (int64, error)
	UpdateMemberNote(ctx context.Context, exec sqlx.ExtContext, slotID, studentID string, note *string) error
	DeleteMemberships(ctx context.Context, exec sqlx.ExtContext, slotIDs []string) (int64, error)
}

type occurrenceStore interface {
	GetByKey(ctx context.Context, exec sqlx.ExtContext, key models.OccurrenceKey) (*models.OccurrenceRecord, error)
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.OccurrenceRecord, error)
	ListInRange(ctx context.Context, from, to time.Time) ([]models.OccurrenceRecord, error)
	Save(ctx context.Context, exec sqlx.ExtContext, rec *models.OccurrenceRecord) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type absenceStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, notice *models.AbsenceNotice) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.AbsenceNotice, error)
	FindOpen(ctx context.Context, exec sqlx.ExtContext, studentID string, key models.OccurrenceKey) (*models.AbsenceNotice, error)
	FindByCredit(ctx context.Context, exec sqlx.ExtContext, creditID string) (*models.AbsenceNotice, error)
	List(ctx context.Context, exec sqlx.ExtContext, filter models.AbsenceFilter) ([]models.AbsenceNotice, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AbsenceStatus, creditID *string) error
}

type creditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, credit *models.Credit) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Credit, error)
	List(ctx context.Context, exec sqlx.ExtContext, filter models.CreditFilter) ([]models.Credit, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	IncrementUsed(ctx context.Context, exec sqlx.ExtContext, id string) error
	DecrementUsed(ctx context.Context, exec sqlx.ExtContext, id string) error
	CreateRedemption(ctx context.Context, exec sqlx.ExtContext, red *models.CreditRedemption) error
	GetRedemption(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CreditRedemption, error)
	DeleteRedemption(ctx context.Context, exec sqlx.ExtContext, id string) error
	ListRedemptions(ctx context.Context, exec sqlx.ExtContext, filter models.RedemptionFilter) ([]models.CreditRedemption, error)
}

type rescheduleStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, req *models.RescheduleRequest) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RescheduleRequest, error)
	List(ctx context.Context, exec sqlx.ExtContext, filter models.RescheduleFilter) ([]models.RescheduleRequest, error)
	Review(ctx context.Context, exec sqlx.ExtContext, params repository.ReviewParams) error
}

type rosterStore interface {
	GetStudent(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	CreateStudent(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	GetModality(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Modality, error)
	ListHolidays(ctx context.Context, from, to time.Time) ([]models.Holiday, error)
}

type advisoryLocker interface {
	Exclusive(ctx context.Context, exec sqlx.ExtContext, key string) error
	Shared(ctx context.Context, exec sqlx.ExtContext, key string) error
}

type txRunner interface {
	WithinTx(ctx context.Context, fn database.TxFunc) error
}
