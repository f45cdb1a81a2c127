package service

import (
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// Actor is the authenticated caller of an engine operation. For students ID is
// the student id.
type Actor struct {
	ID   string
	Role models.UserRole
}

// IsStaff reports whether the actor may run administrative operations.
func (a Actor) IsStaff() bool {
	return a.Role.IsStaff()
}

// authorize allows staff, or the student acting on their own behalf.
func (a Actor) authorize(studentID string) error {
	if a.IsStaff() || (a.Role == models.RoleStudent && a.ID == studentID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "cannot act on behalf of another student")
}

// EngineDeps collects the stores and settings shared by the engine services.
type EngineDeps struct {
	Slots       slotStore
	Occurrences occurrenceStore
	Absences    absenceStore
	Credits     creditStore
	Reschedules rescheduleStore
	Roster      rosterStore
	Locks       advisoryLocker
	Tx          txRunner
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Config      EngineConfig
	Logger      *zap.Logger
}

func (d EngineDeps) normalized() EngineDeps {
	if d.Validator == nil {
		d.Validator = validator.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.Config = d.Config.withDefaults()
	return d
}

// Engine bundles the occurrence engine services over one set of stores.
type Engine struct {
	Guard       *CapacityGuard
	Matcher     *NameMatcher
	Resolver    *OccurrenceResolver
	Slots       *SlotService
	Attendance  *AttendanceService
	Absences    *AbsenceService
	Credits     *CreditService
	Reschedules *RescheduleService
}

// NewEngine wires the engine services.
func NewEngine(d EngineDeps) *Engine {
	d = d.normalized()
	guard := NewCapacityGuard(d.Slots, d.Roster, d.Reschedules, d.Credits, d.Locks, d.Tx, d.Metrics, d.Logger)
	matcher := NewNameMatcher(d.Config.MatchThreshold)
	resolver := NewOccurrenceResolver(d.Slots, d.Occurrences, d.Absences, d.Roster, d.Reschedules, d.Credits, d.Cache, d.Metrics, d.Config, d.Logger)
	ledger := creditLedger{credits: d.Credits, absences: d.Absences, metrics: d.Metrics, cfg: d.Config, logger: d.Logger}

	absences := NewAbsenceService(d, guard, resolver, ledger)
	resolver.confirmer = absences

	return &Engine{
		Guard:       guard,
		Matcher:     matcher,
		Resolver:    resolver,
		Slots:       NewSlotService(d, guard, resolver, matcher),
		Attendance:  NewAttendanceService(d, guard, resolver, ledger, absences),
		Absences:    absences,
		Credits:     NewCreditService(d, guard, resolver, ledger),
		Reschedules: NewRescheduleService(d, guard, resolver),
	}
}
