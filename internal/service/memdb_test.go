package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/repository"
	"github.com/noah-isme/studio-portal-api/pkg/database"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
)

// memDB is a goroutine-safe in-memory store shared by the engine service tests.
// Transactions are not rolled back, so services must validate before writing.
type memDB struct {
	mu          sync.Mutex
	seq         int
	slots       map[string]*models.FixedSlot
	members     map[string][]models.SlotMembership
	students    map[string]*models.Student
	modalities  map[string]*models.Modality
	holidays    map[string]models.Holiday
	occurrences map[string]*models.OccurrenceRecord
	absences    map[string]*models.AbsenceNotice
	credits     map[string]*models.Credit
	redemptions map[string]*models.CreditRedemption
	reschedules map[string]*models.RescheduleRequest
}

func newMemDB() *memDB {
	return &memDB{
		slots:       map[string]*models.FixedSlot{},
		members:     map[string][]models.SlotMembership{},
		students:    map[string]*models.Student{},
		modalities:  map[string]*models.Modality{},
		holidays:    map[string]models.Holiday{},
		occurrences: map[string]*models.OccurrenceRecord{},
		absences:    map[string]*models.AbsenceNotice{},
		credits:     map[string]*models.Credit{},
		redemptions: map[string]*models.CreditRedemption{},
		reschedules: map[string]*models.RescheduleRequest{},
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

// seed helpers

func (db *memDB) addStudent(id, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.students[id] = &models.Student{ID: id, FullName: name, Active: true}
}

func (db *memDB) addModality(id string, capacity *int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.modalities[id] = &models.Modality{ID: id, Name: id, Capacity: capacity}
}

func (db *memDB) addHoliday(date time.Time, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.holidays[models.FormatDate(date)] = models.Holiday{Date: date, Name: name}
}

func (db *memDB) addSlot(slot models.FixedSlot, studentIDs ...string) *models.FixedSlot {
	db.mu.Lock()
	defer db.mu.Unlock()
	if slot.ID == "" {
		slot.ID = db.nextID("slot")
	}
	s := slot
	db.slots[s.ID] = &s
	for _, sid := range studentIDs {
		db.members[s.ID] = append(db.members[s.ID], models.SlotMembership{ID: db.nextID("mem"), FixedSlotID: s.ID, StudentID: sid})
		if _, ok := db.students[sid]; !ok {
			db.students[sid] = &models.Student{ID: sid, FullName: sid, Active: true}
		}
	}
	return &s
}

func (db *memDB) creditsOf(studentID string) []models.Credit {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Credit
	for _, c := range db.credits {
		if studentID == "" || c.StudentID == studentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (db *memDB) redemptionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.redemptions)
}

func (db *memDB) slotCopy(id string) *models.FixedSlot {
	s := *db.slots[id]
	s.MemberCount = len(db.members[id])
	return &s
}

type memSlots struct{ db *memDB }

func (m memSlots) Create(_ context.Context, _ sqlx.ExtContext, slot *models.FixedSlot) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if slot.ID == "" {
		slot.ID = m.db.nextID("slot")
	}
	s := *slot
	m.db.slots[s.ID] = &s
	return nil
}

func (m memSlots) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.FixedSlot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.slots[id]; !ok {
		return nil, sql.ErrNoRows
	}
	return m.db.slotCopy(id), nil
}

func (m memSlots) List(_ context.Context, filter models.FixedSlotFilter) ([]models.FixedSlot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.FixedSlot
	for id, s := range m.db.slots {
		if filter.ProfessorID != "" && s.ProfessorID != filter.ProfessorID {
			continue
		}
		if filter.ModalityID != "" && s.ModalityID != filter.ModalityID {
			continue
		}
		if filter.DayOfWeek != nil && s.DayOfWeek != *filter.DayOfWeek {
			continue
		}
		if filter.ActiveOnly && len(m.db.members[id]) == 0 {
			continue
		}
		if filter.StudentID != "" && !m.db.isMember(id, filter.StudentID) {
			continue
		}
		out = append(out, *m.db.slotCopy(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (db *memDB) isMember(slotID, studentID string) bool {
	for _, mem := range db.members[slotID] {
		if mem.StudentID == studentID {
			return true
		}
	}
	return false
}

func (m memSlots) FindByCell(_ context.Context, _ sqlx.ExtContext, professorID string, dayOfWeek int, startTime string) ([]models.FixedSlot, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.FixedSlot
	for id, s := range m.db.slots {
		if s.ProfessorID == professorID && s.DayOfWeek == dayOfWeek && s.StartTime == startTime {
			out = append(out, *m.db.slotCopy(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memSlots) ListMembers(_ context.Context, _ sqlx.ExtContext, slotID string) ([]models.SlotMembership, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return append([]models.SlotMembership(nil), m.db.members[slotID]...), nil
}

func (m memSlots) ListMembershipsByStudent(_ context.Context, _ sqlx.ExtContext, studentID string) ([]models.SlotMembership, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.SlotMembership
	for _, list := range m.db.members {
		for _, mem := range list {
			if mem.StudentID == studentID {
				out = append(out, mem)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FixedSlotID < out[j].FixedSlotID })
	return out, nil
}

func (m memSlots) AddMember(_ context.Context, _ sqlx.ExtContext, member *models.SlotMembership) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.isMember(member.FixedSlotID, member.StudentID) {
		return fmt.Errorf("add slot member: duplicate membership")
	}
	if member.ID == "" {
		member.ID = m.db.nextID("mem")
	}
	m.db.members[member.FixedSlotID] = append(m.db.members[member.FixedSlotID], *member)
	return nil
}

func (m memSlots) RemoveMember(_ context.Context, _ sqlx.ExtContext, slotID, studentID string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	list := m.db.members[slotID]
	for i, mem := range list {
		if mem.StudentID == studentID {
			m.db.members[slotID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m memSlots) UpdateTurmaNote(_ context.Context, _ sqlx.ExtContext, slotID string, note *string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	list := m.db.members[slotID]
	for i := range list {
		list[i].TurmaNote = note
	}
	return int64(len(list)), nil
}

func (m memSlots) UpdateMemberNote(_ context.Context, _ sqlx.ExtContext, slotID, studentID string, note *string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	list := m.db.members[slotID]
	for i := range list {
		if list[i].StudentID == studentID {
			list[i].Note = note
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m memSlots) DeleteMemberships(_ context.Context, _ sqlx.ExtContext, slotIDs []string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var n int64
	for _, id := range slotIDs {
		n += int64(len(m.db.members[id]))
		delete(m.db.members, id)
	}
	return n, nil
}

type memOccurrences struct{ db *memDB }

func (m memOccurrences) GetByKey(_ context.Context, _ sqlx.ExtContext, key models.OccurrenceKey) (*models.OccurrenceRecord, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, r := range m.db.occurrences {
		if r.FixedSlotID == key.FixedSlotID && r.Date.Equal(key.Date) {
			c := *r
			c.Attendance = append(models.AttendanceList(nil), r.Attendance...)
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memOccurrences) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.OccurrenceRecord, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.occurrences[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *r
	c.Attendance = append(models.AttendanceList(nil), r.Attendance...)
	return &c, nil
}

func (m memOccurrences) ListInRange(_ context.Context, from, to time.Time) ([]models.OccurrenceRecord, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.OccurrenceRecord
	for _, r := range m.db.occurrences {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m memOccurrences) Save(_ context.Context, _ sqlx.ExtContext, rec *models.OccurrenceRecord) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for id, r := range m.db.occurrences {
		if r.FixedSlotID == rec.FixedSlotID && r.Date.Equal(rec.Date) {
			rec.ID = id
			break
		}
	}
	if rec.ID == "" {
		rec.ID = m.db.nextID("occ")
	}
	c := *rec
	c.Attendance = append(models.AttendanceList(nil), rec.Attendance...)
	m.db.occurrences[c.ID] = &c
	return nil
}

func (m memOccurrences) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.occurrences[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.db.occurrences, id)
	return nil
}

type memAbsences struct{ db *memDB }

func (m memAbsences) Create(_ context.Context, _ sqlx.ExtContext, notice *models.AbsenceNotice) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if notice.ID == "" {
		notice.ID = m.db.nextID("abs")
	}
	if notice.Status == "" {
		notice.Status = models.AbsencePending
	}
	c := *notice
	m.db.absences[c.ID] = &c
	return nil
}

func (m memAbsences) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.AbsenceNotice, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n, ok := m.db.absences[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *n
	return &c, nil
}

func (m memAbsences) FindOpen(_ context.Context, _ sqlx.ExtContext, studentID string, key models.OccurrenceKey) (*models.AbsenceNotice, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, n := range m.db.absences {
		if n.StudentID == studentID && n.FixedSlotID == key.FixedSlotID && n.Date.Equal(key.Date) && n.Status.Open() {
			c := *n
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memAbsences) FindByCredit(_ context.Context, _ sqlx.ExtContext, creditID string) (*models.AbsenceNotice, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, n := range m.db.absences {
		if n.CreditID != nil && *n.CreditID == creditID {
			c := *n
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memAbsences) List(_ context.Context, _ sqlx.ExtContext, filter models.AbsenceFilter) ([]models.AbsenceNotice, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.AbsenceNotice
	for _, n := range m.db.absences {
		if filter.StudentID != "" && n.StudentID != filter.StudentID {
			continue
		}
		if filter.FixedSlotID != "" && n.FixedSlotID != filter.FixedSlotID {
			continue
		}
		if filter.From != nil && n.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && n.Date.After(*filter.To) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, n.Status) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsStatus[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m memAbsences) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, from, to models.AbsenceStatus, creditID *string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n, ok := m.db.absences[id]
	if !ok || n.Status != from {
		return sql.ErrNoRows
	}
	n.Status = to
	n.CreditID = creditID
	return nil
}

type memCredits struct{ db *memDB }

func (m memCredits) Create(_ context.Context, _ sqlx.ExtContext, credit *models.Credit) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if credit.ID == "" {
		credit.ID = m.db.nextID("cr")
	}
	c := *credit
	c.Redemptions = nil
	m.db.credits[c.ID] = &c
	return nil
}

func (m memCredits) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Credit, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.credits[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (m memCredits) List(_ context.Context, _ sqlx.ExtContext, filter models.CreditFilter) ([]models.Credit, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Credit
	for _, c := range m.db.credits {
		if filter.StudentID != "" && c.StudentID != filter.StudentID {
			continue
		}
		if filter.Source != "" && c.Source != filter.Source {
			continue
		}
		if filter.SourceOccurrenceID != "" && (c.SourceOccurrenceID == nil || *c.SourceOccurrenceID != filter.SourceOccurrenceID) {
			continue
		}
		if filter.OnlyRedeemable && (c.QuantityUsed >= c.Quantity || c.ValidUntil.Before(filter.Today)) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memCredits) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.credits[id]
	if !ok || c.QuantityUsed > 0 {
		return sql.ErrNoRows
	}
	delete(m.db.credits, id)
	return nil
}

func (m memCredits) IncrementUsed(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.credits[id]
	if !ok || c.QuantityUsed >= c.Quantity {
		return sql.ErrNoRows
	}
	c.QuantityUsed++
	return nil
}

func (m memCredits) DecrementUsed(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.credits[id]
	if !ok || c.QuantityUsed == 0 {
		return sql.ErrNoRows
	}
	c.QuantityUsed--
	return nil
}

func (m memCredits) CreateRedemption(_ context.Context, _ sqlx.ExtContext, red *models.CreditRedemption) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if red.ID == "" {
		red.ID = m.db.nextID("red")
	}
	c := *red
	m.db.redemptions[c.ID] = &c
	return nil
}

func (m memCredits) GetRedemption(_ context.Context, _ sqlx.ExtContext, id string) (*models.CreditRedemption, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.redemptions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *r
	return &c, nil
}

func (m memCredits) DeleteRedemption(_ context.Context, _ sqlx.ExtContext, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.redemptions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.db.redemptions, id)
	return nil
}

func (m memCredits) ListRedemptions(_ context.Context, _ sqlx.ExtContext, filter models.RedemptionFilter) ([]models.CreditRedemption, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.CreditRedemption
	for _, r := range m.db.redemptions {
		if filter.CreditID != "" && r.CreditID != filter.CreditID {
			continue
		}
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			continue
		}
		if filter.FixedSlotID != "" && r.FixedSlotID != filter.FixedSlotID {
			continue
		}
		if filter.Date != nil && !r.Date.Equal(*filter.Date) {
			continue
		}
		if filter.From != nil && r.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.Date.After(*filter.To) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memReschedules struct{ db *memDB }

func (m memReschedules) Create(_ context.Context, _ sqlx.ExtContext, req *models.RescheduleRequest) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if req.ID == "" {
		req.ID = m.db.nextID("rs")
	}
	if req.Status == "" {
		req.Status = models.ReschedulePending
	}
	c := *req
	m.db.reschedules[c.ID] = &c
	return nil
}

func (m memReschedules) GetByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.RescheduleRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reschedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *r
	return &c, nil
}

func (m memReschedules) List(_ context.Context, _ sqlx.ExtContext, filter models.RescheduleFilter) ([]models.RescheduleRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.RescheduleRequest
	for _, r := range m.db.reschedules {
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, r.Status) {
			continue
		}
		if filter.Source != nil && (r.SourceFixedSlotID != filter.Source.FixedSlotID || !r.SourceDate.Equal(filter.Source.Date)) {
			continue
		}
		if filter.Target != nil && (r.TargetFixedSlotID != filter.Target.FixedSlotID || !r.TargetDate.Equal(filter.Target.Date)) {
			continue
		}
		if filter.TargetSlotID != "" && r.TargetFixedSlotID != filter.TargetSlotID {
			continue
		}
		if filter.From != nil && r.SourceDate.Before(*filter.From) && r.TargetDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.SourceDate.After(*filter.To) && r.TargetDate.After(*filter.To) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memReschedules) Review(_ context.Context, _ sqlx.ExtContext, params repository.ReviewParams) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.reschedules[params.ID]
	if !ok || r.Status != models.ReschedulePending {
		return sql.ErrNoRows
	}
	r.Status = params.Status
	reviewer := params.ReviewedBy
	at := params.ReviewedAt
	r.ReviewedBy = &reviewer
	r.ReviewedAt = &at
	r.ReviewNote = params.Note
	return nil
}

type memRoster struct{ db *memDB }

func (m memRoster) GetStudent(_ context.Context, _ sqlx.ExtContext, id string) (*models.Student, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m memRoster) ListStudents(_ context.Context) ([]models.Student, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Student
	for _, s := range m.db.students {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (m memRoster) CreateStudent(_ context.Context, _ sqlx.ExtContext, student *models.Student) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if student.ID == "" {
		student.ID = m.db.nextID("stu")
	}
	student.Active = true
	c := *student
	m.db.students[c.ID] = &c
	return nil
}

func (m memRoster) GetModality(_ context.Context, _ sqlx.ExtContext, id string) (*models.Modality, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	mod, ok := m.db.modalities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *mod
	return &c, nil
}

func (m memRoster) ListHolidays(_ context.Context, from, to time.Time) ([]models.Holiday, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Holiday
	for _, h := range m.db.holidays {
		if h.Date.Before(from) || h.Date.After(to) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// memTx runs fn directly; the advisory locker is a no-op without an exec.
type memTx struct{}

func (memTx) WithinTx(ctx context.Context, fn database.TxFunc) error {
	return fn(ctx, nil)
}

var _ slotStore = memSlots{}
var _ occurrenceStore = memOccurrences{}
var _ absenceStore = memAbsences{}
var _ creditStore = memCredits{}
var _ rescheduleStore = memReschedules{}
var _ rosterStore = memRoster{}

// cacheRecorder always misses and counts invalidations.
type cacheRecorder struct {
	mu            sync.Mutex
	invalidations int
}

func (c *cacheRecorder) Get(context.Context, string, interface{}) error {
	return appErrors.ErrCacheMiss
}

func (c *cacheRecorder) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (c *cacheRecorder) DeleteByPattern(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	return nil
}

func (c *cacheRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}

// engineFixture wires every engine service over one memDB.
type engineFixture struct {
	db          *memDB
	cache       *cacheRecorder
	clock       *time.Time
	cfg         EngineConfig
	guard       *CapacityGuard
	slots       *SlotService
	resolver    *OccurrenceResolver
	attendance  *AttendanceService
	absences    *AbsenceService
	credits     *CreditService
	reschedules *RescheduleService
}

// fixtureNow is Sunday 2025-03-09 12:00 UTC.
var fixtureNow = time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)

func date(raw string) time.Time {
	d, err := models.ParseDate(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(v int) *int { return &v }

func newEngineFixture(t *testing.T, now time.Time) *engineFixture {
	t.Helper()
	db := newMemDB()
	clock := new(time.Time)
	*clock = now
	cfg := EngineConfig{
		Now:           func() time.Time { return *clock },
		Location:      time.UTC,
		PlatformStart: date("2025-01-01"),
	}.withDefaults()
	cache := &cacheRecorder{}
	deps := EngineDeps{
		Slots:       memSlots{db},
		Occurrences: memOccurrences{db},
		Absences:    memAbsences{db},
		Credits:     memCredits{db},
		Reschedules: memReschedules{db},
		Roster:      memRoster{db},
		Locks:       repository.NewLockRepository(),
		Tx:          memTx{},
		Cache:       NewCacheService(cache, nil, 0, zap.NewNop(), true),
		Config:      cfg,
		Logger:      zap.NewNop(),
	}
	engine := NewEngine(deps)
	return &engineFixture{
		db:          db,
		cache:       cache,
		clock:       clock,
		cfg:         cfg,
		guard:       engine.Guard,
		slots:       engine.Slots,
		resolver:    engine.Resolver,
		attendance:  engine.Attendance,
		absences:    engine.Absences,
		credits:     engine.Credits,
		reschedules: engine.Reschedules,
	}
}

// setNow moves the fixture clock. Not safe while services run concurrently.
func (f *engineFixture) setNow(now time.Time) {
	*f.clock = now
}

func admin() Actor {
	return Actor{ID: "admin-1", Role: models.RoleAdmin}
}

func studentActor(id string) Actor {
	return Actor{ID: id, Role: models.RoleStudent}
}
