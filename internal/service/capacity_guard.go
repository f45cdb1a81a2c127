package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	appErrors "github.com/noah-isme/studio-portal-api/pkg/errors"
	"github.com/noah-isme/studio-portal-api/pkg/keylock"
)

// Room is the seat situation of one occurrence.
type Room struct {
	Occupancy int  `json:"occupancy"`
	Capacity  int  `json:"capacity"`
	Limited   bool `json:"limited"`
}

// HasRoom reports whether one more student fits.
func (r Room) HasRoom() bool {
	return !r.Limited || r.Occupancy < r.Capacity
}

// CapacityGuard serializes booking mutations per key and checks seats before
// the mutation commits. In-process callers are ordered by a keyed mutex; other
// replicas by Postgres advisory locks taken inside the same transaction.
type CapacityGuard struct {
	slots       slotStore
	roster      rosterStore
	reschedules rescheduleStore
	credits     creditStore
	locks       advisoryLocker
	tx          txRunner
	keys        *keylock.Locker
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewCapacityGuard constructs the guard.
func NewCapacityGuard(slots slotStore, roster rosterStore, reschedules rescheduleStore, credits creditStore, locks advisoryLocker, tx txRunner, metrics *MetricsService, logger *zap.Logger) *CapacityGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityGuard{
		slots:       slots,
		roster:      roster,
		reschedules: reschedules,
		credits:     credits,
		locks:       locks,
		tx:          tx,
		keys:        keylock.New(),
		metrics:     metrics,
		logger:      logger,
	}
}

// Booking is the serialized region handed to guarded callbacks.
type Booking struct {
	Exec  sqlx.ExtContext
	guard *CapacityGuard
	slots map[string]*models.FixedSlot
}

// Slot returns a slot loaded when the region was entered.
func (b *Booking) Slot(id string) *models.FixedSlot {
	return b.slots[id]
}

// Room computes occupancy and capacity of key inside the region.
func (b *Booking) Room(ctx context.Context, key models.OccurrenceKey) (Room, error) {
	slot := b.slots[key.FixedSlotID]
	if slot == nil {
		loaded, err := b.guard.loadSlot(ctx, b.Exec, key.FixedSlotID)
		if err != nil {
			return Room{}, err
		}
		slot = loaded
	}
	return b.guard.room(ctx, b.Exec, slot, key.Date)
}

// RequireRoom fails with SLOT_FULL when key has no free seat.
func (b *Booking) RequireRoom(ctx context.Context, key models.OccurrenceKey) error {
	room, err := b.Room(ctx, key)
	if err != nil {
		return err
	}
	if !room.HasRoom() {
		return appErrors.WithDetails(appErrors.ErrSlotFull, "", room)
	}
	return nil
}

// MembershipLimit returns the seat ceiling applied when enrolling members.
// Slots without a modality or slot capacity have no limit.
func (b *Booking) MembershipLimit(ctx context.Context, slot *models.FixedSlot) (int, bool, error) {
	return b.guard.configuredCapacity(ctx, b.Exec, slot)
}

// SerializeSlot runs fn holding the slot exclusively. Used by membership changes,
// which shift occupancy on every date of the slot.
func (g *CapacityGuard) SerializeSlot(ctx context.Context, op, slotID string, fn func(ctx context.Context, b *Booking) error) error {
	return g.SerializeSlots(ctx, op, []string{slotID}, nil, fn)
}

// SerializeSlots holds every slot plus the extra keys (such as a professor cell)
// exclusively. Slots are loaded into the booking before fn runs.
func (g *CapacityGuard) SerializeSlots(ctx context.Context, op string, slotIDs, extra []string, fn func(ctx context.Context, b *Booking) error) error {
	exclusive := append([]string(nil), extra...)
	for _, id := range slotIDs {
		exclusive = append(exclusive, slotKey(id))
	}
	return g.run(ctx, op, exclusive, nil, slotIDs, fn)
}

// SerializeOccurrences runs fn holding every key exclusively and their slots shared.
func (g *CapacityGuard) SerializeOccurrences(ctx context.Context, op string, keys []models.OccurrenceKey, fn func(ctx context.Context, b *Booking) error) error {
	exclusive := make([]string, 0, len(keys))
	shared := make([]string, 0, len(keys))
	slotIDs := make([]string, 0, len(keys))
	for _, k := range keys {
		exclusive = append(exclusive, occurrenceLockKey(k))
		shared = append(shared, slotKey(k.FixedSlotID))
		slotIDs = append(slotIDs, k.FixedSlotID)
	}
	return g.run(ctx, op, exclusive, shared, slotIDs, fn)
}

func (g *CapacityGuard) run(ctx context.Context, op string, exclusive, shared, slotIDs []string, fn func(ctx context.Context, b *Booking) error) error {
	exclusive = uniqueSorted(exclusive)
	shared = subtract(uniqueSorted(shared), exclusive)
	slotIDs = uniqueSorted(slotIDs)

	waitStart := time.Now()
	var unlocks []func()
	for _, k := range shared {
		unlocks = append(unlocks, g.keys.RLock(k))
	}
	for _, k := range exclusive {
		unlocks = append(unlocks, g.keys.Lock(k))
	}
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()
	waited := time.Since(waitStart)

	err := g.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		for _, k := range shared {
			if err := g.locks.Shared(ctx, exec, k); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire booking lock")
			}
		}
		for _, k := range exclusive {
			if err := g.locks.Exclusive(ctx, exec, k); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire booking lock")
			}
		}
		booking := &Booking{Exec: exec, guard: g, slots: make(map[string]*models.FixedSlot, len(slotIDs))}
		for _, id := range slotIDs {
			slot, err := g.loadSlot(ctx, exec, id)
			if err != nil {
				return err
			}
			booking.slots[id] = slot
		}
		return fn(ctx, booking)
	})

	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(appErrors.FromError(err).Code)
		if !appErrors.IsExpected(err) {
			g.logger.Error("guarded operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
	g.metrics.RecordGuarded(op, outcome, waited)
	return err
}

func (g *CapacityGuard) loadSlot(ctx context.Context, exec sqlx.ExtContext, id string) (*models.FixedSlot, error) {
	return fetchSlot(ctx, g.slots, exec, id)
}

// configuredCapacity resolves the modality seat limit, then the slot's own ceiling.
func (g *CapacityGuard) configuredCapacity(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot) (int, bool, error) {
	if slot.ModalityID != "" {
		modality, err := g.roster.GetModality(ctx, exec, slot.ModalityID)
		switch {
		case err == nil:
			if modality.Capacity != nil {
				return *modality.Capacity, true, nil
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modality")
		}
	}
	if slot.Capacity != nil {
		return *slot.Capacity, true, nil
	}
	return 0, false, nil
}

// CapacityOf returns the seat ceiling of slot on a date: the configured capacity,
// else the number of enrolled members.
func (g *CapacityGuard) CapacityOf(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot) (int, error) {
	capacity, limited, err := g.configuredCapacity(ctx, exec, slot)
	if err != nil {
		return 0, err
	}
	if limited {
		return capacity, nil
	}
	members, err := g.slots.ListMembers(ctx, exec, slot.ID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot members")
	}
	return len(members), nil
}

// Occupancy counts the students attending slot on date. A reschedule out only
// frees a seat its student still holds as a member.
func (g *CapacityGuard) Occupancy(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot, date time.Time) (int, error) {
	seats, err := g.participation().seats(ctx, exec, models.OccurrenceKey{FixedSlotID: slot.ID, Date: date})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, st := range seats {
		if st.Attending() {
			n++
		}
	}
	return n, nil
}

func (g *CapacityGuard) participation() participation {
	return participation{slots: g.slots, reschedules: g.reschedules, credits: g.credits}
}

func (g *CapacityGuard) room(ctx context.Context, exec sqlx.ExtContext, slot *models.FixedSlot, date time.Time) (Room, error) {
	capacity, err := g.CapacityOf(ctx, exec, slot)
	if err != nil {
		return Room{}, err
	}
	occupancy, err := g.Occupancy(ctx, exec, slot, date)
	if err != nil {
		return Room{}, err
	}
	return Room{Occupancy: occupancy, Capacity: capacity, Limited: true}, nil
}

// RoomAt reports the seat situation of key without taking locks.
func (g *CapacityGuard) RoomAt(ctx context.Context, key models.OccurrenceKey) (Room, error) {
	slot, err := g.loadSlot(ctx, nil, key.FixedSlotID)
	if err != nil {
		return Room{}, err
	}
	return g.room(ctx, nil, slot, key.Date)
}

func slotKey(id string) string {
	return "slot:" + id
}

func occurrenceLockKey(k models.OccurrenceKey) string {
	return "occ:" + k.String()
}

func cellKey(professorID string, day int, start string) string {
	return "cell:" + models.SlotSignature{ProfessorID: professorID, DayOfWeek: day, StartTime: start}.String()
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func subtract(in, remove []string) []string {
	if len(remove) == 0 {
		return in
	}
	drop := make(map[string]struct{}, len(remove))
	for _, v := range remove {
		drop[v] = struct{}{}
	}
	out := in[:0]
	for _, v := range in {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
