package scheduling

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/pagination"
)

type windowDay struct {
	windowID uuid.UUID
	date     string
}

func dayKey(windowID uuid.UUID, date time.Time) windowDay {
	return windowDay{windowID: windowID, date: date.Format(time.DateOnly)}
}

type memTxKey struct{}

// MemoryStore implements Store in process memory. Transactions are fully
// serialized; individual reads and writes outside a transaction take a
// separate data lock. Work done inside a failed transaction is not undone, so
// callers order their writes last.
type MemoryStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	windows      map[uuid.UUID]*ScheduleWindow
	appointments map[uuid.UUID]*Appointment
	versions     map[windowDay]int64
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:      make(map[uuid.UUID]*ScheduleWindow),
		appointments: make(map[uuid.UUID]*Appointment),
		versions:     make(map[windowDay]int64),
		now:          time.Now,
	}
}

func (s *MemoryStore) Windows() WindowRepository           { return (*memWindows)(s) }
func (s *MemoryStore) Appointments() AppointmentRepository { return (*memAppointments)(s) }

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func cloneWindow(w *ScheduleWindow) *ScheduleWindow {
	cp := *w
	return &cp
}

func cloneAppointment(a *Appointment) *Appointment {
	cp := *a
	if a.ScheduleWindowID != nil {
		id := *a.ScheduleWindowID
		cp.ScheduleWindowID = &id
	}
	return &cp
}

// =========== Windows ===========

type memWindows MemoryStore

func (r *memWindows) Create(_ context.Context, w *ScheduleWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = r.now().UTC()
	r.windows[w.ID] = cloneWindow(w)
	return nil
}

func (r *memWindows) GetByID(_ context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneWindow(w), nil
}

func (r *memWindows) GetForShare(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return r.GetByID(ctx, id)
}

func (r *memWindows) GetForUpdate(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return r.GetByID(ctx, id)
}

func (r *memWindows) filter(keep func(*ScheduleWindow) bool) []*ScheduleWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ScheduleWindow
	for _, w := range r.windows {
		if keep(w) {
			out = append(out, cloneWindow(w))
		}
	}
	slices.SortFunc(out, compareWindows)
	return out
}

func (r *memWindows) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	return r.filter(func(w *ScheduleWindow) bool { return w.DoctorID == doctorID }), nil
}

func (r *memWindows) ListByDoctorDay(_ context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleWindow, error) {
	return r.filter(func(w *ScheduleWindow) bool {
		return w.DoctorID == doctorID && w.DayOfWeek == day
	}), nil
}

func (r *memWindows) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.windows[id]; !ok {
		return ErrRecordNotFound
	}
	delete(r.windows, id)
	for k := range r.versions {
		if k.windowID == id {
			delete(r.versions, k)
		}
	}
	return nil
}

// LockDoctorDay is a no-op: memory transactions are already serialized.
func (r *memWindows) LockDoctorDay(context.Context, uuid.UUID, time.Weekday) error {
	return nil
}

// =========== Appointments ===========

type memAppointments MemoryStore

func (r *memAppointments) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = cloneAppointment(a)
	return nil
}

func (r *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneAppointment(a), nil
}

func (r *memAppointments) count(match func(*Appointment) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.appointments {
		if match(a) {
			n++
		}
	}
	return n
}

func onWindow(a *Appointment, windowID uuid.UUID) bool {
	return a.ScheduleWindowID != nil && *a.ScheduleWindowID == windowID
}

func (r *memAppointments) CountActive(_ context.Context, windowID uuid.UUID, date time.Time) (int, error) {
	return r.count(func(a *Appointment) bool {
		return onWindow(a, windowID) && a.SlotDate.Equal(date) && a.Status.ConsumesCapacity()
	}), nil
}

func (r *memAppointments) CountOpenByWindow(_ context.Context, windowID uuid.UUID) (int, error) {
	return r.count(func(a *Appointment) bool {
		return onWindow(a, windowID) && !a.Status.IsTerminal()
	}), nil
}

func (r *memAppointments) UpdateStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (*Appointment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, false, nil
	}
	a.Status = to
	a.UpdatedAt = r.now().UTC()
	return cloneAppointment(a), true, nil
}

func (r *memAppointments) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	r.mu.RLock()
	var all []*Appointment
	for _, a := range r.appointments {
		if f.Matches(a) {
			all = append(all, cloneAppointment(a))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *Appointment) int {
		if c := a.AppointmentDateTime.Compare(b.AppointmentDateTime); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (r *memAppointments) CountByStatus(_ context.Context, scope Scope) (map[BookingStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[BookingStatus]int, len(AllStatuses))
	for _, a := range r.appointments {
		if scope.Matches(a) {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (r *memAppointments) WindowDayVersion(_ context.Context, windowID uuid.UUID, date time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[dayKey(windowID, date)], nil
}

func (r *memAppointments) BumpWindowDayVersion(_ context.Context, windowID uuid.UUID, date time.Time, v int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dayKey(windowID, date)
	if r.versions[k] != v {
		return false, nil
	}
	r.versions[k] = v + 1
	return true, nil
}

func compareWindows(a, b *ScheduleWindow) int {
	if a.DayOfWeek != b.DayOfWeek {
		return int(a.DayOfWeek) - int(b.DayOfWeek)
	}
	if a.StartTime != b.StartTime {
		return int(a.StartTime) - int(b.StartTime)
	}
	return slices.Compare(a.ID[:], b.ID[:])
}
