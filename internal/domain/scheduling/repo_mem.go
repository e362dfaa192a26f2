package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/habms/habms/pkg/pagination"
)

// MemStore is an in-process Ledger and DoctorRepository used with
// STORE=memory and in tests. Appointment writes made inside InTx are staged
// on the transaction and applied together on commit; reads inside the
// transaction see the staged writes. Doctor and schedule writes apply
// immediately.
type MemStore struct {
	mu        sync.RWMutex
	doctors   map[int64]*Doctor
	schedules map[int64]*Schedule
	appts     map[int64]*Appointment

	nextDoctor   int64
	nextSchedule int64
	nextAppt     atomic.Int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		doctors:   make(map[int64]*Doctor),
		schedules: make(map[int64]*Schedule),
		appts:     make(map[int64]*Appointment),
	}
}

type memTx struct {
	store   *MemStore
	inserts []*Appointment
	deletes map[int64]bool
}

type memTxKey struct{}

func (m *MemStore) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx == nil || tx.store != m {
		return nil
	}
	return tx
}

func (m *MemStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{store: m, deletes: make(map[int64]bool)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range tx.deletes {
		delete(m.appts, id)
	}
	for _, a := range tx.inserts {
		m.appts[a.ID] = a
	}
	return nil
}

// visibleAppointments returns copies of the appointments matching keep, as
// seen from ctx's transaction if there is one.
func (m *MemStore) visibleAppointments(ctx context.Context, keep func(*Appointment) bool) []*Appointment {
	tx := m.txFrom(ctx)

	m.mu.RLock()
	var out []*Appointment
	for id, a := range m.appts {
		if tx != nil && tx.deletes[id] {
			continue
		}
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	if tx != nil {
		for _, a := range tx.inserts {
			if keep(a) {
				cp := *a
				out = append(out, &cp)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func (m *MemStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	a.ID = m.nextAppt.Add(1)
	a.CreatedAt = time.Now()
	cp := *a

	if tx := m.txFrom(ctx); tx != nil {
		tx.inserts = append(tx.inserts, &cp)
		return nil
	}

	m.mu.Lock()
	m.appts[cp.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemStore) DeleteAppointment(ctx context.Context, id int64) (bool, error) {
	if tx := m.txFrom(ctx); tx != nil {
		for i, a := range tx.inserts {
			if a.ID == id {
				tx.inserts = append(tx.inserts[:i], tx.inserts[i+1:]...)
				return true, nil
			}
		}
		if tx.deletes[id] {
			return false, nil
		}
		m.mu.RLock()
		_, ok := m.appts[id]
		m.mu.RUnlock()
		if ok {
			tx.deletes[id] = true
		}
		return ok, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return false, nil
	}
	delete(m.appts, id)
	return true, nil
}

func (m *MemStore) DeleteAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error) {
	owned := m.visibleAppointments(ctx, func(a *Appointment) bool { return a.PatientIdentity == patient })
	for _, a := range owned {
		if _, err := m.DeleteAppointment(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return owned, nil
}

func (m *MemStore) CountAppointmentsInRange(ctx context.Context, doctorID int64, start, end time.Time) (int, error) {
	return len(m.visibleAppointments(ctx, func(a *Appointment) bool {
		return a.DoctorID == doctorID && inRange(a.Time, start, end)
	})), nil
}

func (m *MemStore) FindAppointmentForPatientInRange(ctx context.Context, patient string, start, end time.Time) (bool, error) {
	return len(m.visibleAppointments(ctx, func(a *Appointment) bool {
		return a.PatientIdentity == patient && inRange(a.Time, start, end)
	})) > 0, nil
}

func (m *MemStore) FindScheduleContaining(_ context.Context, doctorID int64, t time.Time) (*Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Schedule
	for _, s := range m.schedules {
		if s.DoctorID != doctorID || !s.Contains(t) {
			continue
		}
		if best == nil || s.ID < best.ID {
			best = s
		}
	}
	if best == nil {
		return nil, false, nil
	}
	cp := *best
	return &cp, true, nil
}

func (m *MemStore) CreateSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSchedule++
	s.ID = m.nextSchedule
	s.CreatedAt = time.Now()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemStore) GetSchedule(_ context.Context, id int64) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) ListSchedulesByDoctor(_ context.Context, doctorID int64, limit, offset int) ([]*Schedule, int, error) {
	m.mu.RLock()
	var all []*Schedule
	for _, s := range m.schedules {
		if s.DoctorID == doctorID {
			cp := *s
			all = append(all, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, limit, offset), len(all), nil
}

func (m *MemStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	found := m.visibleAppointments(ctx, func(a *Appointment) bool { return a.ID == id })
	if len(found) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return found[0], nil
}

func (m *MemStore) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]*Appointment, error) {
	return m.visibleAppointments(ctx, func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *MemStore) ListAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error) {
	return m.visibleAppointments(ctx, func(a *Appointment) bool { return a.PatientIdentity == patient }), nil
}

// -- Doctors --

// Doctors returns a DoctorRepository view of the store.
func (m *MemStore) Doctors() DoctorRepository { return memDoctors{m} }

type memDoctors struct{ m *MemStore }

func (r memDoctors) Create(_ context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.nextDoctor++
	d.ID = r.m.nextDoctor
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	r.m.doctors[d.ID] = &cp
	return nil
}

func (r memDoctors) Update(_ context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	cur, ok := r.m.doctors[d.ID]
	if !ok {
		return ErrDoctorNotFound
	}
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = time.Now()
	cp := *d
	r.m.doctors[d.ID] = &cp
	return nil
}

func (r memDoctors) GetByID(_ context.Context, id int64) (*Doctor, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	d, ok := r.m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r memDoctors) List(_ context.Context, limit, offset int) ([]*Doctor, int, error) {
	all := r.filter(func(*Doctor) bool { return true })
	return page(all, limit, offset), len(all), nil
}

func (r memDoctors) SearchByName(_ context.Context, q string) ([]*Doctor, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return r.filter(func(d *Doctor) bool { return strings.Contains(strings.ToLower(d.Name), q) }), nil
}

func (r memDoctors) SearchByDept(_ context.Context, q string) ([]*Doctor, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	return r.filter(func(d *Doctor) bool { return strings.Contains(strings.ToLower(d.Dept), q) }), nil
}

func (r memDoctors) filter(keep func(*Doctor) bool) []*Doctor {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	var out []*Doctor
	for _, d := range r.m.doctors {
		if keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func page[T any](items []T, limit, offset int) []T {
	from, to := pagination.New(limit, offset).Window(len(items))
	if from == to {
		return nil
	}
	return items[from:to]
}
