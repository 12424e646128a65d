package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/medportal/portal/internal/domain/identity"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/internal/platform/db"
	"github.com/medportal/portal/internal/platform/lock"
	"github.com/medportal/portal/internal/platform/notification"
)

// -- In-memory store backing both repositories --

type memStore struct {
	mu       sync.Mutex
	appts    map[int64]*Appointment
	notes    []*Notification
	nextAppt int64
	nextNote int64
	doctors  map[int64]bool

	scheduleErr   error
	scheduleZero  bool
	deletePending error
	listErr       error
	afterListing  func()

	scheduleCalls int
	writes        int
}

func newMemStore() *memStore {
	return &memStore{
		appts:    map[int64]*Appointment{},
		nextAppt: 1000,
		nextNote: 1,
		doctors:  map[int64]bool{5: true, 6: true},
	}
}

type snapshot struct {
	appts    map[int64]Appointment
	notes    []Notification
	nextAppt int64
	nextNote int64
	writes   int
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{appts: map[int64]Appointment{}, nextAppt: s.nextAppt, nextNote: s.nextNote, writes: s.writes}
	for id, a := range s.appts {
		snap.appts[id] = *a
	}
	for _, n := range s.notes {
		snap.notes = append(snap.notes, *n)
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts = map[int64]*Appointment{}
	for id, a := range snap.appts {
		a := a
		s.appts[id] = &a
	}
	s.notes = nil
	for _, n := range snap.notes {
		n := n
		s.notes = append(s.notes, &n)
	}
	s.nextAppt, s.nextNote, s.writes = snap.nextAppt, snap.nextNote, snap.writes
}

func (s *memStore) seed(a Appointment) *Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.AppointmentID == 0 {
		s.nextAppt++
		a.AppointmentID = s.nextAppt
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	s.appts[a.AppointmentID] = &a
	return &a
}

func (s *memStore) seedNote(appointmentID int64, kind NotificationKind, sentAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := OutcomeFailed
	if sentAt != nil {
		status = OutcomeSent
	}
	s.notes = append(s.notes, &Notification{
		NotificationID: s.nextNote, AppointmentID: appointmentID, Kind: kind, Status: status, SentAt: sentAt,
	})
	s.nextNote++
}

func (s *memStore) status(id int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.appts[id]; ok {
		return a.Status
	}
	return ""
}

func (s *memStore) notesFor(id int64) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notes {
		if n.AppointmentID == id {
			out = append(out, *n)
		}
	}
	return out
}

func (s *memStore) pendingFor(id int64) int {
	count := 0
	for _, n := range s.notesFor(id) {
		if n.SentAt == nil {
			count++
		}
	}
	return count
}

type memAppointments struct{ s *memStore }

// Schedule emulates the procedure's FK check and doctor double-booking guard.
func (r memAppointments) Schedule(_ context.Context, patientID, doctorID int64, date, clock string) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleCalls++
	if s.scheduleErr != nil {
		return 0, s.scheduleErr
	}
	if s.scheduleZero {
		return 0, nil
	}
	if !s.doctors[doctorID] {
		return 0, &db.ProcedureError{Code: db.CodeForeignKeyViolation, SQLState: "23503",
			Message: "insert or update on table \"appointments\" violates foreign key constraint"}
	}
	for _, a := range s.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Time == clock && a.Status != StatusCancelled {
			return 0, &db.ProcedureError{Code: CodeDoctorBusy, SQLState: "50002",
				Message: "Doctor already has an appointment at this time"}
		}
	}
	s.nextAppt++
	s.writes++
	s.appts[s.nextAppt] = &Appointment{
		AppointmentID: s.nextAppt, PatientID: patientID, DoctorID: doctorID,
		Date: date, Time: clock, Status: StatusScheduled, CreatedAt: time.Now(),
	}
	return s.nextAppt, nil
}

func (r memAppointments) GetByID(_ context.Context, id int64) (*Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAppointments) GetForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r memAppointments) SetStatus(_ context.Context, id int64, status Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appts[id]
	if !ok {
		return false, nil
	}
	a.Status = status
	r.s.writes++
	return true, nil
}

func (r memAppointments) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.listErr != nil {
		return nil, 0, r.s.listErr
	}
	var all []*Appointment
	for _, a := range r.s.appts {
		if f.PatientID != 0 && a.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AppointmentID < all[j].AppointmentID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r memAppointments) ReminderCandidates(_ context.Context, date string, since time.Time) ([]*Appointment, error) {
	r.s.mu.Lock()
	var out []*Appointment
	for _, a := range r.s.appts {
		if a.Status != StatusScheduled || a.Date != date {
			continue
		}
		recent := false
		for _, n := range r.s.notes {
			if n.AppointmentID == a.AppointmentID && n.Status == OutcomeSent && n.SentAt != nil && !n.SentAt.Before(since) {
				recent = true
			}
		}
		if !recent {
			cp := *a
			out = append(out, &cp)
		}
	}
	hook := r.s.afterListing
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	if hook != nil {
		hook()
	}
	return out, nil
}

type memNotifications struct{ s *memStore }

func (r memNotifications) Insert(_ context.Context, n *Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appts[n.AppointmentID]
	if !ok {
		return false, nil
	}
	if n.SentAt == nil && a.Status == StatusCancelled {
		return false, nil
	}
	cp := *n
	cp.NotificationID = r.s.nextNote
	cp.CreatedAt = time.Now()
	r.s.nextNote++
	r.s.notes = append(r.s.notes, &cp)
	r.s.writes++
	n.NotificationID = cp.NotificationID
	return true, nil
}

func (r memNotifications) DeletePending(_ context.Context, appointmentID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.deletePending != nil {
		return 0, r.s.deletePending
	}
	var kept []*Notification
	var purged int64
	for _, n := range r.s.notes {
		if n.AppointmentID == appointmentID && n.SentAt == nil {
			purged++
			continue
		}
		kept = append(kept, n)
	}
	r.s.notes = kept
	if purged > 0 {
		r.s.writes++
	}
	return purged, nil
}

func (r memNotifications) ListByAppointment(_ context.Context, appointmentID int64) ([]*Notification, error) {
	var out []*Notification
	for _, n := range r.s.notesFor(appointmentID) {
		n := n
		out = append(out, &n)
	}
	return out, nil
}

// mockTx restores the store when fn fails, standing in for a rollback.
type mockTx struct {
	s       *memStore
	commits int
	rolled  int
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.s.snapshot()
	if err := fn(ctx); err != nil {
		m.s.restore(snap)
		m.rolled++
		return err
	}
	m.commits++
	return nil
}

// -- Identity --

type identityRepo struct {
	patients map[int64]*identity.Patient
	doctors  map[int64]*identity.Doctor
}

func newIdentityRepo() *identityRepo {
	return &identityRepo{
		patients: map[int64]*identity.Patient{
			7: {PatientID: 7, UserID: 100, FirstName: "Jane", LastName: "Roe", Email: "jane@example.com"},
			8: {PatientID: 8, UserID: 101, FirstName: "John", LastName: "Doe", Email: "john@example.com"},
			9: {PatientID: 9, UserID: 102, FirstName: "No", LastName: "Email"},
		},
		doctors: map[int64]*identity.Doctor{
			5: {DoctorID: 5, UserID: 200, FirstName: "Gregory", LastName: "House", Email: "house@example.com"},
			6: {DoctorID: 6, UserID: 201, FirstName: "Lisa", LastName: "Cuddy", Email: "cuddy@example.com"},
		},
	}
}

func (r *identityRepo) PatientIDForUser(_ context.Context, userID int64) (int64, error) {
	for _, p := range r.patients {
		if p.UserID == userID {
			return p.PatientID, nil
		}
	}
	return 0, identity.ErrNotFound
}

func (r *identityRepo) DoctorIDForUser(_ context.Context, userID int64) (int64, error) {
	for _, d := range r.doctors {
		if d.UserID == userID {
			return d.DoctorID, nil
		}
	}
	return 0, identity.ErrNotFound
}

func (r *identityRepo) GetPatient(_ context.Context, id int64) (*identity.Patient, error) {
	if p, ok := r.patients[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

func (r *identityRepo) GetDoctor(_ context.Context, id int64) (*identity.Doctor, error) {
	if d, ok := r.doctors[id]; ok {
		return d, nil
	}
	return nil, identity.ErrNotFound
}

var (
	janePatient  = &auth.Principal{UserID: 100, Role: auth.RolePatient}
	johnPatient  = &auth.Principal{UserID: 101, Role: auth.RolePatient}
	noEmailUser  = &auth.Principal{UserID: 102, Role: auth.RolePatient}
	houseDoctor  = &auth.Principal{UserID: 200, Role: auth.RoleProvider}
	cuddyDoctor  = &auth.Principal{UserID: 201, Role: auth.RoleProvider}
	orphanDoctor = &auth.Principal{UserID: 999, Role: auth.RoleProvider}
)

// -- Fixture --

type fixture struct {
	store  *memStore
	tx     *mockTx
	mailer *notification.MockNotifier
	svc    *Service
	sweep  *ReminderSweep
	now    time.Time
}

var clinicTZ = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func newFixture(t *testing.T, policyName string) *fixture {
	t.Helper()
	store := newMemStore()
	appts := memAppointments{s: store}
	notes := memNotifications{s: store}
	dir := identity.NewResolver(newIdentityRepo())
	mailer := &notification.MockNotifier{}
	logger := zerolog.Nop()

	// 2025-09-01 09:00 in the clinic zone; "tomorrow" is 2025-09-02.
	now := time.Date(2025, 9, 1, 9, 0, 0, 0, clinicTZ)

	recorder := NewRecorder(notes, logger)
	recorder.now = func() time.Time { return now }
	dispatch := NewDispatcher(dir, mailer, notification.NewTemplateEngine(), recorder, clinicTZ, logger)

	policy, err := NewStatusPolicy(policyName, dir)
	if err != nil {
		t.Fatalf("NewStatusPolicy(%q): %v", policyName, err)
	}
	tx := &mockTx{s: store}
	svc := NewService(appts, notes, tx, dir, dispatch, policy, logger)

	sweep := NewReminderSweep(appts, dispatch, lock.NoopLocker{}, SweepConfig{Window: 24 * time.Hour, Location: clinicTZ}, logger)
	sweep.now = func() time.Time { return now }

	return &fixture{store: store, tx: tx, mailer: mailer, svc: svc, sweep: sweep, now: now}
}

func (f *fixture) emailsTo(addr, subject string) int {
	count := 0
	for _, c := range f.mailer.Calls() {
		if c.To == addr && (subject == "" || c.Subject == subject) {
			count++
		}
	}
	return count
}

var errBoom = errors.New("boom")
