package scheduling

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/pkg/pagination"
)

type published struct {
	topic     string
	eventType string
	data      interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(topic, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic, eventType, data})
}

func newTestService(t *testing.T, capacity int) (*Service, *MemStore, *Doctor, *Schedule, *recordingPublisher) {
	t.Helper()
	store, doc, sched := newTestLedger(t, capacity)
	svc := NewService(store, store.Doctors(), zerolog.Nop())
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	return svc, store, doc, sched, pub
}

func TestService_AddSchedule_Validation(t *testing.T) {
	svc, _, doc, _, _ := newTestService(t, 1)
	ctx := context.Background()

	tests := []struct {
		name  string
		sched Schedule
		want  error
	}{
		{"end before start", Schedule{DoctorID: doc.ID, Start: at10, End: at900, Capacity: 1}, ErrInvalidWindow},
		{"empty window", Schedule{DoctorID: doc.ID, Start: at900, End: at900, Capacity: 1}, ErrInvalidWindow},
		{"zero capacity", Schedule{DoctorID: doc.ID, Start: at900, End: at10, Capacity: 0}, ErrInvalidCapacity},
		{"negative capacity", Schedule{DoctorID: doc.ID, Start: at900, End: at10, Capacity: -3}, ErrInvalidCapacity},
		{"capacity above integer column", Schedule{DoctorID: doc.ID, Start: at900, End: at10, Capacity: math.MaxInt32 + 1}, ErrInvalidCapacity},
		{"missing doctor id", Schedule{Start: at900, End: at10, Capacity: 1}, ErrInvalidID},
		{"unknown doctor", Schedule{DoctorID: 404, Start: at900, End: at10, Capacity: 1}, ErrDoctorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.sched
			if err := svc.AddSchedule(ctx, &s); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	ok := &Schedule{DoctorID: doc.ID, Start: at10, End: at10.Add(time.Hour), Capacity: 3, Note: "  afternoon  "}
	if err := svc.AddSchedule(ctx, ok); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if ok.ID == 0 || ok.Note != "afternoon" {
		t.Errorf("unexpected stored schedule %+v", ok)
	}
}

func TestService_Doctors(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, 1)
	ctx := context.Background()

	if err := svc.AddDoctor(ctx, &Doctor{Name: "   "}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	d := &Doctor{Name: " Li Na ", Dept: "Pediatrics"}
	if err := svc.AddDoctor(ctx, d); err != nil {
		t.Fatalf("AddDoctor: %v", err)
	}
	if d.Name != "Li Na" {
		t.Errorf("expected trimmed name, got %q", d.Name)
	}

	if err := svc.UpdateDoctor(ctx, &Doctor{Name: "x"}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if err := svc.UpdateDoctor(ctx, &Doctor{ID: d.ID, Name: "Li Na", Dept: "Neurology", Info: "chief"}); err != nil {
		t.Fatalf("UpdateDoctor: %v", err)
	}
	got, err := svc.GetDoctor(ctx, d.ID)
	if err != nil || got.Dept != "Neurology" || got.Info != "chief" {
		t.Fatalf("unexpected doctor %+v, %v", got, err)
	}

	items, total, err := svc.ListDoctors(ctx, pagination.New(0, 0))
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("ListDoctors: total=%d len=%d err=%v", total, len(items), err)
	}
}

func TestService_BookPublishesAvailability(t *testing.T) {
	svc, _, doc, sched, pub := newTestService(t, 2)
	ctx := context.Background()

	res, err := svc.Book(ctx, doc.ID, "alice", "", at930)
	if err != nil || res.Outcome != Admitted {
		t.Fatalf("Book: %s %v", res.Outcome, err)
	}
	if res.Appointment.PatientDisplayName != "alice" {
		t.Errorf("expected display name to default to identity, got %q", res.Appointment.PatientDisplayName)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.topic != ScheduleTopic(sched.ID) || ev.eventType != EventAvailabilityChanged {
		t.Errorf("unexpected event %+v", ev)
	}
	avail, ok := ev.data.(*Availability)
	if !ok || avail.Booked != 1 || avail.Available != 1 {
		t.Errorf("unexpected payload %#v", ev.data)
	}

	// Rejections do not notify.
	if res, _ := svc.Book(ctx, doc.ID, "alice", "Alice", at930); res.Outcome != PatientConflict {
		t.Fatalf("expected PatientConflict, got %s", res.Outcome)
	}
	if len(pub.events) != 1 {
		t.Errorf("expected no event for a rejected booking, got %d", len(pub.events))
	}
}

func TestService_BookValidation(t *testing.T) {
	svc, _, doc, _, _ := newTestService(t, 2)
	ctx := context.Background()

	if _, err := svc.Book(ctx, 0, "alice", "", at930); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if _, err := svc.Book(ctx, doc.ID, "  ", "", at930); !errors.Is(err, ErrPatientRequired) {
		t.Errorf("expected ErrPatientRequired, got %v", err)
	}
}

func TestService_CancelOwnership(t *testing.T) {
	svc, _, doc, _, pub := newTestService(t, 2)
	ctx := context.Background()

	res, err := svc.Book(ctx, doc.ID, "alice", "Alice", at930)
	if err != nil || res.Outcome != Admitted {
		t.Fatalf("Book: %s %v", res.Outcome, err)
	}
	id := res.Appointment.ID

	if err := svc.Cancel(ctx, "bob", false, id); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := svc.Cancel(ctx, "alice", false, id); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if err := svc.Cancel(ctx, "alice", false, id); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound on second cancel, got %v", err)
	}
	if len(pub.events) != 2 {
		t.Errorf("expected book and cancel events, got %d", len(pub.events))
	}

	res, _ = svc.Book(ctx, doc.ID, "carol", "Carol", at930)
	if err := svc.Cancel(ctx, "root", true, res.Appointment.ID); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestService_ScheduleReport(t *testing.T) {
	svc, _, doc, sched, _ := newTestService(t, 2)
	ctx := context.Background()

	later := &Schedule{DoctorID: doc.ID, Start: at10, End: at10.Add(time.Hour), Capacity: 4}
	if err := svc.AddSchedule(ctx, later); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := svc.Book(ctx, doc.ID, "alice", "Alice", at930); err != nil {
		t.Fatalf("Book: %v", err)
	}

	report, err := svc.ScheduleReport(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ScheduleReport: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(report))
	}
	if report[0].Schedule.ID != sched.ID || report[0].Availability.Booked != 1 {
		t.Errorf("unexpected first row %+v %+v", report[0].Schedule, report[0].Availability)
	}
	if report[1].Availability.Available != 4 {
		t.Errorf("unexpected second row %+v", report[1].Availability)
	}

	if _, err := svc.ScheduleReport(ctx, 404); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsNotFound(ErrScheduleNotFound) || IsNotFound(ErrInvalidWindow) {
		t.Error("IsNotFound misclassifies")
	}
	if !IsValidation(ErrInvalidCapacity) || IsValidation(ErrNotOwner) {
		t.Error("IsValidation misclassifies")
	}
}

type accountSet map[string]bool

func (a accountSet) AccountExists(_ context.Context, username string) (bool, error) {
	return a[username], nil
}

func TestService_ReleasePatient(t *testing.T) {
	svc, store, doc, sched, pub := newTestService(t, 2)
	ctx := context.Background()

	later := &Schedule{DoctorID: doc.ID, Start: at10, End: at10.Add(time.Hour), Capacity: 1}
	if err := svc.AddSchedule(ctx, later); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	for _, b := range []struct {
		patient string
		at      time.Time
	}{{"alice", at930}, {"alice", at10}, {"bob", at930}} {
		if res, err := svc.Book(ctx, doc.ID, b.patient, b.patient, b.at); err != nil || res.Outcome != Admitted {
			t.Fatalf("Book(%s): %s %v", b.patient, res.Outcome, err)
		}
	}
	pub.events = nil

	var ranInside bool
	n, err := svc.ReleasePatient(ctx, "alice", func(ctx context.Context) error {
		ranInside = true
		return nil
	})
	if err != nil {
		t.Fatalf("ReleasePatient: %v", err)
	}
	if n != 2 || !ranInside {
		t.Fatalf("expected 2 released with fn run, got %d ran=%v", n, ranInside)
	}
	if left, _ := store.ListAppointmentsByPatient(ctx, "alice"); len(left) != 0 {
		t.Errorf("expected alice to hold nothing, got %d", len(left))
	}
	if left, _ := store.ListAppointmentsByPatient(ctx, "bob"); len(left) != 1 {
		t.Errorf("expected bob's appointment kept, got %d", len(left))
	}
	topics := map[string]bool{}
	for _, e := range pub.events {
		topics[e.topic] = true
	}
	if len(pub.events) != 2 || !topics[ScheduleTopic(sched.ID)] || !topics[ScheduleTopic(later.ID)] {
		t.Errorf("expected one event per affected schedule, got %+v", pub.events)
	}
}

func TestService_ReleasePatient_RollsBackWhenFnFails(t *testing.T) {
	svc, store, doc, _, _ := newTestService(t, 2)
	ctx := context.Background()

	if _, err := svc.Book(ctx, doc.ID, "alice", "Alice", at930); err != nil {
		t.Fatalf("Book: %v", err)
	}
	sentinel := errors.New("account removal failed")
	if _, err := svc.ReleasePatient(ctx, "alice", func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if left, _ := store.ListAppointmentsByPatient(ctx, "alice"); len(left) != 1 {
		t.Errorf("expected the appointment to survive the failed release, got %d", len(left))
	}
}

func TestService_BookRequiresExistingAccount(t *testing.T) {
	svc, _, doc, _, _ := newTestService(t, 2)
	svc.SetAccounts(accountSet{"alice": true})
	ctx := context.Background()

	if res, err := svc.Book(ctx, doc.ID, "alice", "Alice", at930); err != nil || res.Outcome != Admitted {
		t.Fatalf("Book(alice): %s %v", res.Outcome, err)
	}
	if _, err := svc.Book(ctx, doc.ID, "ghost", "Ghost", at930); !errors.Is(err, ErrUnknownPatient) {
		t.Fatalf("expected ErrUnknownPatient, got %v", err)
	}
	var de *dispatch.Error
	if !errors.As(mapError(ErrUnknownPatient), &de) || de.Code != dispatch.CodeAuthRequired {
		t.Errorf("expected AUTH_REQUIRED, got %v", de)
	}
}
