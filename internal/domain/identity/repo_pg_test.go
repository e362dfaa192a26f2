package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/habms/habms/internal/domain/scheduling"
	"github.com/habms/habms/internal/platform/db/dbtest"
	"github.com/habms/habms/internal/platform/session"
)

func TestUserRepoPG_CRUD(t *testing.T) {
	repo := NewUserRepoPG(dbtest.Open(t))
	ctx := context.Background()

	u := &User{Username: "alice", PasswordHash: "hash", Role: session.RolePatient, FullName: "Alice", Phone: "555-0100"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.CreatedAt.IsZero() {
		t.Error("expected created_at to be returned")
	}
	if err := repo.Create(ctx, &User{Username: "alice", PasswordHash: "x", Role: session.RolePatient}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	u.FullName = "Alice Liddell"
	u.Phone = "555-0199"
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName != "Alice Liddell" || got.Phone != "555-0199" || got.Role != session.RolePatient {
		t.Errorf("unexpected user %+v", got)
	}

	if err := repo.Delete(ctx, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound on second delete, got %v", err)
	}
	if err := repo.Update(ctx, u); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound on update, got %v", err)
	}
	if _, err := repo.GetByUsername(ctx, "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeleteAccount_PGReleasesAppointments(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()

	users := newServiceWithCost(NewUserRepoPG(pool), bcrypt.MinCost)
	sched := scheduling.NewService(scheduling.NewLedgerPG(pool), scheduling.NewDoctorRepoPG(pool), zerolog.Nop())
	users.SetReleaser(sched)
	sched.SetAccounts(users)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	doc := &scheduling.Doctor{Name: "Dr. Chen", Dept: "General"}
	if err := sched.AddDoctor(ctx, doc); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	if err := sched.AddSchedule(ctx, &scheduling.Schedule{
		DoctorID: doc.ID, Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour), Capacity: 3,
	}); err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	registerAlice(t, users)
	res, err := sched.Book(ctx, doc.ID, "alice", "Alice Original", day.Add(10*time.Hour))
	if err != nil || res.Outcome != scheduling.Admitted {
		t.Fatalf("book: %s %v", res.Outcome, err)
	}

	if err := users.DeleteAccount(ctx, "alice"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := sched.Book(ctx, doc.ID, "alice", "Ghost", day.Add(11*time.Hour)); !errors.Is(err, scheduling.ErrUnknownPatient) {
		t.Fatalf("expected ErrUnknownPatient for a deleted account, got %v", err)
	}

	registerAlice(t, users)
	left, err := sched.ListAppointmentsByPatient(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected re-registered account to start empty, got %+v", left)
	}
	if err := sched.Cancel(ctx, "alice", false, res.Appointment.ID); !errors.Is(err, scheduling.ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}
