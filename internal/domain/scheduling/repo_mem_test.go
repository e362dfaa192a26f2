package scheduling

import (
	"context"
	"errors"
	"testing"
)

func TestMemStore_TxCommitsStagedWrites(t *testing.T) {
	store, doc, sched := newTestLedger(t, 5)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context) error {
		if err := store.InsertAppointment(ctx, &Appointment{DoctorID: doc.ID, PatientIdentity: "A", Time: at930}); err != nil {
			return err
		}
		n, _ := store.CountAppointmentsInRange(ctx, doc.ID, sched.Start, sched.End)
		if n != 1 {
			t.Errorf("inside tx: expected staged insert to be visible, got %d", n)
		}
		outside, _ := store.CountAppointmentsInRange(context.Background(), doc.ID, sched.Start, sched.End)
		if outside != 0 {
			t.Errorf("outside tx: expected staged insert to be hidden, got %d", outside)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	n, _ := store.CountAppointmentsInRange(ctx, doc.ID, sched.Start, sched.End)
	if n != 1 {
		t.Fatalf("expected committed insert, got %d", n)
	}
}

func TestMemStore_TxRollsBackOnError(t *testing.T) {
	store, doc, sched := newTestLedger(t, 5)
	ctx := context.Background()
	existing := &Appointment{DoctorID: doc.ID, PatientIdentity: "B", Time: at930}
	if err := store.InsertAppointment(ctx, existing); err != nil {
		t.Fatalf("insert: %v", err)
	}

	boom := errors.New("boom")
	err := store.InTx(ctx, func(ctx context.Context) error {
		_ = store.InsertAppointment(ctx, &Appointment{DoctorID: doc.ID, PatientIdentity: "A", Time: at930})
		if existed, _ := store.DeleteAppointment(ctx, existing.ID); !existed {
			t.Error("expected committed row to be deletable inside tx")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	appts, _ := store.ListAppointmentsByDoctor(ctx, doc.ID)
	if len(appts) != 1 || appts[0].ID != existing.ID {
		t.Fatalf("expected only the original appointment, got %+v", appts)
	}
	n, _ := store.CountAppointmentsInRange(ctx, doc.ID, sched.Start, sched.End)
	if n != 1 {
		t.Fatalf("expected count 1 after rollback, got %d", n)
	}
}

func TestMemStore_TxDeleteStagedInsert(t *testing.T) {
	store, doc, _ := newTestLedger(t, 5)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context) error {
		a := &Appointment{DoctorID: doc.ID, PatientIdentity: "A", Time: at930}
		if err := store.InsertAppointment(ctx, a); err != nil {
			return err
		}
		existed, err := store.DeleteAppointment(ctx, a.ID)
		if err != nil || !existed {
			t.Errorf("expected staged row to be deleted, existed=%v err=%v", existed, err)
		}
		again, _ := store.DeleteAppointment(ctx, a.ID)
		if again {
			t.Error("second delete must report existed=false")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if appts, _ := store.ListAppointmentsByPatient(ctx, "A"); len(appts) != 0 {
		t.Fatalf("expected nothing committed, got %d rows", len(appts))
	}
}

func TestMemStore_NestedTxJoinsOuter(t *testing.T) {
	store, doc, _ := newTestLedger(t, 5)
	ctx := context.Background()

	err := store.InTx(ctx, func(outer context.Context) error {
		if err := store.InTx(outer, func(inner context.Context) error {
			return store.InsertAppointment(inner, &Appointment{DoctorID: doc.ID, PatientIdentity: "A", Time: at930})
		}); err != nil {
			return err
		}
		if appts, _ := store.ListAppointmentsByPatient(context.Background(), "A"); len(appts) != 0 {
			t.Error("inner InTx must not commit on its own")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if appts, _ := store.ListAppointmentsByPatient(ctx, "A"); len(appts) != 1 {
		t.Fatalf("expected 1 committed row, got %d", len(appts))
	}
}

func TestMemStore_GetAppointment(t *testing.T) {
	store, doc, _ := newTestLedger(t, 5)
	ctx := context.Background()
	a := &Appointment{DoctorID: doc.ID, PatientIdentity: "A", PatientDisplayName: "Alice", Time: at930}
	if err := store.InsertAppointment(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetAppointment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.PatientDisplayName != "Alice" || !got.Time.Equal(at930) {
		t.Errorf("unexpected appointment %+v", got)
	}
	if _, err := store.GetAppointment(ctx, a.ID+1); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestMemStore_Doctors(t *testing.T) {
	store := NewMemStore()
	repo := store.Doctors()
	ctx := context.Background()

	for _, d := range []*Doctor{
		{Name: "Zhang Wei", Dept: "Cardiology"},
		{Name: "Li Na", Dept: "Pediatrics"},
		{Name: "Wang Fang", Dept: "Cardiology Surgery"},
	} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	byDept, _ := repo.SearchByDept(ctx, "cardio")
	if len(byDept) != 2 {
		t.Errorf("expected 2 cardiology doctors, got %d", len(byDept))
	}
	byName, _ := repo.SearchByName(ctx, "li")
	if len(byName) != 1 || byName[0].Name != "Li Na" {
		t.Errorf("unexpected name search result %+v", byName)
	}

	page, total, _ := repo.List(ctx, 2, 1)
	if total != 3 || len(page) != 2 || page[0].Name != "Li Na" {
		t.Errorf("unexpected page total=%d %+v", total, page)
	}

	if err := repo.Update(ctx, &Doctor{ID: 99, Name: "Ghost"}); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
	if err := repo.Update(ctx, &Doctor{ID: 2, Name: "Li Na", Dept: "Neurology"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	d, _ := repo.GetByID(ctx, 2)
	if d.Dept != "Neurology" || d.CreatedAt.IsZero() {
		t.Errorf("unexpected updated doctor %+v", d)
	}
}
