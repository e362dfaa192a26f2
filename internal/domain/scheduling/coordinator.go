package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habms/habms/internal/platform/keylock"
)

// Coordinator makes admission decisions. Decisions for one schedule are
// serialized on that schedule's lock; different schedules proceed in
// parallel.
//
// Lock order is schedule, then patient. The patient lock keeps two
// concurrent bookings by the same patient into overlapping schedules of
// different doctors from both passing the conflict check. Nothing is
// acquired after the patient lock, so the order cannot deadlock.
type Coordinator struct {
	ledger    Ledger
	accounts  AccountDirectory
	capacity  *CapacityCalculator
	conflicts *ConflictChecker

	scheduleLocks *keylock.Manager[int64]
	patientLocks  *keylock.Manager[string]
}

func NewCoordinator(ledger Ledger) *Coordinator {
	return &Coordinator{
		ledger:        ledger,
		capacity:      NewCapacityCalculator(ledger),
		conflicts:     NewConflictChecker(ledger),
		scheduleLocks: keylock.New[int64](),
		patientLocks:  keylock.New[string](),
	}
}

// RequestBooking decides whether patient may book doctorID at t. Rejections
// are reported through Result.Outcome; the error is non-nil only when the
// ledger or lock acquisition failed.
func (c *Coordinator) RequestBooking(ctx context.Context, doctorID int64, patient, displayName string, t time.Time) (Result, error) {
	sched, found, err := c.ledger.FindScheduleContaining(ctx, doctorID, t)
	if err != nil {
		return Result{}, fmt.Errorf("resolve schedule: %w", err)
	}
	if !found {
		return Result{Outcome: NoMatchingSchedule}, nil
	}

	res := Result{Schedule: sched}

	unlockSchedule, err := c.scheduleLocks.Lock(ctx, sched.ID)
	if err != nil {
		return res, fmt.Errorf("acquire lock for schedule %d: %w", sched.ID, err)
	}
	defer unlockSchedule()

	unlockPatient, err := c.patientLocks.Lock(ctx, patient)
	if err != nil {
		return res, fmt.Errorf("acquire lock for patient %s: %w", patient, err)
	}
	defer unlockPatient()

	err = c.ledger.InTx(ctx, func(ctx context.Context) error {
		if c.accounts != nil {
			ok, err := c.accounts.AccountExists(ctx, patient)
			if err != nil {
				return err
			}
			if !ok {
				return ErrUnknownPatient
			}
		}

		conflict, err := c.conflicts.HasConflict(ctx, patient, sched.Start, sched.End)
		if err != nil {
			return err
		}
		if conflict {
			res.Outcome = PatientConflict
			return nil
		}

		avail, err := c.capacity.ForSchedule(ctx, sched)
		if err != nil {
			return err
		}
		if avail.Booked >= sched.Capacity {
			res.Outcome = ScheduleFull
			return nil
		}

		appt := &Appointment{
			DoctorID:           doctorID,
			PatientIdentity:    patient,
			PatientDisplayName: displayName,
			Time:               t,
		}
		if err := c.ledger.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		res.Outcome = Admitted
		res.Appointment = appt
		return nil
	})
	if errors.Is(err, ErrUnknownPatient) {
		return Result{Schedule: sched}, err
	}
	if err != nil {
		return Result{Schedule: sched}, fmt.Errorf("admit booking into schedule %d: %w", sched.ID, err)
	}
	return res, nil
}

// CancelAppointment deletes the appointment. It takes no admission lock:
// removing a row can only lower a schedule's count.
func (c *Coordinator) CancelAppointment(ctx context.Context, id int64) (bool, error) {
	existed, err := c.ledger.DeleteAppointment(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel appointment %d: %w", id, err)
	}
	return existed, nil
}

// ReleasePatient deletes every appointment held by patient and runs fn in
// the same ledger transaction, all under the patient's lock. A booking for
// the patient waiting on that lock sees the outcome of fn.
func (c *Coordinator) ReleasePatient(ctx context.Context, patient string, fn func(ctx context.Context) error) ([]*Appointment, error) {
	unlock, err := c.patientLocks.Lock(ctx, patient)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for patient %s: %w", patient, err)
	}
	defer unlock()

	var released []*Appointment
	err = c.ledger.InTx(ctx, func(ctx context.Context) error {
		var err error
		released, err = c.ledger.DeleteAppointmentsByPatient(ctx, patient)
		if err != nil {
			return fmt.Errorf("release appointments of %s: %w", patient, err)
		}
		if fn != nil {
			return fn(ctx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// Capacity exposes the calculator for unlocked display reads.
func (c *Coordinator) Capacity() *CapacityCalculator { return c.capacity }
