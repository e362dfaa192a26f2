package scheduling

import (
	"context"
	"time"
)

// Ledger is the durable record of schedules and appointments. It applies no
// booking policy. Every method honours a transaction opened by InTx and
// carried in ctx, so callers can compose several calls into one atomic unit.
type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertAppointment(ctx context.Context, a *Appointment) error
	DeleteAppointment(ctx context.Context, id int64) (existed bool, err error)
	DeleteAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error)
	CountAppointmentsInRange(ctx context.Context, doctorID int64, start, end time.Time) (int, error)
	FindAppointmentForPatientInRange(ctx context.Context, patient string, start, end time.Time) (bool, error)
	FindScheduleContaining(ctx context.Context, doctorID int64, t time.Time) (*Schedule, bool, error)

	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id int64) (*Schedule, error)
	ListSchedulesByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Schedule, int, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error)
}

// AccountDirectory reports whether a patient identity still has an account.
type AccountDirectory interface {
	AccountExists(ctx context.Context, username string) (bool, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	Update(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id int64) (*Doctor, error)
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
	SearchByName(ctx context.Context, q string) ([]*Doctor, error)
	SearchByDept(ctx context.Context, q string) ([]*Doctor, error)
}
