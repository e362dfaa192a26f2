package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/habms/habms/internal/platform/db"
)

// =========== Ledger ===========

type ledgerPG struct{ pool *pgxpool.Pool }

func NewLedgerPG(pool *pgxpool.Pool) Ledger { return &ledgerPG{pool: pool} }

func (r *ledgerPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *ledgerPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.pool, fn)
}

const schedCols = `id, doctor_id, start_time, end_time, capacity, note, created_at`

const apptCols = `id, doctor_id, patient_username, patient_display_name, appt_time, created_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.Start, &s.End, &s.Capacity, &s.Note, &s.CreatedAt)
	return &s, err
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientIdentity, &a.PatientDisplayName, &a.Time, &a.CreatedAt)
	return &a, err
}

func (r *ledgerPG) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_username, patient_display_name, appt_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.DoctorID, a.PatientIdentity, a.PatientDisplayName, a.Time).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *ledgerPG) DeleteAppointment(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete appointment %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ledgerPG) DeleteAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error) {
	return r.listAppointments(ctx, `DELETE FROM appointments WHERE patient_username = $1 RETURNING `+apptCols, patient)
}

func (r *ledgerPG) CountAppointmentsInRange(ctx context.Context, doctorID int64, start, end time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appt_time >= $2 AND appt_time < $3`,
		doctorID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *ledgerPG) FindAppointmentForPatientInRange(ctx context.Context, patient string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_username = $1 AND appt_time >= $2 AND appt_time < $3
		)`, patient, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("find patient appointment: %w", err)
	}
	return exists, nil
}

// FindScheduleContaining resolves overlapping schedules to the earliest
// created one (lowest id).
func (r *ledgerPG) FindScheduleContaining(ctx context.Context, doctorID int64, t time.Time) (*Schedule, bool, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `
		SELECT `+schedCols+` FROM schedules
		WHERE doctor_id = $1 AND start_time <= $2 AND end_time > $2
		ORDER BY id
		LIMIT 1`, doctorID, t))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("find schedule: %w", err)
	}
	return s, true, nil
}

func (r *ledgerPG) CreateSchedule(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedules (doctor_id, start_time, end_time, capacity, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		s.DoctorID, s.Start, s.End, s.Capacity, s.Note).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *ledgerPG) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return s, nil
}

func (r *ledgerPG) ListSchedulesByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Schedule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedules WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+schedCols+` FROM schedules WHERE doctor_id = $1 ORDER BY start_time, id LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *ledgerPG) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return a, nil
}

func (r *ledgerPG) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]*Appointment, error) {
	return r.listAppointments(ctx, `SELECT `+apptCols+` FROM appointments WHERE doctor_id = $1 ORDER BY appt_time, id`, doctorID)
}

func (r *ledgerPG) ListAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error) {
	return r.listAppointments(ctx, `SELECT `+apptCols+` FROM appointments WHERE patient_username = $1 ORDER BY appt_time, id`, patient)
}

func (r *ledgerPG) listAppointments(ctx context.Context, query string, arg interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const doctorCols = `id, name, dept, info, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Dept, &d.Info, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (name, dept, info) VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		d.Name, d.Dept, d.Info).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET name = $2, dept = $3, info = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Dept, d.Info).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("update doctor %d: %w", d.ID, err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id int64) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("get doctor %d: %w", id, err)
	}
	return d, nil
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}
	items, err := r.query(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *doctorRepoPG) SearchByName(ctx context.Context, q string) ([]*Doctor, error) {
	return r.query(ctx, `SELECT `+doctorCols+` FROM doctors WHERE name ILIKE $1 ORDER BY id`, likePattern(q))
}

func (r *doctorRepoPG) SearchByDept(ctx context.Context, q string) ([]*Doctor, error) {
	return r.query(ctx, `SELECT `+doctorCols+` FROM doctors WHERE dept ILIKE $1 ORDER BY id`, likePattern(q))
}

func (r *doctorRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a free-text query into a substring ILIKE pattern.
func likePattern(q string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(q)) + "%"
}
