package scheduling

import (
	"errors"
	"time"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotOwner            = errors.New("appointment belongs to another patient")
	ErrInvalidWindow       = errors.New("schedule end must be after start")
	ErrInvalidCapacity     = errors.New("schedule capacity must be between 1 and 2147483647")
	ErrNameRequired        = errors.New("name is required")
	ErrPatientRequired     = errors.New("patient identity is required")
	ErrInvalidID           = errors.New("id must be positive")
	ErrUnknownPatient      = errors.New("patient account no longer exists")
)

type Doctor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Dept      string    `json:"dept"`
	Info      string    `json:"info"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule is a bookable window [Start, End) for one doctor. Capacity bounds
// the number of appointments whose time falls inside the window.
type Schedule struct {
	ID        int64     `json:"id"`
	DoctorID  int64     `json:"doctor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Capacity  int       `json:"capacity"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Contains reports whether t lies in the half-open window [Start, End).
func (s *Schedule) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

type Appointment struct {
	ID                 int64     `json:"id"`
	DoctorID           int64     `json:"doctor_id"`
	PatientIdentity    string    `json:"patient_identity"`
	PatientDisplayName string    `json:"patient_display_name"`
	Time               time.Time `json:"time"`
	CreatedAt          time.Time `json:"created_at"`
}

// Availability is the occupancy of one schedule at the time it was read.
type Availability struct {
	ScheduleID int64 `json:"schedule_id"`
	Capacity   int   `json:"capacity"`
	Booked     int   `json:"booked"`
	Available  int   `json:"available"`
}

// Outcome is the business result of a booking request.
type Outcome int

const (
	Admitted Outcome = iota + 1
	NoMatchingSchedule
	PatientConflict
	ScheduleFull
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case NoMatchingSchedule:
		return "no_matching_schedule"
	case PatientConflict:
		return "patient_conflict"
	case ScheduleFull:
		return "schedule_full"
	default:
		return "unknown"
	}
}

// Result describes a booking decision. Schedule is set whenever a schedule
// matched; Appointment only when the booking was admitted.
type Result struct {
	Outcome     Outcome
	Schedule    *Schedule
	Appointment *Appointment
}

// ScheduleReport pairs a schedule with its current occupancy.
type ScheduleReport struct {
	Schedule     *Schedule     `json:"schedule"`
	Availability *Availability `json:"availability"`
}
