package scheduling

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/habms/habms/pkg/pagination"
)

// EventAvailabilityChanged is published after a booking or cancellation
// changes a schedule's occupancy.
const EventAvailabilityChanged = "availability.changed"

// Publisher fans availability changes out to subscribers. Publish must not
// block on slow receivers.
type Publisher interface {
	Publish(topic, eventType string, data interface{})
}

// ScheduleTopic is the subscription topic for one schedule.
func ScheduleTopic(scheduleID int64) string {
	return "schedule/" + strconv.FormatInt(scheduleID, 10)
}

type Service struct {
	ledger      Ledger
	doctors     DoctorRepository
	coordinator *Coordinator
	publisher   Publisher
	logger      zerolog.Logger
}

func NewService(ledger Ledger, doctors DoctorRepository, logger zerolog.Logger) *Service {
	return &Service{
		ledger:      ledger,
		doctors:     doctors,
		coordinator: NewCoordinator(ledger),
		logger:      logger,
	}
}

// SetPublisher wires availability notifications. A nil publisher disables them.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetAccounts makes bookings check that the patient still has an account.
func (s *Service) SetAccounts(d AccountDirectory) {
	s.coordinator.accounts = d
}

// -- Doctors --

func (s *Service) AddDoctor(ctx context.Context, d *Doctor) error {
	if err := normalizeDoctor(d); err != nil {
		return err
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID <= 0 {
		return ErrInvalidID
	}
	if err := normalizeDoctor(d); err != nil {
		return err
	}
	return s.doctors.Update(ctx, d)
}

func normalizeDoctor(d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Dept = strings.TrimSpace(d.Dept)
	if d.Name == "" {
		return ErrNameRequired
	}
	return nil
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, p pagination.Params) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, p.Limit, p.Offset)
}

func (s *Service) SearchDoctorsByName(ctx context.Context, q string) ([]*Doctor, error) {
	return s.doctors.SearchByName(ctx, q)
}

func (s *Service) SearchDoctorsByDept(ctx context.Context, q string) ([]*Doctor, error) {
	return s.doctors.SearchByDept(ctx, q)
}

// -- Schedules --

// AddSchedule validates the window once, at creation. Overlap with the
// doctor's other schedules is allowed.
func (s *Service) AddSchedule(ctx context.Context, sched *Schedule) error {
	if sched.DoctorID <= 0 {
		return ErrInvalidID
	}
	if !sched.End.After(sched.Start) {
		return ErrInvalidWindow
	}
	if sched.Capacity < 1 || sched.Capacity > math.MaxInt32 {
		return ErrInvalidCapacity
	}
	if _, err := s.doctors.GetByID(ctx, sched.DoctorID); err != nil {
		return err
	}
	sched.Note = strings.TrimSpace(sched.Note)
	return s.ledger.CreateSchedule(ctx, sched)
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	return s.ledger.GetSchedule(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID int64, p pagination.Params) ([]*Schedule, int, error) {
	return s.ledger.ListSchedulesByDoctor(ctx, doctorID, p.Limit, p.Offset)
}

// Availability is an unlocked display read.
func (s *Service) Availability(ctx context.Context, scheduleID int64) (*Availability, error) {
	return s.coordinator.Capacity().Availability(ctx, scheduleID)
}

// ScheduleReport lists every schedule of the doctor with its occupancy.
func (s *Service) ScheduleReport(ctx context.Context, doctorID int64) ([]*ScheduleReport, error) {
	if _, err := s.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}

	var report []*ScheduleReport
	offset := 0
	for {
		page, total, err := s.ledger.ListSchedulesByDoctor(ctx, doctorID, pagination.MaxLimit, offset)
		if err != nil {
			return nil, err
		}
		for _, sched := range page {
			avail, err := s.coordinator.Capacity().ForSchedule(ctx, sched)
			if err != nil {
				return nil, err
			}
			report = append(report, &ScheduleReport{Schedule: sched, Availability: avail})
		}
		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}
	return report, nil
}

// -- Appointments --

// Book runs the admission decision for patient at t.
func (s *Service) Book(ctx context.Context, doctorID int64, patient, displayName string, t time.Time) (Result, error) {
	if doctorID <= 0 {
		return Result{}, ErrInvalidID
	}
	patient = strings.TrimSpace(patient)
	if patient == "" {
		return Result{}, ErrPatientRequired
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = patient
	}

	res, err := s.coordinator.RequestBooking(ctx, doctorID, patient, displayName, t)
	if err != nil {
		return res, err
	}
	if res.Outcome == Admitted {
		s.publishAvailability(ctx, res.Schedule)
	}
	return res, nil
}

// Cancel deletes an appointment. Unless asAdmin is set the caller must own it.
func (s *Service) Cancel(ctx context.Context, caller string, asAdmin bool, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}

	appt, err := s.ledger.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if !asAdmin && appt.PatientIdentity != caller {
		return ErrNotOwner
	}

	existed, err := s.coordinator.CancelAppointment(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrAppointmentNotFound
	}

	sched, found, err := s.ledger.FindScheduleContaining(ctx, appt.DoctorID, appt.Time)
	if err != nil {
		s.logger.Warn().Err(err).Int64("appointment_id", id).Msg("resolve schedule after cancel")
		return nil
	}
	if found {
		s.publishAvailability(ctx, sched)
	}
	return nil
}

// ReleasePatient cancels every appointment of patient and runs fn, typically
// the account removal, in the same unit of work. It returns how many
// appointments were cancelled.
func (s *Service) ReleasePatient(ctx context.Context, patient string, fn func(ctx context.Context) error) (int, error) {
	released, err := s.coordinator.ReleasePatient(ctx, patient, fn)
	if err != nil {
		return 0, err
	}

	notified := make(map[int64]bool)
	for _, a := range released {
		sched, found, err := s.ledger.FindScheduleContaining(ctx, a.DoctorID, a.Time)
		if err != nil {
			s.logger.Warn().Err(err).Int64("appointment_id", a.ID).Msg("resolve schedule after release")
			continue
		}
		if found && !notified[sched.ID] {
			notified[sched.ID] = true
			s.publishAvailability(ctx, sched)
		}
	}
	if len(released) > 0 {
		s.logger.Info().Str("patient", patient).Int("cancelled", len(released)).Msg("released patient appointments")
	}
	return len(released), nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.ledger.GetAppointment(ctx, id)
}

func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]*Appointment, error) {
	return s.ledger.ListAppointmentsByDoctor(ctx, doctorID)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patient string) ([]*Appointment, error) {
	return s.ledger.ListAppointmentsByPatient(ctx, patient)
}

func (s *Service) publishAvailability(ctx context.Context, sched *Schedule) {
	if s.publisher == nil || sched == nil {
		return
	}
	avail, err := s.coordinator.Capacity().ForSchedule(ctx, sched)
	if err != nil {
		s.logger.Warn().Err(err).Int64("schedule_id", sched.ID).Msg("read availability for notification")
		return
	}
	s.publisher.Publish(ScheduleTopic(sched.ID), EventAvailabilityChanged, avail)
}

// IsNotFound reports whether err is one of this package's not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDoctorNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrAppointmentNotFound)
}

// IsValidation reports whether err rejects malformed input.
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidWindow, ErrInvalidCapacity, ErrNameRequired, ErrPatientRequired, ErrInvalidID} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
