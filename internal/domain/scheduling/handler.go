package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/internal/platform/session"
	"github.com/habms/habms/pkg/pagination"
)

// Handler serves the scheduling actions of the line protocol.
type Handler struct {
	svc *Service
	loc *time.Location
}

func NewHandler(svc *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc}
}

func (h *Handler) RegisterActions(d *dispatch.Dispatcher) {
	d.Handle(session.ActionListDoctors, h.ListDoctors)
	d.Handle(session.ActionSearchName, h.SearchName)
	d.Handle(session.ActionSearchDept, h.SearchDept)
	d.Handle(session.ActionListScheds, h.ListSchedules)
	d.Handle(session.ActionAvail, h.Availability)

	d.Handle(session.ActionBook, h.Book)
	d.Handle(session.ActionCancel, h.Cancel)
	d.Handle(session.ActionListMyAppts, h.ListMyAppointments)

	d.Handle(session.ActionAddDoctor, h.AddDoctor)
	d.Handle(session.ActionUpdateDoctor, h.UpdateDoctor)
	d.Handle(session.ActionAddSchedule, h.AddSchedule)
	d.Handle(session.ActionListAppts, h.ListAppointments)
	d.Handle(session.ActionScheduleReport, h.ScheduleReport)
}

// -- Views --

type scheduleView struct {
	ID       int64  `json:"id"`
	DoctorID int64  `json:"doctorId"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Capacity int    `json:"capacity"`
	Note     string `json:"note"`
}

type appointmentView struct {
	ID          int64  `json:"id"`
	DoctorID    int64  `json:"doctorId"`
	Patient     string `json:"patient"`
	PatientName string `json:"patientName"`
	Time        string `json:"time"`
}

type availabilityView struct {
	ScheduleID int64 `json:"scheduleId"`
	Capacity   int   `json:"capacity"`
	Booked     int   `json:"booked"`
	Available  int   `json:"available"`
}

type reportRow struct {
	scheduleView
	Booked    int `json:"booked"`
	Available int `json:"available"`
}

func (h *Handler) schedule(s *Schedule) scheduleView {
	return scheduleView{
		ID:       s.ID,
		DoctorID: s.DoctorID,
		Start:    dispatch.FormatTime(s.Start, h.loc),
		End:      dispatch.FormatTime(s.End, h.loc),
		Capacity: s.Capacity,
		Note:     s.Note,
	}
}

func (h *Handler) appointment(a *Appointment) appointmentView {
	return appointmentView{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		Patient:     a.PatientIdentity,
		PatientName: a.PatientDisplayName,
		Time:        dispatch.FormatTime(a.Time, h.loc),
	}
}

func (h *Handler) appointments(items []*Appointment) []appointmentView {
	out := make([]appointmentView, 0, len(items))
	for _, a := range items {
		out = append(out, h.appointment(a))
	}
	return out
}

func availability(a *Availability) availabilityView {
	return availabilityView{ScheduleID: a.ScheduleID, Capacity: a.Capacity, Booked: a.Booked, Available: a.Available}
}

func doctors(items []*Doctor) []*Doctor {
	if items == nil {
		return []*Doctor{}
	}
	return items
}

// -- Public --

func (h *Handler) ListDoctors(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	p := pagination.New(in.Limit, in.Offset)
	items, total, err := h.svc.ListDoctors(ctx, p)
	if err != nil {
		return nil, mapError(err)
	}
	return pagination.NewResponse(doctors(items), total, p), nil
}

type searchRequest struct {
	Q string `json:"q"`
}

func (h *Handler) SearchName(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in searchRequest
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	items, err := h.svc.SearchDoctorsByName(ctx, in.Q)
	if err != nil {
		return nil, mapError(err)
	}
	return doctors(items), nil
}

func (h *Handler) SearchDept(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in searchRequest
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	items, err := h.svc.SearchDoctorsByDept(ctx, in.Q)
	if err != nil {
		return nil, mapError(err)
	}
	return doctors(items), nil
}

func (h *Handler) ListSchedules(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		DoctorID int64 `json:"doctorId"`
		Limit    int   `json:"limit"`
		Offset   int   `json:"offset"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.DoctorID <= 0 {
		return nil, dispatch.Validation("doctorId is required")
	}
	p := pagination.New(in.Limit, in.Offset)
	items, total, err := h.svc.ListSchedules(ctx, in.DoctorID, p)
	if err != nil {
		return nil, mapError(err)
	}
	views := make([]scheduleView, 0, len(items))
	for _, s := range items {
		views = append(views, h.schedule(s))
	}
	return pagination.NewResponse(views, total, p), nil
}

func (h *Handler) Availability(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		ScheduleID int64 `json:"scheduleId"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.ScheduleID <= 0 {
		return nil, dispatch.Validation("scheduleId is required")
	}
	a, err := h.svc.Availability(ctx, in.ScheduleID)
	if err != nil {
		return nil, mapError(err)
	}
	return availability(a), nil
}

// -- Authenticated --

func (h *Handler) Book(ctx context.Context, sess *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		DoctorID    int64  `json:"doctorId"`
		PatientName string `json:"patientName"`
		Time        string `json:"time"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.DoctorID <= 0 {
		return nil, dispatch.Validation("doctorId is required")
	}
	at, err := dispatch.ParseTime(in.Time, h.loc)
	if err != nil {
		return nil, err
	}

	res, err := h.svc.Book(ctx, in.DoctorID, sess.Identity, in.PatientName, at)
	if err != nil {
		return nil, mapError(err)
	}
	switch res.Outcome {
	case Admitted:
		return h.appointment(res.Appointment), nil
	case NoMatchingSchedule:
		return nil, dispatch.NewError(dispatch.CodeNoMatchingSchedule, "no schedule covers the requested time")
	case PatientConflict:
		return nil, dispatch.NewError(dispatch.CodePatientConflict, "you already hold an appointment in this schedule")
	case ScheduleFull:
		return nil, dispatch.NewError(dispatch.CodeScheduleFull, "the schedule is fully booked")
	}
	return nil, errors.New("booking finished without an outcome")
}

func (h *Handler) Cancel(ctx context.Context, sess *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		ApptID int64 `json:"apptId"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.ApptID <= 0 {
		return nil, dispatch.Validation("apptId is required")
	}
	if err := h.svc.Cancel(ctx, sess.Identity, sess.IsAdmin(), in.ApptID); err != nil {
		return nil, mapError(err)
	}
	return map[string]int64{"cancelled": in.ApptID}, nil
}

func (h *Handler) ListMyAppointments(ctx context.Context, sess *session.Session, _ *dispatch.Request) (interface{}, error) {
	items, err := h.svc.ListAppointmentsByPatient(ctx, sess.Identity)
	if err != nil {
		return nil, mapError(err)
	}
	return h.appointments(items), nil
}

// -- Admin --

type doctorRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Dept string `json:"dept"`
	Info string `json:"info"`
}

func (h *Handler) AddDoctor(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in doctorRequest
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	d := &Doctor{Name: in.Name, Dept: in.Dept, Info: in.Info}
	if err := h.svc.AddDoctor(ctx, d); err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (h *Handler) UpdateDoctor(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in doctorRequest
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	d := &Doctor{ID: in.ID, Name: in.Name, Dept: in.Dept, Info: in.Info}
	if err := h.svc.UpdateDoctor(ctx, d); err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (h *Handler) AddSchedule(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		DoctorID int64  `json:"doctorId"`
		Start    string `json:"start"`
		End      string `json:"end"`
		Capacity int    `json:"capacity"`
		Note     string `json:"note"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	start, err := dispatch.ParseTime(in.Start, h.loc)
	if err != nil {
		return nil, err
	}
	end, err := dispatch.ParseTime(in.End, h.loc)
	if err != nil {
		return nil, err
	}

	s := &Schedule{DoctorID: in.DoctorID, Start: start, End: end, Capacity: in.Capacity, Note: in.Note}
	if err := h.svc.AddSchedule(ctx, s); err != nil {
		return nil, mapError(err)
	}
	return h.schedule(s), nil
}

func (h *Handler) ListAppointments(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		DoctorID int64 `json:"doctorId"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.DoctorID <= 0 {
		return nil, dispatch.Validation("doctorId is required")
	}
	items, err := h.svc.ListAppointmentsByDoctor(ctx, in.DoctorID)
	if err != nil {
		return nil, mapError(err)
	}
	return h.appointments(items), nil
}

func (h *Handler) ScheduleReport(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	var in struct {
		DoctorID int64 `json:"doctorId"`
	}
	if err := req.Bind(&in); err != nil {
		return nil, err
	}
	if in.DoctorID <= 0 {
		return nil, dispatch.Validation("doctorId is required")
	}
	report, err := h.svc.ScheduleReport(ctx, in.DoctorID)
	if err != nil {
		return nil, mapError(err)
	}
	rows := make([]reportRow, 0, len(report))
	for _, r := range report {
		rows = append(rows, reportRow{
			scheduleView: h.schedule(r.Schedule),
			Booked:       r.Availability.Booked,
			Available:    r.Availability.Available,
		})
	}
	return rows, nil
}

// mapError converts service errors into client-visible dispatch errors.
// Anything unrecognised is returned as is and reported as INTERNAL.
func mapError(err error) error {
	switch {
	case IsNotFound(err):
		return dispatch.Wrap(dispatch.CodeNotFound, err.Error(), err)
	case IsValidation(err):
		return dispatch.Wrap(dispatch.CodeValidation, err.Error(), err)
	case errors.Is(err, ErrNotOwner):
		return dispatch.Wrap(dispatch.CodeForbidden, err.Error(), err)
	case errors.Is(err, ErrUnknownPatient):
		return dispatch.Wrap(dispatch.CodeAuthRequired, err.Error(), err)
	}
	return err
}
