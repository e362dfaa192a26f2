package scheduling

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/habms/habms/internal/platform/auth"
	"github.com/habms/habms/internal/platform/session"
	"github.com/habms/habms/pkg/pagination"
)

// HTTPHandler exposes read-only schedule data and admin reports over HTTP.
type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// RegisterRoutes mounts public reads on api and the report behind tokenAuth.
func (h *HTTPHandler) RegisterRoutes(api *echo.Group, tokenAuth echo.MiddlewareFunc) {
	api.GET("/doctors/:id/schedules", h.ListSchedules)
	api.GET("/schedules/:id/availability", h.GetAvailability)

	reports := api.Group("/reports", tokenAuth, auth.RequireRole(session.RoleAdmin))
	reports.GET("/schedules", h.ScheduleReport)
}

func (h *HTTPHandler) ListSchedules(c echo.Context) error {
	doctorID, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), doctorID, p)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Schedule{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p).WithNext(c.Request().URL.Path))
}

func (h *HTTPHandler) GetAvailability(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return err
	}
	a, err := h.svc.Availability(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *HTTPHandler) ScheduleReport(c echo.Context) error {
	doctorID, err := parseID(c.QueryParam("doctor_id"))
	if err != nil {
		return err
	}
	report, err := h.svc.ScheduleReport(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if report == nil {
		report = []*ScheduleReport{}
	}
	return c.JSON(http.StatusOK, report)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return err
}
