package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling API on api. bookingMW wraps the
// booking endpoint, typically with idempotency replay.
func (h *Handler) RegisterRoutes(api *echo.Group, bookingMW ...echo.MiddlewareFunc) {
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist)

	api.POST("/schedule-windows", h.RegisterWindow, auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor))
	api.GET("/schedule-windows/:id", h.GetWindow)
	api.DELETE("/schedule-windows/:id", h.RemoveWindow, staff)
	api.GET("/schedule-windows/:id/capacity", h.RemainingCapacity)
	api.GET("/doctors/:id/schedule-windows", h.ListWindows)
	api.GET("/doctors/:id/availability", h.AvailableWindows)

	api.POST("/appointments", h.BookAppointment, bookingMW...)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/stats", h.CountByStatus)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
	api.DELETE("/appointments/:id", h.CancelAppointment)
}

// httpError renders an application error as {"error": kind, "message": ...}.
func httpError(err error) error {
	kind := apperr.KindOf(err)
	return echo.NewHTTPError(apperr.HTTPStatus(kind), map[string]string{
		"error":   string(kind),
		"message": apperr.Message(err),
	}).SetInternal(err)
}

func actorOf(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing actor")
	}
	return a, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httpError(apperr.Validation("invalid %s: %q", name, c.Param(name)))
	}
	return id, nil
}

// dateParam parses ?name=YYYY-MM-DD in the clinic time zone.
func (h *Handler) dateParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, httpError(apperr.Validation("%s is required (YYYY-MM-DD)", name))
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, h.svc.Location())
	if err != nil {
		return time.Time{}, httpError(apperr.Validation("invalid %s %q: want YYYY-MM-DD", name, raw))
	}
	return d, nil
}

func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return httpError(apperr.Validation("invalid request body: %v", err))
	}
	if err := c.Validate(req); err != nil {
		return httpError(err)
	}
	return nil
}

// -- Schedule Window Handlers --

type registerWindowRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id" validate:"required"`
	DayOfWeek *int      `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime string    `json:"start_time" validate:"required"`
	EndTime   string    `json:"end_time" validate:"required"`
	Capacity  *int      `json:"capacity" validate:"required,min=0"`
}

func (h *Handler) RegisterWindow(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req registerWindowRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	start, err := ParseClockTime(req.StartTime)
	if err != nil {
		return httpError(apperr.Validation("start_time: %v", err))
	}
	end, err := ParseClockTime(req.EndTime)
	if err != nil {
		return httpError(apperr.Validation("end_time: %v", err))
	}
	w, err := h.svc.RegisterWindow(c.Request().Context(), actor, RegisterWindowInput{
		DoctorID:  req.DoctorID,
		DayOfWeek: time.Weekday(*req.DayOfWeek),
		StartTime: start,
		EndTime:   end,
		Capacity:  *req.Capacity,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWindow(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	w, err := h.svc.GetWindow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) RemoveWindow(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveWindow(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWindows(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	windows, err := h.svc.ListWindows(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if windows == nil {
		windows = []*ScheduleWindow{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": windows})
}

func (h *Handler) RemainingCapacity(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := h.dateParam(c, "date")
	if err != nil {
		return err
	}
	n, err := h.svc.RemainingCapacity(c.Request().Context(), id, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"window_id": id,
		"date":      date.Format(time.DateOnly),
		"remaining": n,
	})
}

func (h *Handler) AvailableWindows(c echo.Context) error {
	doctorID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := h.dateParam(c, "date")
	if err != nil {
		return err
	}
	out := []WindowAvailability{}
	for wa, err := range h.svc.AvailableWindows(c.Request().Context(), doctorID, date) {
		if err != nil {
			return httpError(err)
		}
		out = append(out, wa)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"doctor_id": doctorID,
		"date":      date.Format(time.DateOnly),
		"data":      out,
	})
}

// -- Appointment Handlers --

type bookRequest struct {
	PatientID        uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID         uuid.UUID  `json:"doctor_id" validate:"required"`
	ScheduleWindowID *uuid.UUID `json:"schedule_window_id"`
	DateTime         time.Time  `json:"appointment_date_time" validate:"required"`
	Reason           string     `json:"reason" validate:"required,max=1000"`
	VisitType        string     `json:"visit_type" validate:"max=100"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	v, err := h.svc.BookAppointment(c.Request().Context(), actor, BookInput{
		PatientID:        req.PatientID,
		DoctorID:         req.DoctorID,
		ScheduleWindowID: req.ScheduleWindowID,
		DateTime:         req.DateTime,
		Reason:           req.Reason,
		VisitType:        req.VisitType,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var f AppointmentFilter
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseBookingStatus(raw)
		if err != nil {
			return httpError(apperr.Validation("%v", err))
		}
		f.Status = st
	}
	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httpError(apperr.Validation("invalid doctor_id %q", raw))
		}
		f.DoctorID = &id
	}
	if c.QueryParam("from") != "" {
		from, err := h.dateParam(c, "from")
		if err != nil {
			return err
		}
		f.From = &from
	}
	if c.QueryParam("to") != "" {
		to, err := h.dateParam(c, "to")
		if err != nil {
			return err
		}
		// to is inclusive of the whole day
		next := to.AddDate(0, 0, 1)
		f.To = &next
	}

	p := pagination.FromContext(c)
	views, total, err := h.svc.ListAppointments(c.Request().Context(), actor, f, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, p))
}

func (h *Handler) CountByStatus(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	counts, err := h.svc.CountByStatus(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, counts)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus accepts the target status as {"status": ...} or ?status=.
func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	raw := c.QueryParam("status")
	if raw == "" {
		var req statusRequest
		if err := c.Bind(&req); err != nil {
			return httpError(apperr.Validation("invalid request body: %v", err))
		}
		raw = req.Status
	}
	if raw == "" {
		return httpError(apperr.Validation("status is required"))
	}
	st, err := ParseBookingStatus(raw)
	if err != nil {
		return httpError(apperr.Validation("%v", err))
	}
	v, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, st)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.CancelAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}
