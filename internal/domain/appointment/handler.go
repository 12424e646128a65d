package appointment

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
	"github.com/medportal/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes guards each route individually. Role-guarded groups sharing
// the api prefix would also guard echo's not-found handler for that prefix.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	either := auth.RequireRole(auth.RolePatient, auth.RoleProvider)
	provider := auth.RequireRole(auth.RoleProvider)

	api.POST("/appointments", h.Schedule, patient)
	api.GET("/appointments", h.List, either)
	api.GET("/appointments/:id", h.Get, either)
	api.PUT("/appointments/:id/status", h.UpdateStatus, either)
	api.DELETE("/appointments/:id", h.Cancel, either)
	api.GET("/appointments/:id/notifications", h.ListNotifications, provider)
}

type scheduleResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	Message       string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func appointmentID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid appointment id")
	}
	return id, nil
}

func principal(c echo.Context) *auth.Principal {
	return auth.PrincipalFromContext(c.Request().Context())
}

func (h *Handler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := h.svc.Schedule(c.Request().Context(), principal(c), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, scheduleResponse{AppointmentID: id, Message: "Appointment created successfully"})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), principal(c), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.UpdateStatus(c.Request().Context(), principal(c), id, req.Status); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Appointment status updated successfully"})
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Cancel(c.Request().Context(), principal(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Appointment cancelled successfully"})
}

func (h *Handler) ListNotifications(c echo.Context) error {
	id, err := appointmentID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Notifications(c.Request().Context(), principal(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, items)
}
