package records

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medportal/portal/internal/platform/apperr"
	"github.com/medportal/portal/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/records", h.Upload, auth.RequireRole(auth.RoleProvider))
	api.GET("/records/:id/link", h.Link, auth.RequireRole(auth.RolePatient, auth.RoleProvider))
}

// Upload expects multipart/form-data with patient_id, an optional
// description and the file under "file".
func (h *Handler) Upload(c echo.Context) error {
	patientID, err := strconv.ParseInt(c.FormValue("patient_id"), 10, 64)
	if err != nil || patientID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()

	rec, err := h.svc.Upload(c.Request().Context(), auth.PrincipalFromContext(c.Request().Context()), UploadInput{
		PatientID:   patientID,
		Description: c.FormValue("description"),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     f,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Link(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	link, err := h.svc.Link(c.Request().Context(), auth.PrincipalFromContext(c.Request().Context()), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, link)
}
