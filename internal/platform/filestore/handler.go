package filestore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DownloadHandler serves GET /files/:token. The token is the only credential.
type DownloadHandler struct {
	store  FileStore
	signer *Signer
}

func NewDownloadHandler(store FileStore, signer *Signer) *DownloadHandler {
	return &DownloadHandler{store: store, signer: signer}
}

func (h *DownloadHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/files/:token", h.handleDownload)
}

func (h *DownloadHandler) handleDownload(c echo.Context) error {
	key, err := h.signer.Verify(c.Param("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	rc, meta, err := h.store.Open(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open file").SetInternal(err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
