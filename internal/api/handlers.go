package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"skillhub/backend/pkg/models"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the unauthenticated operational endpoints.
type Handler struct {
	db      Pinger
	version string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(db Pinger, version string) *Handler {
	return &Handler{db: db, version: version}
}

// HandleHealth reports service health. A failing database check returns 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "skillhub",
		Version:   h.version,
		Checks:    map[string]string{},
	}

	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["database"] = "ok"
		}
	}

	return c.JSON(code, status)
}
