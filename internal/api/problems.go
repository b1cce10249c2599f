package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/moogar0880/problems"

	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/services"
)

const problemContentType = "application/problem+json"

func writeProblem(c echo.Context, status int, problemType, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request().URL.Path).
		WithType(problemType).
		WithDetail(detail)

	body, err := json.Marshal(problem)
	if err != nil {
		return err
	}
	return c.Blob(status, problemContentType, body)
}

func unauthorized(c echo.Context) error {
	return writeProblem(c, http.StatusUnauthorized, "unauthorized", "authenticated user not found in request")
}

// handleServiceError maps installer errors to problem documents.
func (s *Server) handleServiceError(c echo.Context, err error) error {
	switch {
	case services.IsValidationError(err):
		return writeProblem(c, http.StatusBadRequest, "validation_error", err.Error())
	case services.IsNotFoundError(err):
		return writeProblem(c, http.StatusNotFound, "not_found", err.Error())
	case services.IsForbiddenError(err):
		return writeProblem(c, http.StatusForbidden, "access_denied", err.Error())
	case services.IsConflictError(err):
		return writeProblem(c, http.StatusConflict, "conflict", err.Error())
	case services.IsStructuralError(err):
		return writeProblem(c, http.StatusUnprocessableEntity, "invalid_package", err.Error())
	case errors.Is(err, services.ErrLockTimeout):
		return writeProblem(c, http.StatusServiceUnavailable, "busy", "installation is busy, retry later")
	default:
		s.logger.ErrorContext(c.Request().Context(), "request failed", "path", c.Request().URL.Path, "error", err)
		return writeProblem(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// ProblemErrorHandler renders errors that escape handlers, such as routing
// and parameter binding failures, as problem documents.
func ProblemErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				detail = msg
			} else {
				detail = http.StatusText(status)
			}
		} else {
			logger.ErrorContext(c.Request().Context(), "unhandled error", "path", c.Request().URL.Path, "error", err)
		}

		problemType := "about:blank"
		if status == http.StatusBadRequest {
			problemType = "validation_error"
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = writeProblem(c, status, problemType, detail)
		}
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "failed to write error response", "error", err)
		}
	}
}
