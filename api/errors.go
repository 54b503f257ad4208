package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"todo-agent/domain"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errDuplicate   = errors.New("duplicate request")
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error to a response status and the text shown to the client.
// Store and upstream failures are reported without detail.
func statusFor(err error) (int, string) {
	var ve *domain.ValidationError
	var pe *domain.PositionError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &pe):
		return http.StatusNotFound, pe.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, errDuplicate):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError sends the JSON error body. Server errors go to the request logger.
func writeError(c echo.Context, stage string, err error) error {
	status, msg := statusFor(err)
	m := metricsFrom(c)
	m.SetErrorStage(stage)
	if status >= http.StatusInternalServerError {
		m.logEntry().WithField("stage", stage).WithError(err).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: msg})
}

func unauthorized(c echo.Context) error {
	metricsFrom(c).SetErrorStage("auth")
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}
