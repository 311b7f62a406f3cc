package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/service"
)

// errorBody is the JSON error shape shared by every endpoint.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError answers with status and message. Client errors are reported as
// "fail", server errors as "error".
func writeError(c echo.Context, status int, message string) error {
	kind := "error"
	if status >= 400 && status < 500 {
		kind = "fail"
	}
	return c.JSON(status, errorBody{Status: kind, Message: message})
}

// writeAPIError answers with the status and message of a sports API failure.
func writeAPIError(c echo.Context, logger *slog.Logger, err error) error {
	var ae *service.APIError
	if errors.As(err, &ae) {
		if ae.Status >= 500 {
			logger.Error("sports api failure", "status", ae.Status, "path", c.Request().URL.Path, "err", ae.Err)
		}
		return writeError(c, ae.Status, ae.Message)
	}
	logger.Error("unexpected error", "path", c.Request().URL.Path, "err", err)
	return writeError(c, http.StatusInternalServerError, "Something went very wrong!")
}

// ErrorHandler returns an Echo HTTP error handler that renders router and
// middleware errors in the shared JSON shape.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Something went very wrong!"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		} else {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "err", err)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = writeError(c, status, message)
	}
}
