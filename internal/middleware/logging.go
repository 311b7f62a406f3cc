// Package middleware provides Echo middleware for logging, metrics, security
// headers and admin authentication.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests answered with a 5xx status are logged at warn level.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelWarn
			}
			attrs := []any{
				"method", req.Method,
				"route", metrics.NormalizeRoute(c.Path()),
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
