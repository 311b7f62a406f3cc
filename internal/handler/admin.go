package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/service"
)

// AdminHandler serves the admin API.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(a *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  a,
		logger: logger.With("component", "admin_handler"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges admin credentials for the bearer token.
func (h *AdminHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid login request.")
	}

	token, err := h.admin.Login(c.Request().Context(), req.Username, req.Password, c.RealIP())
	if errors.Is(err, service.ErrInvalidCredentials) {
		return writeError(c, http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		h.logger.Error("login", "err", err)
		return writeError(c, http.StatusInternalServerError, "Login failed")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Login successful",
		"token":   token,
	})
}

// Dashboard returns the aggregated admin dashboard.
func (h *AdminHandler) Dashboard(c echo.Context) error {
	d, err := h.admin.Dashboard(c.Request().Context())
	if err != nil {
		h.logger.Error("dashboard", "err", err)
		return writeError(c, http.StatusInternalServerError, "Failed to fetch dashboard")
	}
	return c.JSON(http.StatusOK, d)
}

// Logs returns the admin audit log, newest first. The optional limit query
// parameter bounds the number of entries.
func (h *AdminHandler) Logs(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return writeError(c, http.StatusBadRequest, "limit must be a positive integer.")
		}
		limit = n
	}
	logs, err := h.admin.Logs(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("logs", "err", err)
		return writeError(c, http.StatusInternalServerError, "Failed to fetch logs")
	}
	return c.JSON(http.StatusOK, logs)
}

// InvalidateCache drops cached stream listings.
func (h *AdminHandler) InvalidateCache(c echo.Context) error {
	h.admin.InvalidateCache(c.Request().Context(), c.RealIP())
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Stream cache invalidated.",
	})
}
