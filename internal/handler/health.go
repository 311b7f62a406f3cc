package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/store"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the banner, health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	store   *store.Store
	version Version
}

// NewHealthHandler creates a HealthHandler. The store is optional.
func NewHealthHandler(cfg *config.Config, st *store.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: st, version: v}
}

// Root returns the service banner.
func (h *HealthHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, "Live Sports Stream Backend is running")
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information, including database reachability.
func (h *HealthHandler) Status(c echo.Context) error {
	db := "disabled"
	if h.store != nil {
		db = "ok"
		if err := h.store.Ping(); err != nil {
			db = "unavailable"
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    string(h.version),
		"public_url": h.cfg.Server.PublicURL,
		"sports_api": h.cfg.Sports.BaseURL,
		"database":   db,
	})
}
