package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/service"
)

// DashboardHandler serves public statistics over recorded streams.
type DashboardHandler struct {
	dashboard *service.DashboardService
	logger    *slog.Logger
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(d *service.DashboardService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboard: d,
		logger:    logger.With("component", "dashboard_handler"),
	}
}

// LiveStats returns stream and sport totals.
func (h *DashboardHandler) LiveStats(c echo.Context) error {
	stats, err := h.dashboard.LiveStats(c.Request().Context())
	if err != nil {
		h.logger.Error("live stats", "err", err)
		return writeError(c, http.StatusInternalServerError, "Failed to fetch live stats")
	}
	return c.JSON(http.StatusOK, map[string]any{"data": stats})
}

// StreamsPerDay returns the per-day stream series.
func (h *DashboardHandler) StreamsPerDay(c echo.Context) error {
	days, err := h.dashboard.StreamsPerDay(c.Request().Context())
	if err != nil {
		h.logger.Error("streams per day", "err", err)
		return writeError(c, http.StatusInternalServerError, "Error getting stream data")
	}
	return c.JSON(http.StatusOK, map[string]any{"data": days})
}

// MostStreamedSports returns each sport's share of recorded streams.
func (h *DashboardHandler) MostStreamedSports(c echo.Context) error {
	shares, err := h.dashboard.MostStreamedSports(c.Request().Context())
	if err != nil {
		h.logger.Error("most streamed sports", "err", err)
		return writeError(c, http.StatusInternalServerError, "Error getting most streamed sports")
	}
	return c.JSON(http.StatusOK, shares)
}

// Matches returns visible recorded matches for the sport_id query parameter.
func (h *DashboardHandler) Matches(c echo.Context) error {
	sportID, err := strconv.Atoi(c.QueryParam("sport_id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "sport_id must be an integer.")
	}
	matches, err := h.dashboard.MatchesBySport(c.Request().Context(), sportID)
	if err != nil {
		h.logger.Error("matches by sport", "sport_id", sportID, "err", err)
		return writeError(c, http.StatusInternalServerError, "Failed to fetch matches")
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}
