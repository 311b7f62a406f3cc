package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/service"
)

// MatchesHandler serves the live stream listing and match data endpoints.
type MatchesHandler struct {
	streams *service.StreamService
	logger  *slog.Logger
}

// NewMatchesHandler creates a MatchesHandler.
func NewMatchesHandler(streams *service.StreamService, logger *slog.Logger) *MatchesHandler {
	return &MatchesHandler{
		streams: streams,
		logger:  logger.With("component", "matches_handler"),
	}
}

// Streams returns the supported live streams.
func (h *MatchesHandler) Streams(c echo.Context) error {
	streams, err := h.streams.LiveStreams(c.Request().Context())
	if err != nil {
		return writeAPIError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(streams),
		"data":    map[string]any{"streams": streams},
	})
}

// Sports returns the supported sports catalog.
func (h *MatchesHandler) Sports(c echo.Context) error {
	sports := h.streams.Sports()
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"results": len(sports),
		"data":    map[string]any{"sports": sports},
	})
}

// Diary returns the upstream diary of a match.
func (h *MatchesHandler) Diary(c echo.Context) error {
	res, err := h.streams.Diary(c.Request().Context(), c.Param("sportName"), c.Param("matchId"))
	if err != nil {
		return writeAPIError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "data": res})
}

// List returns the upstream match list of a sport.
func (h *MatchesHandler) List(c echo.Context) error {
	res, err := h.streams.MatchList(c.Request().Context(), c.Param("sportName"))
	if err != nil {
		return writeAPIError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "data": res})
}
