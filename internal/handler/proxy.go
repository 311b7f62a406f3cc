package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/manifest"
	"sportstream-relay/internal/metrics"
	"sportstream-relay/internal/model"
	"sportstream-relay/internal/service"
)

// RelayPath is the public relay route that rewritten playlists point at.
const RelayPath = "/api/matches/proxy-stream"

// RelayHandler serves GET /proxy-stream?url=: it relays playlists and segments
// from stream CDNs to players.
type RelayHandler struct {
	service   *service.RelayService
	metrics   *metrics.Metrics
	publicURL string
	logger    *slog.Logger
}

// NewRelayHandler creates a RelayHandler. The metrics parameter is optional.
func NewRelayHandler(svc *service.RelayService, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:   svc,
		metrics:   m,
		publicURL: cfg.Server.PublicURL,
		logger:    logger.With("component", "relay_handler"),
	}
}

// Handle relays the url query target. Failures before the response is
// committed are answered with a JSON error; failures while a segment is
// streaming abort the connection so the player sees a truncated transfer.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		TargetURL:     c.QueryParam("url"),
		UserAgent:     req.UserAgent(),
		ProxyEndpoint: h.endpoint(c),
	}

	resp, err := h.service.Open(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	kind := resp.Kind.String()
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	if resp.Kind == manifest.Segment && h.metrics != nil {
		h.metrics.ActiveStreams.Inc()
		defer h.metrics.ActiveStreams.Dec()
	}

	n, err := h.service.Pipe(c.Response(), resp.Body)
	if h.metrics != nil {
		h.metrics.RelayBytes.WithLabelValues(kind).Add(float64(n))
	}
	if err != nil {
		if errors.Is(err, service.ErrClientGone) {
			h.logger.Info("client disconnected", "kind", kind, "target", resp.Target, "bytes", n)
			h.observe(kind, "client_gone")
			return nil
		}
		h.logger.Error("relay stream interrupted", "kind", kind, "target", resp.Target, "bytes", n, "err", err)
		h.observe(kind, service.KindPipeFailure.String())
		// Headers are already sent; abort so the client does not mistake a
		// truncated body for a complete one.
		panic(http.ErrAbortHandler)
	}

	h.observe(kind, "ok")
	return nil
}

// endpoint returns the public relay URL used when rewriting playlists.
func (h *RelayHandler) endpoint(c echo.Context) string {
	if h.publicURL != "" {
		return h.publicURL + RelayPath
	}
	return c.Scheme() + "://" + c.Request().Host + RelayPath
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	var re *service.RelayError
	if !errors.As(err, &re) {
		re = &service.RelayError{Kind: service.KindUpstreamError, Message: "Failed to proxy stream.", Err: err}
	}
	kind := targetKind(c.QueryParam("url"))

	if errors.Is(err, service.ErrClientGone) {
		h.logger.Info("client disconnected before relay started", "target", re.Target)
		h.observe(kind, "client_gone")
		return nil
	}

	status := re.Status()
	attrs := []any{
		"kind", re.Kind.String(),
		"status", status,
		"target", re.Target,
		"err", re,
	}
	if re.Excerpt != "" {
		attrs = append(attrs, "upstream_body", re.Excerpt)
	}
	if status >= 500 {
		h.logger.Error("relay failed", attrs...)
	} else {
		h.logger.Warn("relay rejected", attrs...)
	}

	h.observe(kind, re.Kind.String())
	return writeError(c, status, re.Message)
}

// targetKind labels a failed request by the media kind of its target.
func targetKind(raw string) string {
	u, err := service.NormalizeTarget(raw)
	if err != nil {
		return "unknown"
	}
	return manifest.Classify(u.Path).String()
}

func (h *RelayHandler) observe(kind, result string) {
	if h.metrics != nil {
		h.metrics.RelayResults.WithLabelValues(kind, result).Inc()
	}
}
