// Package client provides the upstream HTTP clients: the media CDN client used
// by the relay and the sports data API client.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/metrics"
)

// StreamClient fetches playlists and segments from stream CDNs.
type StreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewStreamClient creates a StreamClient with connection pooling and timeouts.
// The configured timeout bounds dialing and the wait for response headers
// only; body reads are unbounded so long segment transfers are not cut off.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewStreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamClient {
	timeout := cfg.Upstream.Timeout()
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		// Accept-Encoding is set explicitly per request; bodies are never
		// transparently decompressed.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &StreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "stream_client"),
		metrics:    m,
	}
}

// Get issues a GET for target with the given headers.
// The caller is responsible for closing the response body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request and any in-flight body read are aborted.
func (c *StreamClient) Get(ctx context.Context, target string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request", "host", req.URL.Host, "path", req.URL.Path)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues("cdn").Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues("cdn", strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}
