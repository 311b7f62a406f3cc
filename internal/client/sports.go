package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/metrics"
	"sportstream-relay/internal/model"
)

// credentialPattern matches credential query parameters in URLs embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)((?:user|secret)=)[^&\s"]+`)

// StatusError is returned when the sports API answers with a non-2xx status.
type StatusError struct {
	Code    int
	Excerpt string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sports api status %d: %s", e.Code, e.Excerpt)
}

// maxExcerpt bounds how much of an error body is kept for logging.
const maxExcerpt = 512

// SportsClient queries the upstream sports data API.
type SportsClient struct {
	httpClient *http.Client
	baseURL    string
	user       string
	secret     string
	attempts   uint
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewSportsClient creates a SportsClient. The metrics parameter is optional.
func NewSportsClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *SportsClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	attempts := cfg.Sports.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	return &SportsClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Sports.TimeoutSeconds) * time.Second,
		},
		baseURL:  cfg.Sports.BaseURL,
		user:     cfg.Sports.User,
		secret:   cfg.Sports.Secret,
		attempts: attempts,
		logger:   logger.With("component", "sports_client"),
		metrics:  m,
	}
}

// LiveStreams returns the upstream live stream listing.
func (c *SportsClient) LiveStreams(ctx context.Context) ([]model.RawStream, error) {
	var payload struct {
		Results []model.RawStream `json:"results"`
	}
	if err := c.get(ctx, "/v1/video/play/stream/list", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// Results returns the raw "results" member of an arbitrary API endpoint.
// A missing member yields nil.
func (c *SportsClient) Results(ctx context.Context, path string, query url.Values) (model.RawResults, error) {
	var payload struct {
		Results model.RawResults `json:"results"`
	}
	if err := c.get(ctx, path, query, &payload); err != nil {
		return nil, err
	}
	return payload.Results, nil
}

// get performs an authenticated GET and decodes the JSON body into out.
// Network errors and 5xx responses are retried with backoff; 4xx are not.
func (c *SportsClient) get(ctx context.Context, path string, query url.Values, out any) error {
	q := make(url.Values, len(query)+2)
	for k, v := range query {
		q[k] = v
	}
	q.Set("user", c.user)
	q.Set("secret", c.secret)
	target := c.baseURL + path + "?" + q.Encode()

	body, err := retry.DoWithData(
		func() ([]byte, error) { return c.fetch(ctx, target) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying sports api request", "attempt", n+1, "path", path, "err", Redact(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("sports api %s: %w", path, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("sports api %s: decode: %w", path, err)
	}
	return nil
}

func (c *SportsClient) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues("sports").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues("sports", strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxExcerpt))
		serr := &StatusError{Code: resp.StatusCode, Excerpt: string(excerpt)}
		if resp.StatusCode < 500 {
			return nil, retry.Unrecoverable(serr)
		}
		return nil, serr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Redact strips API credentials from error messages that may contain upstream URLs.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
