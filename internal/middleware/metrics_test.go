package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"sportstream-relay/internal/metrics"
)

// requestCounters returns the request counter samples keyed by route.
func requestCounters(t *testing.T, m *metrics.Metrics) map[string]map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := map[string]map[string]string{}
	for _, f := range families {
		if f.GetName() != "sportstream_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[labels["route"]] = labels
		}
	}
	return out
}

func TestMetricsMiddleware_LabelsRouteTemplate(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/api/matches/:sportName/list", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/api/matches/football/list", "/api/matches/baseball/list"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	counters := requestCounters(t, m)
	if len(counters) != 1 {
		t.Fatalf("routes = %v, want a single templated route", counters)
	}
	labels, ok := counters["/api/matches/:sportName/list"]
	if !ok {
		t.Fatalf("missing route label, got %v", counters)
	}
	if labels["method"] != "GET" || labels["status_code"] != "200" {
		t.Errorf("labels = %v", labels)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "sportstream_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected sportstream_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/api/matches/streams", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/matches/streams", http.NoBody))

	labels, ok := requestCounters(t, m)["/api/matches/streams"]
	if !ok {
		t.Fatal("expected a sample for /api/matches/streams")
	}
	if labels["status_code"] != "404" {
		t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/proxy-stream", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("XYZZY", "/proxy-stream", http.NoBody))

	labels, ok := requestCounters(t, m)["/proxy-stream"]
	if !ok {
		t.Fatal("expected a sample for /proxy-stream")
	}
	if labels["method"] != "other" {
		t.Errorf("method = %q, want %q", labels["method"], "other")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent/abc", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	counters := requestCounters(t, m)
	if _, ok := counters["/nonexistent/abc"]; ok {
		t.Error("raw request path used as a route label")
	}
	found := false
	for _, labels := range counters {
		if labels["status_code"] == "404" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a 404 sample, got %v", counters)
	}
}
