package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"sportstream-relay/internal/client"
	"sportstream-relay/internal/config"
	"sportstream-relay/internal/metrics"
	"sportstream-relay/internal/service"
	"sportstream-relay/internal/store"
)

const (
	testAdminPassword = "hunter2"
	testAdminToken    = "test-admin-token"
)

const testListing = `{"code":0,"results":[
	{"id":"f1","match_id":"m-f1","sport_id":1,"sport_name":"Football","comp":"Serie A","home":"Inter","away":"Milan","match_time":1712415600,"playurl1":"https://cdn.example/f1.m3u8"},
	{"id":"b1","sport_id":2,"home":"Cubs","away":"Mets","match_time":1712415600,"playurl2":"https://cdn.example/b1.m3u8"},
	{"id":"t1","sport_id":3,"home":"A","away":"B","playurl1":"https://cdn.example/t1.m3u8"}
]}`

// fixture is a fully wired Echo instance backed by a fake sports API and a
// temporary store.
type fixture struct {
	cfg     *config.Config
	store   *store.Store
	metrics *metrics.Metrics
	echo    *echo.Echo
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSportsServer(t *testing.T, listing string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/video/play/stream/list":
			_, _ = io.WriteString(w, listing)
		case "/v1/football/match/diary":
			_, _ = io.WriteString(w, `{"results":{"uuid":"`+r.URL.Query().Get("uuid")+`"}}`)
		case "/v1/amfootball/match/list":
			_, _ = io.WriteString(w, `{"results":[{"id":"x"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFixture(t *testing.T, listing string, mutate func(*config.Config)) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	sports := newSportsServer(t, listing)

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:   5,
			IdleConnections:  10,
			MaxPlaylistBytes: 1 << 20,
			ChunkBytes:       64 * 1024,
		},
		Sports: config.SportsConfig{
			BaseURL:         sports.URL,
			TimeoutSeconds:  5,
			CacheTTLSeconds: 60,
			RetryAttempts:   1,
		},
		Admin: config.AdminConfig{
			Username:     "admin",
			PasswordHash: string(hash),
			Token:        testAdminToken,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := testLogger()
	m := metrics.New()
	st, err := store.Open(filepath.Join(t.TempDir(), "handler.db"), logger)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	relay := service.NewRelayService(client.NewStreamClient(cfg, logger, m), cfg, logger)
	streams := service.NewStreamService(client.NewSportsClient(cfg, logger, m), st, cfg, logger, m)
	dashboard := service.NewDashboardService(st)
	admin := service.NewAdminService(cfg, st, streams, logger)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(echomw.Recover())

	RegisterRoutes(e, Routes{
		Config:    cfg,
		Metrics:   m,
		Relay:     NewRelayHandler(relay, cfg, m, logger),
		Matches:   NewMatchesHandler(streams, logger),
		Dashboard: NewDashboardHandler(dashboard, logger),
		Admin:     NewAdminHandler(admin, logger),
		Health:    NewHealthHandler(cfg, st, "test"),
	})

	return &fixture{cfg: cfg, store: st, metrics: m, echo: e}
}

// do serves one request through the fixture.
func (f *fixture) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	req := httptest.NewRequest(method, target, body)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantStatus, wantMessage string) {
	t.Helper()
	if rec.Code != wantCode {
		t.Fatalf("code = %d, want %d (body %s)", rec.Code, wantCode, rec.Body.String())
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Status != wantStatus {
		t.Errorf("status = %q, want %q", body.Status, wantStatus)
	}
	if wantMessage != "" && body.Message != wantMessage {
		t.Errorf("message = %q, want %q", body.Message, wantMessage)
	}
}

// counterValue returns the value of the counter family name with the given labels.
func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
