package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/klauspost/compress/gzip"

	"sportstream-relay/internal/client"
	"sportstream-relay/internal/config"
	"sportstream-relay/internal/model"
)

const testEndpoint = "http://relay.test/api/matches/proxy-stream"

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:   5,
			IdleConnections:  10,
			MaxPlaylistBytes: 1 << 20,
			ChunkBytes:       32 * 1024,
		},
	}
}

func newTestRelay(t *testing.T, cfg *config.Config) *RelayService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRelayService(client.NewStreamClient(cfg, logger, nil), cfg, logger)
}

func openURL(t *testing.T, s *RelayService, ctx context.Context, target string) (*model.UpstreamResponse, error) {
	t.Helper()
	return s.Open(&model.ProxyRequest{
		Ctx:           ctx,
		TargetURL:     target,
		UserAgent:     "TestPlayer/1.0",
		ProxyEndpoint: testEndpoint,
	})
}

func relayErr(t *testing.T, err error) *RelayError {
	t.Helper()
	var re *RelayError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v (%T), want *RelayError", err, err)
	}
	return re
}

func readBody(t *testing.T, resp *model.UpstreamResponse) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestDecodeFully(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "https://cdn.example/a.ts", "https://cdn.example/a.ts", false},
		{"encoded once", "https%3A%2F%2Fcdn.example%2Fa.ts", "https://cdn.example/a.ts", false},
		{"encoded twice", "https%253A%252F%252Fcdn.example%252Fa.ts", "https://cdn.example/a.ts", false},
		{"encoded three times", "https%25253A%25252F%25252Fcdn.example%25252Fa.ts", "https://cdn.example/a.ts", false},
		{"invalid escape", "https://cdn.example/%zz.ts", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFully(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeFully(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DecodeFully(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if tt.wantErr {
				return
			}
			again, _ := DecodeFully(got)
			if again != got {
				t.Errorf("DecodeFully is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"absolute https", "https://cdn.example/live/index.m3u8?token=1", "https://cdn.example/live/index.m3u8?token=1", false},
		{"double encoded", url.QueryEscape(url.QueryEscape("http://cdn.example/x.ts")), "http://cdn.example/x.ts", false},
		{"surrounding spaces", "  https://cdn.example/x.ts ", "https://cdn.example/x.ts", false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
		{"relative", "/live/index.m3u8", "", true},
		{"ftp scheme", "ftp://cdn.example/x.ts", "", true},
		{"no host", "https:///x.ts", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NormalizeTarget(tt.raw)
			if tt.wantErr {
				re := relayErr(t, err)
				if re.Kind != KindInvalidRequest || re.Status() != http.StatusBadRequest {
					t.Errorf("kind = %v status = %d, want invalid_request 400", re.Kind, re.Status())
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeTarget(%q) error = %v", tt.raw, err)
			}
			if u.String() != tt.want {
				t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.raw, u.String(), tt.want)
			}
		})
	}
}

func TestNormalizeTarget_EmptyMessage(t *testing.T) {
	_, err := NormalizeTarget("")
	if re := relayErr(t, err); re.Message != "Stream URL is required for proxy." {
		t.Errorf("Message = %q", re.Message)
	}
}

func TestOpen_PlaylistRewritten(t *testing.T) {
	var gotHeader http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.Header()["Content-Type"] = nil
		w.Header().Set("Set-Cookie", "session=abc")
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:6\n\n#EXTINF:6.0,\nseg-001.ts\nlow/index.m3u8\nposter.jpg\n")
	}))
	defer upstream.Close()

	s := newTestRelay(t, testConfig())
	resp, err := openURL(t, s, context.Background(), upstream.URL+"/live/index.m3u8?token=abc")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body := readBody(t, resp)

	base := upstream.URL + "/live/"
	want := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:6",
		"",
		"#EXTINF:6.0,",
		testEndpoint + "?url=" + url.QueryEscape(base+"seg-001.ts"),
		testEndpoint + "?url=" + url.QueryEscape(base+"low/index.m3u8"),
		"poster.jpg",
		"",
	}, "\n")
	if body != want {
		t.Errorf("body =\n%s\nwant\n%s", body, want)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != PlaylistContentType {
		t.Errorf("Content-Type = %q, want %q", ct, PlaylistContentType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(want)) {
		t.Errorf("Content-Length = %q, want %d", cl, len(want))
	}
	if resp.Header.Get("Set-Cookie") != "" {
		t.Error("Set-Cookie leaked to client")
	}

	if ua := gotHeader.Get("User-Agent"); ua != "TestPlayer/1.0" {
		t.Errorf("upstream User-Agent = %q", ua)
	}
	if ref := gotHeader.Get("Referer"); ref != base {
		t.Errorf("upstream Referer = %q, want %q", ref, base)
	}
	if origin := gotHeader.Get("Origin"); origin != upstream.URL {
		t.Errorf("upstream Origin = %q, want %q", origin, upstream.URL)
	}
	if ae := gotHeader.Get("Accept-Encoding"); ae != "identity" {
		t.Errorf("upstream Accept-Encoding = %q, want identity", ae)
	}
}

func TestOpen_PlaylistKeepsUpstreamContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpegurl")
		_, _ = io.WriteString(w, "#EXTM3U\n")
	}))
	defer upstream.Close()

	resp, err := openURL(t, newTestRelay(t, testConfig()), context.Background(), upstream.URL+"/a.M3U8")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = readBody(t, resp)
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpegurl" {
		t.Errorf("Content-Type = %q, want audio/mpegurl", ct)
	}
}

func TestOpen_PlaylistGzip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", PlaylistContentType)
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, "#EXTM3U\nchunk.ts\n")
		_ = zw.Close()
	}))
	defer upstream.Close()

	resp, err := openURL(t, newTestRelay(t, testConfig()), context.Background(), upstream.URL+"/hls/master.m3u8")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body := readBody(t, resp)

	want := "#EXTM3U\n" + testEndpoint + "?url=" + url.QueryEscape(upstream.URL+"/hls/chunk.ts") + "\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Error("Content-Encoding forwarded for a re-emitted playlist")
	}
}

func TestOpen_PlaylistUnsupportedEncoding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		_, _ = w.Write([]byte{0x28, 0xb5, 0x2f, 0xfd})
	}))
	defer upstream.Close()

	_, err := openURL(t, newTestRelay(t, testConfig()), context.Background(), upstream.URL+"/a.m3u8")
	re := relayErr(t, err)
	if re.Kind != KindUpstreamError || re.Status() != http.StatusBadGateway {
		t.Errorf("kind = %v status = %d, want upstream_error 502", re.Kind, re.Status())
	}
	if re.Target == "" {
		t.Error("Target not set")
	}
}

func TestOpen_PlaylistTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n"+strings.Repeat("#EXT-X-PAD\n", 100))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Upstream.MaxPlaylistBytes = 64
	_, err := openURL(t, newTestRelay(t, cfg), context.Background(), upstream.URL+"/big.m3u8")
	re := relayErr(t, err)
	if re.Kind != KindPipeFailure || re.Status() != http.StatusInternalServerError {
		t.Errorf("kind = %v status = %d, want pipe_failure 500", re.Kind, re.Status())
	}
}

func TestOpen_UpstreamStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantKind   Kind
		wantStatus int
		wantMsg    string
	}{
		{"forbidden", http.StatusForbidden, KindUpstreamForbidden, http.StatusForbidden, "Access to stream source forbidden. It might be hotlinking protected or require specific headers."},
		{"not found", http.StatusNotFound, KindUpstreamError, http.StatusNotFound, "Failed to fetch stream from source: Status 404"},
		{"server error", http.StatusInternalServerError, KindUpstreamError, http.StatusInternalServerError, "Failed to fetch stream from source: Status 500"},
		{"bad gateway", http.StatusBadGateway, KindUpstreamError, http.StatusBadGateway, "Failed to fetch stream from source: Status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "denied by edge")
			}))
			defer upstream.Close()

			s := newTestRelay(t, testConfig())
			for _, path := range []string{"/live/index.m3u8", "/live/seg.ts"} {
				_, err := openURL(t, s, context.Background(), upstream.URL+path)
				re := relayErr(t, err)
				if re.Kind != tt.wantKind {
					t.Errorf("%s: Kind = %v, want %v", path, re.Kind, tt.wantKind)
				}
				if re.Status() != tt.wantStatus {
					t.Errorf("%s: Status() = %d, want %d", path, re.Status(), tt.wantStatus)
				}
				if re.Message != tt.wantMsg {
					t.Errorf("%s: Message = %q, want %q", path, re.Message, tt.wantMsg)
				}
				if re.Excerpt != "denied by edge" {
					t.Errorf("%s: Excerpt = %q", path, re.Excerpt)
				}
			}
		})
	}
}

func TestOpen_PlaylistTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	s := newTestRelay(t, testConfig())
	s.timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := openURL(t, s, context.Background(), upstream.URL+"/slow.m3u8")
	re := relayErr(t, err)
	if re.Kind != KindUpstreamTimeout || re.Status() != http.StatusGatewayTimeout {
		t.Errorf("kind = %v status = %d, want upstream_timeout 504", re.Kind, re.Status())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Open() took %v, want it bounded by the timeout", elapsed)
	}
}

func TestOpen_NetworkError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := upstream.URL + "/gone.ts"
	upstream.Close()

	_, err := openURL(t, newTestRelay(t, testConfig()), context.Background(), target)
	re := relayErr(t, err)
	if re.Kind != KindUpstreamError || re.Status() != http.StatusInternalServerError {
		t.Errorf("kind = %v status = %d, want upstream_error 500", re.Kind, re.Status())
	}
	if re.Message != "Failed to proxy stream." {
		t.Errorf("Message = %q", re.Message)
	}
}

func TestOpen_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "x")
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openURL(t, newTestRelay(t, testConfig()), ctx, upstream.URL+"/a.ts")
	re := relayErr(t, err)
	if re.Kind != KindPipeFailure {
		t.Errorf("Kind = %v, want pipe_failure", re.Kind)
	}
	if !errors.Is(err, ErrClientGone) {
		t.Error("error does not wrap ErrClientGone")
	}
}

func TestOpen_SegmentPassthrough(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47, 0x40, 0x00, 0x10}, 4096)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Header().Set("Set-Cookie", "edge=1")
		w.Header().Set("Server", "edge-cache")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	s := newTestRelay(t, testConfig())
	resp, err := openURL(t, s, context.Background(), upstream.URL+"/live/seg-7.ts?sig=abc")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Kind.String() != "segment" {
		t.Errorf("Kind = %v, want segment", resp.Kind)
	}
	if resp.Header.Get("Content-Type") != "video/mp2t" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Content-Length") != strconv.Itoa(len(payload)) {
		t.Errorf("Content-Length = %q", resp.Header.Get("Content-Length"))
	}
	for _, h := range []string{"Set-Cookie", "Server"} {
		if resp.Header.Get(h) != "" {
			t.Errorf("%s leaked to client", h)
		}
	}

	var dst bytes.Buffer
	n, err := s.Pipe(&dst, resp.Body)
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	if n != int64(len(payload)) || !bytes.Equal(dst.Bytes(), payload) {
		t.Errorf("Pipe() copied %d bytes, body mismatch", n)
	}
}

func TestOpen_SegmentSniffsMissingContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write(png)
	}))
	defer upstream.Close()

	resp, err := openURL(t, newTestRelay(t, testConfig()), context.Background(), upstream.URL+"/seg.ts")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body := readBody(t, resp)

	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if body != string(png) {
		t.Error("sniffing consumed part of the body")
	}
}

// recordingWriter records each write and flush.
type recordingWriter struct {
	writes  []int
	flushes int
	buf     bytes.Buffer
	failAt  int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.writes) >= w.failAt {
		return 0, errors.New("broken pipe")
	}
	w.writes = append(w.writes, len(p))
	return w.buf.Write(p)
}

func (w *recordingWriter) Flush() { w.flushes++ }

func TestPipe_ChunksAndFlushes(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.ChunkBytes = 64 * 1024
	s := newTestRelay(t, cfg)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 10*1024*1024/16)
	w := &recordingWriter{}
	n, err := s.Pipe(w, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Pipe() = %d, want %d", n, len(payload))
	}
	if !bytes.Equal(w.buf.Bytes(), payload) {
		t.Error("piped bytes differ from source")
	}
	if len(w.writes) != 160 {
		t.Errorf("writes = %d, want 160", len(w.writes))
	}
	for i, size := range w.writes {
		if size > 64*1024 {
			t.Fatalf("write %d is %d bytes, larger than a chunk", i, size)
		}
	}
	if w.flushes != len(w.writes) {
		t.Errorf("flushes = %d, want one per write (%d)", w.flushes, len(w.writes))
	}
}

func TestPipe_ClientWriteFailure(t *testing.T) {
	s := newTestRelay(t, testConfig())
	w := &recordingWriter{failAt: 2}

	n, err := s.Pipe(w, bytes.NewReader(make([]byte, 256*1024)))
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("Pipe() error = %v, want ErrClientGone", err)
	}
	if re := relayErr(t, err); re.Kind != KindPipeFailure {
		t.Errorf("Kind = %v, want pipe_failure", re.Kind)
	}
	if n != 64*1024 {
		t.Errorf("written = %d, want two chunks", n)
	}
}

func TestPipe_ReadFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		clientGone bool
	}{
		{"upstream reset", errors.New("connection reset by peer"), false},
		{"request canceled", context.Canceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestRelay(t, testConfig())
			src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(tt.err))

			var dst bytes.Buffer
			n, err := s.Pipe(&dst, src)
			re := relayErr(t, err)
			if re.Kind != KindPipeFailure {
				t.Errorf("Kind = %v, want pipe_failure", re.Kind)
			}
			if errors.Is(err, ErrClientGone) != tt.clientGone {
				t.Errorf("errors.Is(ErrClientGone) = %v, want %v", !tt.clientGone, tt.clientGone)
			}
			if n != int64(len("partial")) || dst.String() != "partial" {
				t.Errorf("Pipe() wrote %d bytes %q before failing", n, dst.String())
			}
		})
	}
}

func TestRelayError_Status(t *testing.T) {
	tests := []struct {
		err  *RelayError
		want int
	}{
		{&RelayError{Kind: KindInvalidRequest}, http.StatusBadRequest},
		{&RelayError{Kind: KindUpstreamForbidden, UpstreamStatus: 403}, http.StatusForbidden},
		{&RelayError{Kind: KindUpstreamError, UpstreamStatus: 404}, http.StatusNotFound},
		{&RelayError{Kind: KindUpstreamError, UpstreamStatus: 503}, http.StatusServiceUnavailable},
		{&RelayError{Kind: KindUpstreamError, UpstreamStatus: 302}, http.StatusInternalServerError},
		{&RelayError{Kind: KindUpstreamError}, http.StatusInternalServerError},
		{&RelayError{Kind: KindUpstreamTimeout}, http.StatusGatewayTimeout},
		{&RelayError{Kind: KindPipeFailure}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			if got := tt.err.Status(); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}
