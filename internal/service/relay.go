// Package service implements the stream relay and the sports API services.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"sportstream-relay/internal/client"
	"sportstream-relay/internal/config"
	"sportstream-relay/internal/manifest"
	"sportstream-relay/internal/model"
)

// PlaylistContentType is used when the upstream does not declare one.
const PlaylistContentType = "application/vnd.apple.mpegurl"

// maxExcerpt bounds how much of an upstream error body is kept for logging.
const maxExcerpt = 512

// sniffLen is how much of a segment is inspected to guess a missing Content-Type.
const sniffLen = 512

// RelayService fetches playlists and segments from stream CDNs on behalf of clients.
type RelayService struct {
	client      *client.StreamClient
	headers     *HeaderPolicy
	logger      *slog.Logger
	timeout     time.Duration
	maxPlaylist int64
	buffers     sync.Pool
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.StreamClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	chunk := cfg.Upstream.ChunkBytes
	if chunk <= 0 {
		chunk = 32 * 1024
	}
	maxPlaylist := cfg.Upstream.MaxPlaylistBytes
	if maxPlaylist <= 0 {
		maxPlaylist = 5 * 1024 * 1024
	}
	return &RelayService{
		client:      c,
		headers:     NewHeaderPolicy(cfg),
		logger:      logger.With("component", "relay_service"),
		timeout:     cfg.Upstream.Timeout(),
		maxPlaylist: maxPlaylist,
		buffers: sync.Pool{New: func() any {
			b := make([]byte, chunk)
			return &b
		}},
	}
}

// DecodeFully percent-decodes s until decoding no longer changes it.
// Upstream producers sometimes encode stream URLs more than once.
func DecodeFully(s string) (string, error) {
	// Every round that changes s shortens it, so the loop terminates.
	for {
		d, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		if d == s {
			return s, nil
		}
		s = d
	}
}

// NormalizeTarget validates and decodes a raw relay target.
func NormalizeTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalidRequest("Stream URL is required for proxy.", nil)
	}
	decoded, err := DecodeFully(raw)
	if err != nil {
		return nil, invalidRequest("Stream URL is not properly encoded.", err)
	}
	u, err := url.Parse(decoded)
	if err != nil {
		return nil, invalidRequest("Stream URL could not be parsed.", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidRequest("Stream URL must be an absolute http(s) URL.", nil)
	}
	return u, nil
}

// Open fetches the target of pr. Playlists are read, rewritten and returned
// as an in-memory body with status 200. Segments are returned with the live
// upstream body, which the caller pipes to the client with Pipe.
// The caller must close the returned body.
func (s *RelayService) Open(pr *model.ProxyRequest) (*model.UpstreamResponse, error) {
	target, err := NormalizeTarget(pr.TargetURL)
	if err != nil {
		return nil, err
	}
	kind := manifest.Classify(target.Path)
	rawTarget := target.String()

	ctx := pr.Ctx
	cancel := context.CancelFunc(func() {})
	if kind == manifest.Playlist {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	s.logger.Debug("relaying", "kind", kind, "target", rawTarget)

	resp, err := s.client.Get(ctx, rawTarget, s.headers.Build(target, pr.UserAgent))
	if err != nil {
		cancel()
		return nil, fetchError(rawTarget, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		return nil, statusError(rawTarget, resp)
	}

	if kind == manifest.Segment {
		return s.segment(rawTarget, resp), nil
	}

	defer cancel()
	defer func() { _ = resp.Body.Close() }()
	return s.playlist(target, resp, pr.ProxyEndpoint)
}

func (s *RelayService) segment(target string, resp *http.Response) *model.UpstreamResponse {
	header := filterResponseHeaders(resp.Header, manifest.Segment)
	body := resp.Body

	if header.Get("Content-Type") == "" {
		br := bufio.NewReaderSize(resp.Body, sniffLen)
		peeked, _ := br.Peek(sniffLen)
		header.Set("Content-Type", mimetype.Detect(peeked).String())
		body = struct {
			io.Reader
			io.Closer
		}{br, resp.Body}
	}

	return &model.UpstreamResponse{
		Kind:       manifest.Segment,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Target:     target,
	}
}

func (s *RelayService) playlist(target *url.URL, resp *http.Response, endpoint string) (*model.UpstreamResponse, error) {
	rawTarget := target.String()

	text, err := s.readPlaylist(resp)
	if err != nil {
		var re *RelayError
		if errors.As(err, &re) {
			re.Target = rawTarget
			return nil, re
		}
		if isTimeout(err) {
			return nil, &RelayError{Kind: KindUpstreamTimeout, Target: rawTarget, Message: "Stream source request timed out.", Err: err}
		}
		return nil, &RelayError{Kind: KindPipeFailure, Target: rawTarget, Message: "Failed to read playlist from source.", Err: err}
	}

	rewritten := manifest.Rewrite(text, manifest.Context{
		BaseURL:       manifest.BasePath(rawTarget),
		ProxyEndpoint: endpoint,
	})

	header := filterResponseHeaders(resp.Header, manifest.Playlist)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", PlaylistContentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(rewritten)))

	return &model.UpstreamResponse{
		Kind:       manifest.Playlist,
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(rewritten)),
		Target:     rawTarget,
	}, nil
}

// readPlaylist buffers the playlist body, decoding it when the upstream
// ignored the identity Accept-Encoding.
func (s *RelayService) readPlaylist(resp *http.Response) (string, error) {
	var r io.Reader = resp.Body

	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return "", fmt.Errorf("gzip playlist: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return "", fmt.Errorf("deflate playlist: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "br":
		r = brotli.NewReader(r)
	default:
		return "", &RelayError{
			Kind:           KindUpstreamError,
			UpstreamStatus: http.StatusBadGateway,
			Message:        fmt.Sprintf("Unsupported playlist encoding %q.", enc),
		}
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxPlaylist+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxPlaylist {
		return "", &RelayError{Kind: KindPipeFailure, Message: "Playlist exceeds the size limit."}
	}
	return string(data), nil
}

// Pipe copies src to dst in fixed-size chunks, flushing after every write
// so the client receives bytes as they arrive. A slow client blocks the
// write, which stops further upstream reads. The returned error wraps
// ErrClientGone when the client side failed.
func (s *RelayService) Pipe(dst io.Writer, src io.Reader) (int64, error) {
	bufp := s.buffers.Get().(*[]byte)
	defer s.buffers.Put(bufp)
	buf := *bufp

	flusher, _ := dst.(http.Flusher)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, &RelayError{Kind: KindPipeFailure, Message: "write to client", Err: fmt.Errorf("%w: %w", ErrClientGone, werr)}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if errors.Is(rerr, context.Canceled) {
				return written, &RelayError{Kind: KindPipeFailure, Message: "read from upstream", Err: fmt.Errorf("%w: %w", ErrClientGone, rerr)}
			}
			return written, &RelayError{Kind: KindPipeFailure, Message: "read from upstream", Err: rerr}
		}
	}
}

func fetchError(target string, err error) *RelayError {
	switch {
	case errors.Is(err, context.Canceled):
		return &RelayError{Kind: KindPipeFailure, Target: target, Message: "Client went away before the stream source answered.", Err: fmt.Errorf("%w: %w", ErrClientGone, err)}
	case isTimeout(err):
		return &RelayError{Kind: KindUpstreamTimeout, Target: target, Message: "Stream source request timed out.", Err: err}
	default:
		return &RelayError{Kind: KindUpstreamError, Target: target, Message: "Failed to proxy stream.", Err: err}
	}
}

func statusError(target string, resp *http.Response) *RelayError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxExcerpt))
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return &RelayError{
			Kind:           KindUpstreamForbidden,
			UpstreamStatus: resp.StatusCode,
			Target:         target,
			Message:        "Access to stream source forbidden. It might be hotlinking protected or require specific headers.",
			Excerpt:        string(excerpt),
		}
	}
	return &RelayError{
		Kind:           KindUpstreamError,
		UpstreamStatus: resp.StatusCode,
		Target:         target,
		Message:        fmt.Sprintf("Failed to fetch stream from source: Status %d", resp.StatusCode),
		Excerpt:        string(excerpt),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
