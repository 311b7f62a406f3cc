package service

import (
	"net/http"
	"net/url"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/manifest"
)

// playlistResponseHeaders are forwarded for rewritten playlists. Length and
// encoding headers are dropped because the body is re-emitted.
var playlistResponseHeaders = []string{
	"Content-Type",
	"Cache-Control",
}

// segmentResponseHeaders are forwarded for segments piped verbatim.
var segmentResponseHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"Content-Length",
	"Content-Encoding",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"Etag",
}

// HeaderPolicy builds the forged request headers sent to stream CDNs.
// Nothing from the client is forwarded except its User-Agent.
type HeaderPolicy struct {
	UserAgent   string
	RefererMode string
	Extra       map[string]string
}

// NewHeaderPolicy creates a HeaderPolicy from the upstream config.
func NewHeaderPolicy(cfg *config.Config) *HeaderPolicy {
	return &HeaderPolicy{
		UserAgent:   cfg.Upstream.UserAgent,
		RefererMode: cfg.Upstream.RefererMode,
		Extra:       cfg.Upstream.Headers,
	}
}

// Build returns the upstream request headers for target.
func (p *HeaderPolicy) Build(target *url.URL, clientUA string) http.Header {
	h := make(http.Header)
	for k, v := range p.Extra {
		h.Set(k, v)
	}

	ua := clientUA
	if ua == "" {
		ua = p.UserAgent
	}
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	h.Set("User-Agent", ua)

	origin := target.Scheme + "://" + target.Host
	referer := manifest.BasePath(target.String())
	if p.RefererMode == config.RefererOrigin {
		referer = origin + "/"
	}
	h.Set("Referer", referer)
	h.Set("Origin", origin)
	h.Set("Accept", "*/*")
	h.Set("Connection", "keep-alive")
	// Identity keeps playlist text rewritable and segment bytes verbatim.
	h.Set("Accept-Encoding", "identity")

	return h
}

// filterResponseHeaders copies the headers a client may see for kind.
func filterResponseHeaders(src http.Header, kind manifest.Kind) http.Header {
	keys := segmentResponseHeaders
	if kind == manifest.Playlist {
		keys = playlistResponseHeaders
	}
	dst := make(http.Header)
	for _, key := range keys {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}
