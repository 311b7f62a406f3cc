// Package model defines shared types for the relay and the sports API surface.
package model

import (
	"context"
	"io"
	"net/http"

	"sportstream-relay/internal/manifest"
)

// ProxyRequest is one inbound relay request.
type ProxyRequest struct {
	Ctx context.Context
	// TargetURL is the raw url query value; it may still be percent-encoded.
	TargetURL string
	// UserAgent is the client's own User-Agent, forwarded when present.
	UserAgent string
	// ProxyEndpoint is the public relay URL used when rewriting playlists.
	ProxyEndpoint string
}

// UpstreamResponse is the relay result handed back to the HTTP layer.
// For playlists Body holds the rewritten manifest; for segments it is the
// live upstream body. The caller must close Body.
type UpstreamResponse struct {
	Kind       manifest.Kind
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Target     string
}
