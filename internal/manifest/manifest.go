// Package manifest classifies HLS media URLs and rewrites playlist references
// so that players fetch every sub-playlist and segment through the relay.
//
// Playlists are treated as opaque line-oriented text: directives (lines
// starting with '#') are never inspected for embedded URIs.
package manifest

import (
	"net/url"
	"strings"
)

// Kind is the classification of a relay target.
type Kind int

const (
	// Segment is an opaque binary media chunk, streamed through unmodified.
	Segment Kind = iota
	// Playlist is an M3U8 text manifest that must be rewritten before delivery.
	Playlist
)

func (k Kind) String() string {
	if k == Playlist {
		return "playlist"
	}
	return "segment"
}

const (
	playlistExt = ".m3u8"
	segmentExt  = ".ts"
)

// Classify reports whether the URL path names a playlist or a segment.
// Only the path is inspected, so signed query strings do not affect the result.
func Classify(path string) Kind {
	if strings.HasSuffix(strings.ToLower(path), playlistExt) {
		return Playlist
	}
	return Segment
}

// Context carries the per-request inputs of a rewrite.
type Context struct {
	// BaseURL is the directory prefix of the manifest URL, ending in '/'.
	BaseURL string
	// ProxyEndpoint is the public URL of the relay endpoint.
	ProxyEndpoint string
}

// BasePath returns the directory portion of rawURL: everything up to and
// including the last '/'.
func BasePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL[:strings.LastIndex(rawURL, "/")+1]
	}
	u.RawQuery = ""
	u.Fragment = ""
	s := u.String()
	return s[:strings.LastIndex(s, "/")+1]
}

// ProxyURL returns the relay URL that fetches target.
func (c Context) ProxyURL(target string) string {
	sep := "?"
	if strings.Contains(c.ProxyEndpoint, "?") {
		sep = "&"
	}
	return c.ProxyEndpoint + sep + "url=" + url.QueryEscape(target)
}

// Rewrite returns text with every media reference replaced by a relay URL.
// Line order and count are preserved; blank lines, directives and
// references that are not .m3u8 or .ts pass through unchanged.
func Rewrite(text string, ctx Context) string {
	base, err := url.Parse(ctx.BaseURL)
	if err != nil {
		base = nil
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if target, ok := resolve(strings.TrimSpace(line), base); ok {
			lines[i] = ctx.ProxyURL(target)
		}
	}
	return strings.Join(lines, "\n")
}

// resolve returns the absolute URL a manifest line refers to, or false when
// the line must be left alone.
func resolve(line string, base *url.URL) (string, bool) {
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	ref, err := url.Parse(line)
	if err != nil {
		return "", false
	}
	if !isMedia(ref.Path) {
		return "", false
	}
	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return "", false
		}
		return line, true
	}
	if base == nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func isMedia(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, playlistExt) || strings.HasSuffix(p, segmentExt)
}
