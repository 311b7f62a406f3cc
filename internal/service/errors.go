package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies relay failures.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindUpstreamForbidden
	KindUpstreamError
	KindUpstreamTimeout
	KindPipeFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindUpstreamForbidden:
		return "upstream_forbidden"
	case KindUpstreamError:
		return "upstream_error"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindPipeFailure:
		return "pipe_failure"
	default:
		return "unknown"
	}
}

// ErrClientGone is wrapped by pipe errors caused by the client going away.
var ErrClientGone = errors.New("client disconnected")

// RelayError is the typed failure returned by the relay.
type RelayError struct {
	Kind Kind
	// UpstreamStatus is the upstream HTTP status, or 0 when no response arrived.
	UpstreamStatus int
	Target         string
	// Message is safe to show to clients.
	Message string
	// Excerpt is the start of the upstream error body, for logs only.
	Excerpt string
	Err     error
}

func (e *RelayError) Error() string {
	msg := e.Message
	if e.UpstreamStatus != 0 {
		msg = fmt.Sprintf("%s (upstream status %d)", msg, e.UpstreamStatus)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Status returns the HTTP status a client should receive for the error.
func (e *RelayError) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamForbidden:
		return http.StatusForbidden
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamError:
		if e.UpstreamStatus >= 400 && e.UpstreamStatus <= 599 {
			return e.UpstreamStatus
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(msg string, err error) *RelayError {
	return &RelayError{Kind: KindInvalidRequest, Message: msg, Err: err}
}

// APIError is a failure of the sports data endpoints. Message is safe to
// show to clients.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }
