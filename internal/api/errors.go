package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upload failure for retry decisions.
type Kind int

const (
	// KindNetwork covers transport failures and request timeouts.
	KindNetwork Kind = iota
	// KindServer covers 5xx, 408 and 429 responses and unreadable replies.
	KindServer
	// KindAuth means the token was refused.
	KindAuth
	// KindRejected means the file itself was refused or could not be read.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindServer:
		return "server error"
	case KindAuth:
		return "auth error"
	case KindRejected:
		return "rejected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by every Client call that reaches or tries to reach the API.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient upload failure.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == KindNetwork || kind == KindServer)
}

// KindOf extracts the Kind from err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return KindServer
	case code >= 500:
		return KindServer
	default:
		return KindRejected
	}
}
