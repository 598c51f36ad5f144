// Package errors defines the structured error returned by every Zulip API call.
//
// An *Error carries exactly one Kind:
//
//   - KindBuild: the request could not be constructed (bad site address,
//     unencodable parameters, a consumed queue builder).
//   - KindTransport: bytes may have been sent but the exchange failed at the
//     network or HTTP layer, including 5xx responses and bodies that do not decode.
//   - KindApplication: the server answered 4xx with a structured payload,
//     available as an *ApplicationError.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the three top-level failure classes.
type Kind int

const (
	// KindBuild means the request never left the client.
	KindBuild Kind = iota + 1
	// KindTransport means a network or HTTP-layer failure.
	KindTransport
	// KindApplication means the server rejected the request semantically.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindBuild:
		return "build"
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error is the structured error returned by the client.
type Error struct {
	// Kind is the top-level classification.
	Kind Kind
	// Method and Endpoint identify the request, when one was attempted.
	Method   string
	Endpoint string
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Err is the underlying build or transport failure. Nil for application errors.
	Err error
	// App is the decoded server payload. Set only for KindApplication.
	App *ApplicationError
}

// NewBuild wraps a request construction failure.
func NewBuild(err error) *Error {
	return &Error{Kind: KindBuild, Err: err}
}

// NewTransport wraps a network or protocol failure.
func NewTransport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// NewApplication wraps a decoded server error payload.
func NewApplication(statusCode int, app *ApplicationError) *Error {
	return &Error{Kind: KindApplication, StatusCode: statusCode, App: app}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBuild:
		if e.Err != nil {
			return "builder error: " + e.Err.Error()
		}
		return "builder error"
	case KindApplication:
		if e.App != nil {
			return "zulip error: " + e.App.Error()
		}
		return "zulip error"
	default:
		if e.Err != nil {
			return "http client error: " + e.Err.Error()
		}
		return "http client error"
	}
}

// Unwrap exposes the build or transport cause, or the application payload.
func (e *Error) Unwrap() error {
	if e.Kind == KindApplication && e.App != nil {
		return e.App
	}
	return e.Err
}

// WithRequest records the request the error belongs to and returns e.
func (e *Error) WithRequest(method, endpoint string) *Error {
	e.Method = method
	e.Endpoint = endpoint
	return e
}

// IsBuild reports whether the request could not be constructed.
func (e *Error) IsBuild() bool { return e != nil && e.Kind == KindBuild }

// IsTransport reports whether the exchange failed below the application layer.
func (e *Error) IsTransport() bool { return e != nil && e.Kind == KindTransport }

// IsApplication reports whether the server returned a structured error.
func (e *Error) IsApplication() bool { return e != nil && e.Kind == KindApplication }

// Application returns the server payload, or nil for other kinds.
func (e *Error) Application() *ApplicationError {
	if e == nil || e.Kind != KindApplication {
		return nil
	}
	return e.App
}

// StatusError describes an HTTP response that carried no usable error payload.
type StatusError struct {
	StatusCode int
	Status     string
	// Body is the raw response body, possibly truncated.
	Body string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body == "" {
		return "unexpected response status " + status
	}
	return fmt.Sprintf("unexpected response status %s: %q", status, e.Body)
}

// maxBodyInError bounds how much of an undecodable body is kept in a StatusError.
const maxBodyInError = 512

// FromStatus classifies a received response. It returns nil for 2xx.
//
// 4xx bodies are decoded as an ApplicationError; a body that does not decode is
// reported as a transport failure. 5xx and non-standard codes such as 600 are
// transport failures. 1xx and 3xx must never reach this layer (the HTTP client
// follows redirects and consumes informational responses), so they panic.
func FromStatus(statusCode int, status string, body []byte) *Error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 400 && statusCode < 500:
		app, err := ParseApplicationError(body)
		if err != nil {
			return &Error{
				Kind:       KindTransport,
				StatusCode: statusCode,
				Err:        newStatusError(statusCode, status, body),
			}
		}
		return NewApplication(statusCode, app)
	case statusCode >= 100 && statusCode < 200, statusCode >= 300 && statusCode < 400:
		panic(fmt.Sprintf("zulip: unsupported response status %d reached the classifier", statusCode))
	default:
		return &Error{
			Kind:       KindTransport,
			StatusCode: statusCode,
			Err:        newStatusError(statusCode, status, body),
		}
	}
}

func newStatusError(statusCode int, status string, body []byte) *StatusError {
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	return &StatusError{StatusCode: statusCode, Status: status, Body: string(body)}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Kind
	}
	return 0
}

// AsApplication extracts the server payload from err, if any.
func AsApplication(err error) (*ApplicationError, bool) {
	var app *ApplicationError
	if errors.As(err, &app) {
		return app, true
	}
	return nil, false
}

// IsRateLimitHit reports whether err is an application error with code RATE_LIMIT_HIT.
func IsRateLimitHit(err error) bool {
	app, ok := AsApplication(err)
	return ok && app.IsRateLimitHit()
}

// IsAuthFailed reports whether err is an application error with code AUTHENTICATION_FAILED.
func IsAuthFailed(err error) bool {
	app, ok := AsApplication(err)
	return ok && app.IsAuthFailed()
}

// IsDeactivated reports whether the user or the whole realm has been deactivated.
// Either way the session is permanently unusable.
func IsDeactivated(err error) bool {
	app, ok := AsApplication(err)
	return ok && (app.IsUserDeactivated() || app.IsRealmDeactivated())
}
