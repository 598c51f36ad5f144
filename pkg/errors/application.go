package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Discriminator tags sent by the server in the "code" field.
const (
	TagBadRequest             = "BAD_REQUEST"
	TagRequestVariableMissing = "REQUEST_VARIABLE_MISSING"
	TagUserDeactivated        = "USER_DEACTIVATED"
	TagRealmDeactivated       = "REALM_DEACTIVATED"
	TagRateLimitHit           = "RATE_LIMIT_HIT"
	TagAuthenticationFailed   = "AUTHENTICATION_FAILED"
)

// Code is the closed set of error codes the client understands. Codes the
// server adds later decode to a nil Code rather than failing.
type Code interface {
	// Tag returns the wire discriminator.
	Tag() string
	isCode()
}

// BadRequest is the generic BAD_REQUEST code.
type BadRequest struct{}

// RequestVariableMissing means a required request parameter was absent.
type RequestVariableMissing struct {
	VarName string
}

// UserDeactivated means the authenticated account has been deactivated.
type UserDeactivated struct{}

// RealmDeactivated means the whole organization has been deactivated.
type RealmDeactivated struct{}

// RateLimitHit means the caller must wait RetryAfter seconds before retrying.
type RateLimitHit struct {
	RetryAfter float64
}

// AuthenticationFailed means the credentials were rejected.
type AuthenticationFailed struct{}

func (BadRequest) Tag() string             { return TagBadRequest }
func (RequestVariableMissing) Tag() string { return TagRequestVariableMissing }
func (UserDeactivated) Tag() string        { return TagUserDeactivated }
func (RealmDeactivated) Tag() string       { return TagRealmDeactivated }
func (RateLimitHit) Tag() string           { return TagRateLimitHit }
func (AuthenticationFailed) Tag() string   { return TagAuthenticationFailed }

func (BadRequest) isCode()             {}
func (RequestVariableMissing) isCode() {}
func (UserDeactivated) isCode()        {}
func (RealmDeactivated) isCode()       {}
func (RateLimitHit) isCode()           {}
func (AuthenticationFailed) isCode()   {}

// maxRetrySeconds is the largest RetryAfter a time.Duration can hold.
const maxRetrySeconds = float64(math.MaxInt64) / float64(time.Second)

// Duration converts RetryAfter to a time.Duration. NaN and negative delays
// become zero and delays past the int64 range saturate at math.MaxInt64.
func (r RateLimitHit) Duration() time.Duration {
	switch {
	case math.IsNaN(r.RetryAfter) || r.RetryAfter <= 0:
		return 0
	case r.RetryAfter >= maxRetrySeconds:
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(r.RetryAfter * float64(time.Second))
	}
}

// ApplicationError is the error payload of a 4xx response.
type ApplicationError struct {
	// Message is the human-readable description from the server.
	Message string
	// Code is nil when the server sent no code or one this client does not know.
	Code Code
}

// errorPayload mirrors the wire shape. Pointers distinguish absent fields.
// Only the message gates decoding; the code and its extra fields stay raw so
// a mistyped value degrades to a nil Code.
type errorPayload struct {
	Message    *string         `json:"message"`
	Msg        *string         `json:"msg"`
	Code       json.RawMessage `json:"code"`
	VarName    json.RawMessage `json:"var_name"`
	RetryAfter json.RawMessage `json:"retry_after"`
	// Deployed servers spell it with a hyphen.
	RetryAfterHyphen json.RawMessage `json:"retry-after"`
}

var errMissingMessage = errors.New("error payload has no message")

// ParseApplicationError decodes a 4xx body.
func ParseApplicationError(body []byte) (*ApplicationError, error) {
	var app ApplicationError
	if err := json.Unmarshal(body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// UnmarshalJSON selects the Code variant from the "code" discriminator.
func (e *ApplicationError) UnmarshalJSON(data []byte) error {
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	switch {
	case payload.Message != nil:
		e.Message = *payload.Message
	case payload.Msg != nil:
		e.Message = *payload.Msg
	default:
		return errMissingMessage
	}

	e.Code = decodeCode(payload)
	return nil
}

// decodeLenient returns nil unless raw holds a non-null T.
func decodeLenient[T any](raw json.RawMessage) *T {
	if len(raw) == 0 {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func decodeCode(payload errorPayload) Code {
	tag := decodeLenient[string](payload.Code)
	if tag == nil {
		return nil
	}

	switch *tag {
	case TagBadRequest:
		return BadRequest{}
	case TagRequestVariableMissing:
		varName := decodeLenient[string](payload.VarName)
		if varName == nil {
			return nil
		}
		return RequestVariableMissing{VarName: *varName}
	case TagUserDeactivated:
		return UserDeactivated{}
	case TagRealmDeactivated:
		return RealmDeactivated{}
	case TagRateLimitHit:
		retryAfter := decodeLenient[float64](payload.RetryAfter)
		if retryAfter == nil {
			retryAfter = decodeLenient[float64](payload.RetryAfterHyphen)
		}
		if retryAfter == nil {
			return nil
		}
		return RateLimitHit{RetryAfter: *retryAfter}
	case TagAuthenticationFailed:
		return AuthenticationFailed{}
	default:
		return nil
	}
}

func (e *ApplicationError) Error() string {
	switch code := e.Code.(type) {
	case BadRequest:
		return "bad request: " + e.Message
	case RateLimitHit:
		return fmt.Sprintf("rate limit hit, retry after %ss", strconv.FormatFloat(code.RetryAfter, 'f', -1, 64))
	case RealmDeactivated:
		return "realm deactivated: " + e.Message
	case UserDeactivated:
		return "account deactivated: " + e.Message
	case RequestVariableMissing:
		return fmt.Sprintf("missing '%s' argument", code.VarName)
	case AuthenticationFailed:
		return "authentication failed: " + e.Message
	default:
		return e.Message
	}
}

func (e *ApplicationError) IsBadRequest() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(BadRequest)
	return ok
}

func (e *ApplicationError) IsVariableMissing() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(RequestVariableMissing)
	return ok
}

func (e *ApplicationError) IsUserDeactivated() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(UserDeactivated)
	return ok
}

func (e *ApplicationError) IsRealmDeactivated() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(RealmDeactivated)
	return ok
}

func (e *ApplicationError) IsRateLimitHit() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(RateLimitHit)
	return ok
}

func (e *ApplicationError) IsAuthFailed() bool {
	if e == nil {
		return false
	}
	_, ok := e.Code.(AuthenticationFailed)
	return ok
}

// RetryAfter returns how long the server asked the caller to wait. The second
// result is false unless err carries a RATE_LIMIT_HIT code.
func RetryAfter(err error) (time.Duration, bool) {
	app, ok := AsApplication(err)
	if !ok {
		return 0, false
	}
	hit, ok := app.Code.(RateLimitHit)
	if !ok {
		return 0, false
	}
	return hit.Duration(), true
}
