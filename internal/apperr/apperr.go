// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for clients and for HTTP status mapping.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindDuplicate     Kind = "duplicate_request"
	KindLLMProvider   Kind = "llm_provider_error"
	KindDatabase      Kind = "database_error"
	KindStateAccess   Kind = "state_access_error"
	KindTimeout       Kind = "timeout"
	KindNotFound      Kind = "not_found"
	KindUpstream      Kind = "upstream_error"
	KindInternal      Kind = "internal_error"
)

// Error is a classified error with a client-safe message and identifiers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches an identifier to the error details and returns e.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, msg string, err error, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Err: err, Details: details}
}

// Validation reports a bad input field.
func Validation(field string, value any, reason string) *Error {
	return newError(KindValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil, map[string]any{
		"field":  field,
		"value":  value,
		"reason": reason,
	})
}

// QuotaExceeded reports that a daily or monthly ceiling was hit.
func QuotaExceeded(period string, used, limit int) *Error {
	return newError(KindQuotaExceeded,
		fmt.Sprintf("%s quota exceeded: %d of %d requests used", period, used, limit), nil,
		map[string]any{"period": period, "used": used, "limit": limit})
}

// Duplicate reports a repeated request fingerprint inside the dedup window.
func Duplicate(fingerprint string, window time.Duration) *Error {
	return newError(KindDuplicate,
		fmt.Sprintf("duplicate request: the same topic and date were requested within the last %s", window), nil,
		map[string]any{"fingerprint": fingerprint, "window": window.String()})
}

// LLMProvider reports that every attempted provider failed.
func LLMProvider(attempted []string, cause error) *Error {
	msg := "no LLM provider available"
	if len(attempted) > 0 {
		msg = fmt.Sprintf("all LLM providers failed (tried %s)", strings.Join(attempted, ", "))
	}
	return newError(KindLLMProvider, msg, cause, map[string]any{"providers": attempted})
}

// Database reports a persistence failure for the named operation.
func Database(op string, err error) *Error {
	return newError(KindDatabase, fmt.Sprintf("database operation %q failed", op), err,
		map[string]any{"operation": op})
}

// StateAccess reports required pipeline fields that were empty at a step boundary.
func StateAccess(step string, missing, available []string) *Error {
	return newError(KindStateAccess,
		fmt.Sprintf("step %q is missing required state: %s", step, strings.Join(missing, ", ")), nil,
		map[string]any{"step": step, "missing": missing, "available": available})
}

// Timeout reports that the request deadline passed.
func Timeout(err error) *Error {
	return newError(KindTimeout, "request timed out", err, nil)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return newError(KindNotFound, fmt.Sprintf("%s not found", resource), nil,
		map[string]any{"resource": resource, "id": id})
}

// Upstream reports a failed call to an external service other than an LLM.
func Upstream(service string, err error) *Error {
	return newError(KindUpstream, fmt.Sprintf("%s request failed", service), err,
		map[string]any{"service": service})
}

// From returns the first *Error in err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
