package httpx

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dkortekaas/declair/i18n"
	"github.com/dkortekaas/declair/validation"
	"github.com/rs/zerolog"
)

// Kind classifies an API error; each kind has exactly one status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindGone
	KindRateLimited
	KindUpstream
)

var kindStatus = map[Kind]int{
	KindInternal:     http.StatusInternalServerError,
	KindValidation:   http.StatusBadRequest,
	KindUnauthorized: http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindGone:         http.StatusGone,
	KindRateLimited:  http.StatusTooManyRequests,
	KindUpstream:     http.StatusBadGateway,
}

// Error is what handlers hand to WriteError. Code is the machine readable
// reason and doubles as the i18n message key.
type Error struct {
	Kind       Kind
	Code       string
	Details    any
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int { return kindStatus[e.Kind] }

func NewError(kind Kind, code string) *Error { return &Error{Kind: kind, Code: code} }

func Invalid(v validation.Violations) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Details: v}
}

func NotFound() *Error     { return NewError(KindNotFound, "not_found") }
func Forbidden() *Error    { return NewError(KindForbidden, "forbidden") }
func Unauthorized() *Error { return NewError(KindUnauthorized, "unauthorized") }

func Conflict(code string) *Error { return NewError(KindConflict, code) }

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Code: "rate_limited", RetryAfter: retryAfter}
}

func Internal(err error) *Error { return &Error{Kind: KindInternal, Code: "internal_error", Err: err} }

// WriteError renders err as a localized JSON error. Anything that is not an
// *Error is logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err)
	}
	lang := i18n.LangFromContext(r.Context())
	status := e.Status()
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(e.Err).Str("path", r.URL.Path).Msg("request failed")
	}
	if e.Kind == KindRateLimited {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	details := e.Details
	if v, ok := details.(validation.Violations); ok {
		details = v.Localize(lang)
	}
	JSON(w, status, ErrorResponse{Error: e.Code, Message: i18n.T(lang, e.Code), Details: details})
}
