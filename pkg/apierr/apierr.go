// Package apierr defines the exhaustive, stable error kinds every job
// forge component returns, per the error handling design.
package apierr

import "fmt"

type Kind string

const (
	Validation       Kind = "validation"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	NotOwner         Kind = "not_owner"
	InvalidState     Kind = "invalid_state"
	FeatureDisabled  Kind = "feature_disabled"
	TemplateNotFound Kind = "template_not_found"
	TemplateDisabled Kind = "template_disabled"
	PolicyDenied     Kind = "policy_denied"
	RateLimited      Kind = "rate_limited"
	Timeout          Kind = "timeout"
	Internal         Kind = "internal"
)

// retryableByDefault holds the default retryability for each kind; callers
// may still override it explicitly via WithRetryable.
var retryableByDefault = map[Kind]bool{
	Validation:       false,
	NotFound:         false,
	Conflict:         false,
	NotOwner:         false,
	InvalidState:     false,
	FeatureDisabled:  false,
	TemplateNotFound: false,
	TemplateDisabled: false,
	PolicyDenied:     false,
	RateLimited:      true,
	Timeout:          true,
	Internal:         true,
}

// Error is the stable shape every job forge error carries across the RPC
// boundary: code, message, retryable, and optional non-PII debug detail.
type Error struct {
	Code      Kind   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Debug     string `json:"debug,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error, defaulting retryable from the kind if unspecified.
func New(kind Kind, message string) *Error {
	return &Error{Code: kind, Message: message, Retryable: retryableByDefault[kind]}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithTrace attaches a trace id for correlation.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithDebug attaches a non-PII debug string. Callers are responsible for
// redacting any value before it reaches here; apierr does not import the
// redactor to keep this package dependency-free.
func (e *Error) WithDebug(debug string) *Error {
	e.Debug = debug
	return e
}

// As reports whether err is an *Error of the given kind.
func As(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Code == kind
}
