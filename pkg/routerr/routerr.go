package routerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of request-level error categories. Everything that
// escapes the engine maps onto one of these; lower-level failures are either
// absorbed (staleness tolerance, edge exclusion) or translated upward.
type Kind string

const (
	// KindUpstreamUnavailable: a single external call failed. Recovered
	// locally via cache staleness tolerance; only surfaces once the hard
	// expiry ceiling is exceeded.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"

	// KindDataUnavailable: no usable quote exists for a required key.
	KindDataUnavailable Kind = "DATA_UNAVAILABLE"

	// KindNoRouteFound: search exhausted within hop/alternate limits.
	// Definitive negative result, never retried automatically.
	KindNoRouteFound Kind = "NO_ROUTE_FOUND"

	// KindTimeout: request deadline elapsed before the search completed.
	KindTimeout Kind = "TIMEOUT"

	// KindConfiguration: malformed static registry. Fatal at load time.
	KindConfiguration Kind = "CONFIGURATION_ERROR"

	// KindInvalidRequest: the caller's request failed validation.
	KindInvalidRequest Kind = "INVALID_REQUEST"
)

// Error carries a Kind plus an optional upstream source name and cause.
type Error struct {
	Kind    Kind
	Source  string // upstream identifier for UPSTREAM_UNAVAILABLE, e.g. "coingecko"
	Message string
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Source != "" && e.cause != nil:
		return fmt.Sprintf("[%s] %s (%s): %v", e.Kind, e.Message, e.Source, e.cause)
	case e.Source != "":
		return fmt.Sprintf("[%s] %s (%s)", e.Kind, e.Message, e.Source)
	case e.cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Kind so callers can use errors.Is with the sentinel
// constructors below regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new Error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// UpstreamUnavailable tags a failed external call with its source.
func UpstreamUnavailable(source string, cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Source:  source,
		Message: "upstream call failed",
		cause:   cause,
	}
}

// Sentinels for errors.Is checks.
var (
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrDataUnavailable     = &Error{Kind: KindDataUnavailable, Message: "no usable quote"}
	ErrNoRouteFound        = &Error{Kind: KindNoRouteFound, Message: "no route within limits"}
	ErrTimeout             = &Error{Kind: KindTimeout, Message: "request deadline exceeded"}
)

// KindOf extracts the Kind from any error, defaulting to DATA_UNAVAILABLE for
// unclassified failures so the caller never sees a bare internal error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDataUnavailable
}

// SourceOf returns the upstream source recorded on the error, if any.
func SourceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Source
	}
	return ""
}
