// Package apperr defines the error kinds shared by the HTTP surface and the
// event consumer. Components wrap failures with a kind; the HTTP layer maps
// kinds to status codes and the consumer maps them to ack/nak/term.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for routing decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindUpstreamTransient
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "internal"
	}
}

// Error carries a kind alongside the underlying cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// New wraps err with the given kind. Returns nil for a nil err.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Newf is New with fmt.Errorf formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// InvalidInput wraps err as a caller error (HTTP 400, consumer poison).
func InvalidInput(err error) error { return New(KindInvalidInput, err) }

// NotFound wraps err as a missing-reference error (HTTP 404, consumer poison).
func NotFound(err error) error { return New(KindNotFound, err) }

// Transient wraps err as a retriable upstream failure (HTTP 502, consumer requeue).
func Transient(err error) error { return New(KindUpstreamTransient, err) }

// ResourceExhausted wraps err as a deterministic resource failure. The
// consumer never requeues these: a payload too large for the embedding model
// fails the same way every delivery and would starve the queue.
func ResourceExhausted(err error) error { return New(KindResourceExhausted, err) }

// KindOf extracts the kind from err, walking the wrap chain. Unclassified
// errors report KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindInternal
}

// DefaultResourceMarkers are substrings that identify resource-exhaustion
// failures in embedding backend error text.
var DefaultResourceMarkers = []string{
	"out of memory",
	"oom",
	"paging file",
	"cannot allocate memory",
	"resource exhausted",
	"cuda error",
}

// MatchesResourceMarker reports whether the error text contains any of the
// configured resource-exhaustion markers. Matching is case-insensitive.
func MatchesResourceMarker(err error, markers []string) bool {
	if err == nil {
		return false
	}
	if len(markers) == 0 {
		markers = DefaultResourceMarkers
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if m != "" && strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
