// Package apperr defines the error taxonomy shared by ingestion, retrieval and transport.
//
// Every failure that crosses a component boundary carries a stable Kind so the
// transport can render a structured payload and orchestrators can decide between
// retrying, recording a failure, or returning it to the caller.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindExtraction       Kind = "extraction_error"
	KindEmptyDocument    Kind = "empty_document"
	KindProvider         Kind = "provider_error"
	KindRateLimit        Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindNotReady         Kind = "document_not_ready"
	KindInvalidArgument  Kind = "invalid_argument"
	KindStorageIntegrity Kind = "storage_integrity"
	KindTimeout          Kind = "timeout"
	KindInterrupted      Kind = "interrupted"
	KindInternal         Kind = "internal"
)

// Sentinels for errors.Is. An *Error matches a sentinel when their kinds are equal.
var (
	ErrExtraction       = &Error{Kind: KindExtraction}
	ErrEmptyDocument    = &Error{Kind: KindEmptyDocument}
	ErrProvider         = &Error{Kind: KindProvider}
	ErrRateLimit        = &Error{Kind: KindRateLimit}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrNotReady         = &Error{Kind: KindNotReady}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrStorageIntegrity = &Error{Kind: KindStorageIntegrity}
	ErrTimeout          = &Error{Kind: KindTimeout}
)

// Error is the structured error carried across component boundaries.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "vector.Search".
	Op     string
	Detail string
	// Provider, StatusCode and RetryAfter are set for remote provider failures.
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		fmt.Fprintf(&b, " (%s", e.Provider)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, " %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error of the given kind.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports an unknown document id.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf("document %q not found", id)}
}

// InvalidArgument reports malformed input or configuration.
func InvalidArgument(op, format string, args ...any) *Error {
	return E(KindInvalidArgument, op, format, args...)
}

// Integrity reports a persisted record that failed to parse or validate.
func Integrity(op string, err error, format string, args ...any) *Error {
	return Wrap(KindStorageIntegrity, op, err, format, args...)
}

// Provider reports a non-retryable remote failure.
func Provider(op, provider string, status int, message string) *Error {
	return &Error{Kind: KindProvider, Op: op, Provider: provider, StatusCode: status, Detail: message}
}

// RateLimited reports a provider rate limit; retryAfter is zero when the provider gave no hint.
func RateLimited(op, provider string, retryAfter time.Duration, message string) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Op:         op,
		Provider:   provider,
		StatusCode: 429,
		RetryAfter: retryAfter,
		Detail:     message,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Retryable reports whether err is worth retrying after a backoff.
func Retryable(err error) bool {
	return KindOf(err) == KindRateLimit
}
