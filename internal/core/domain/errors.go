package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorKind classifies a failure for retry and reporting decisions.
type ErrorKind string

// Error kinds.
const (
	// KindValidation is malformed input or schema. Never retried.
	KindValidation ErrorKind = "validation"

	// KindProvider is a transient provider failure (network, rate limit, timeout).
	KindProvider ErrorKind = "provider"

	// KindProviderFatal is an auth or quota failure. Surfaced immediately.
	KindProviderFatal ErrorKind = "provider_fatal"

	// KindConsistency is a reference to state that does not exist or no longer matches.
	KindConsistency ErrorKind = "consistency"

	// KindPartialFailure is a multi-item operation where some items failed.
	KindPartialFailure ErrorKind = "partial_failure"

	// KindNotFound is a missing entity.
	KindNotFound ErrorKind = "not_found"

	// KindCancelled is a caller-requested stop.
	KindCancelled ErrorKind = "cancelled"

	// KindLeaseExpired is a job whose worker stopped heartbeating too many times.
	KindLeaseExpired ErrorKind = "lease_expired"

	// KindInternal is anything unclassified.
	KindInternal ErrorKind = "internal"
)

// Retryable reports whether failures of this kind may be retried automatically.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindProvider, KindPartialFailure, KindInternal:
		return true
	default:
		return false
	}
}

// Error is a classified failure carrying optional structured details.
type Error struct {
	// Kind drives retry and status-code decisions.
	Kind ErrorKind

	// Op names the operation that failed (e.g. "embed batch").
	Op string

	// Message is a short human-readable description.
	Message string

	// Err is the underlying cause.
	Err error

	// Details holds structured context such as field errors.
	Details map[string]any

	// RetryAfter is a provider-suggested wait before the next attempt.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinel values for errors.Is checks by kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrProvider       = &Error{Kind: KindProvider}
	ErrProviderFatal  = &Error{Kind: KindProviderFatal}
	ErrConsistency    = &Error{Kind: KindConsistency}
	ErrPartialFailure = &Error{Kind: KindPartialFailure}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrLeaseExpired   = &Error{Kind: KindLeaseExpired}
)

// Plain sentinel errors for store and service lookups.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition indicates a job state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrLeaseLost indicates the worker no longer owns the job it is updating.
	ErrLeaseLost = errors.New("job lease lost")

	// ErrUnsupportedType indicates an unknown normaliser or provider type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// NewValidationError builds a validation error with per-field messages.
func NewValidationError(message string, fields map[string]string) *Error {
	e := &Error{Kind: KindValidation, Message: message}
	if len(fields) > 0 {
		e.WithDetail("fields", fields)
	}
	return e
}

// NewProviderError wraps a transient provider failure.
func NewProviderError(op string, err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindProvider, Op: op, Err: err, RetryAfter: retryAfter}
}

// NewProviderFatalError wraps an auth or quota failure.
func NewProviderFatalError(op string, err error) *Error {
	return &Error{Kind: KindProviderFatal, Op: op, Err: err}
}

// NewConsistencyError reports a reference to missing or mismatched state.
func NewConsistencyError(op, message string) *Error {
	return &Error{Kind: KindConsistency, Op: op, Message: message}
}

// KindOf classifies any error. Unclassified errors are internal, context
// cancellation is cancelled and ErrNotFound is not_found.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return KindPartialFailure
	}
	var be *BatchError
	if errors.As(err, &be) {
		return KindPartialFailure
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsRetryable reports whether err may be retried automatically.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf.Retryable
	}
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the provider-suggested wait carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

// PartialFailure reports a multi-item operation with an explicit split.
type PartialFailure struct {
	// Op names the operation.
	Op string

	// Succeeded lists item identifiers that completed.
	Succeeded []string

	// Failed maps item identifiers to their error message.
	Failed map[string]string

	// Retryable is true when at least one failed item may succeed on retry.
	Retryable bool
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", p.Op, len(p.Succeeded), len(p.Failed))
}

// Is matches ErrPartialFailure.
func (p *PartialFailure) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindPartialFailure
}

// FailedIDs returns the failed identifiers in sorted order.
func (p *PartialFailure) FailedIDs() []string {
	ids := make([]string, 0, len(p.Failed))
	for id := range p.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BatchError is returned by a provider when only some items of a batch failed.
// Failed is keyed by the item's index in the submitted batch.
type BatchError struct {
	Failed map[int]error
}

// Error implements the error interface.
func (b *BatchError) Error() string {
	return fmt.Sprintf("batch: %d item(s) failed", len(b.Failed))
}
