package gqlcache

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested article or comment does not exist.
	ErrNotFound = errors.New("gqlcache: entity not found")

	// ErrCacheIntegrity is returned when a cache update cannot determine
	// the identity of the entity it operates on.
	ErrCacheIntegrity = errors.New("gqlcache: cache integrity violation")

	// ErrMalformed is returned when merge input is missing expected fields.
	ErrMalformed = errors.New("gqlcache: malformed input")

	// ErrStaleResponse is returned when a pagination response arrives after
	// a newer request for the same query location was issued.
	ErrStaleResponse = errors.New("gqlcache: stale response discarded")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("gqlcache: cannot find %s %v", e.label, e.id)
	}
	return fmt.Sprintf("gqlcache: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// CacheIntegrityError is returned when a write, identify or modify operation
// cannot determine the identity of the entity it targets. It aborts that
// update only; the store is left as it was.
type CacheIntegrityError struct {
	Op     string // Operation (e.g., "identify", "write", "delete")
	Key    string // Identity key or typename involved, if known
	Reason string
}

// Error returns the error string.
func (e *CacheIntegrityError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("gqlcache: %s %s: %s", e.Op, e.Key, e.Reason)
	}
	return fmt.Sprintf("gqlcache: %s: %s", e.Op, e.Reason)
}

// Is reports whether the target error matches ErrCacheIntegrity.
func (e *CacheIntegrityError) Is(err error) bool {
	return err == ErrCacheIntegrity
}

// NewCacheIntegrityError returns a new CacheIntegrityError.
func NewCacheIntegrityError(op, key, reason string) *CacheIntegrityError {
	return &CacheIntegrityError{Op: op, Key: key, Reason: reason}
}

// IsCacheIntegrity returns true if the error is a CacheIntegrityError.
func IsCacheIntegrity(err error) bool {
	if err == nil {
		return false
	}
	var e *CacheIntegrityError
	return errors.As(err, &e) || errors.Is(err, ErrCacheIntegrity)
}

// MalformedError reports merge input that lacks a field the merge needs.
type MalformedError struct {
	Type  string // Shape being decoded (e.g., "CommentConnection")
	Field string // Missing or mistyped field path
}

// Error returns the error string.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("gqlcache: malformed %s: missing or invalid %q", e.Type, e.Field)
}

// Is reports whether the target error matches ErrMalformed.
func (e *MalformedError) Is(err error) bool {
	return err == ErrMalformed
}

// NewMalformedError returns a new MalformedError.
func NewMalformedError(typ, field string) *MalformedError {
	return &MalformedError{Type: typ, Field: field}
}

// IsMalformed returns true if the error is a MalformedError.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	var e *MalformedError
	return errors.As(err, &e) || errors.Is(err, ErrMalformed)
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Op  string // Operation name (e.g., "getComments")
	Err error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("gqlcache: query %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gqlcache: query: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(op string, err error) *QueryError {
	return &QueryError{Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a failure to apply a mutation result to the cache.
// The mutation itself succeeded on the server; callers should refetch to
// reconcile the cached views.
type MutationError struct {
	Op  string // Mutation name (e.g., "addComment")
	Err error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("gqlcache: mutation %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(op string, err error) *MutationError {
	return &MutationError{Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
