// Package dberr defines the structured error taxonomy for the storage core.
// Every failure that crosses a component boundary carries a Code so callers
// can distinguish, for example, a corrupt page from a missing one without
// string matching.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a class of storage failure.
type Code string

const (
	// PageNotFound means the requested page ID was never allocated, or has
	// been freed. This is a missing-resource error, not a corruption error.
	PageNotFound Code = "PAGE_NOT_FOUND"

	// PageCorrupt means a page was read from disk but its stored checksum
	// did not match the payload. Reported distinctly from I/O failures.
	PageCorrupt Code = "PAGE_CORRUPT"

	// BufferPoolExhausted means every frame in the pool is pinned and no
	// eviction victim exists. The fetch fails rather than blocking.
	BufferPoolExhausted Code = "BUFFER_POOL_EXHAUSTED"

	// IndexAlreadyExists means an index with the requested name is already
	// registered in the catalog.
	IndexAlreadyExists Code = "INDEX_ALREADY_EXISTS"

	// IndexNotFound means no index with the requested name is registered.
	IndexNotFound Code = "INDEX_NOT_FOUND"

	// DuplicateKey means an insert into a unique index collided with an
	// existing key. The index is left unchanged.
	DuplicateKey Code = "DUPLICATE_KEY"

	// StructuralInvariant means an internal consistency check failed. It
	// indicates a bug in the core, is always fatal to the operation, and
	// must never be suppressed or retried.
	StructuralInvariant Code = "STRUCTURAL_INVARIANT_VIOLATION"
)

// DBError is a structured storage error. It records where the failure
// happened (component, operation) alongside its classification and cause.
type DBError struct {
	// Code classifies the error for programmatic handling.
	Code Code

	// Component names the subsystem that produced the error, e.g.
	// "PageStore", "BufferPool", "BPlusTree".
	Component string

	// Operation names the call that failed, e.g. "Read", "Fetch", "Insert".
	Operation string

	// Message is a human-readable description of the failure.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a DBError with the given code and formatted message.
func New(code Code, component, operation, format string, args ...any) *DBError {
	return &DBError{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Wrap attaches storage context to an underlying error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, component, operation, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &DBError{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf(format, args...),
		Cause:     err,
	}
}

// Error implements the error interface. The format follows the pattern:
// [CODE] message (operation: Op, component: Comp): cause
func (e *DBError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Operation != "" {
		fmt.Fprintf(&b, " (operation: %s", e.Operation)
		if e.Component != "" {
			fmt.Fprintf(&b, ", component: %s", e.Component)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	return b.String()
}

// Unwrap returns the underlying cause, enabling errors.Is / errors.As
// traversal through wrapped chains.
func (e *DBError) Unwrap() error {
	return e.Cause
}

// Is makes two DBErrors match when their codes match, so sentinel-style
// checks like errors.Is(err, &DBError{Code: PageCorrupt}) work through
// wrapping. Prefer HasCode at call sites.
func (e *DBError) Is(target error) bool {
	var dbErr *DBError
	if !errors.As(target, &dbErr) {
		return false
	}
	return e.Code == dbErr.Code
}

// HasCode reports whether err, or any error it wraps, is a DBError with
// the given code.
func HasCode(err error, code Code) bool {
	var dbErr *DBError
	for errors.As(err, &dbErr) {
		if dbErr.Code == code {
			return true
		}
		err = dbErr.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the code of the outermost DBError in the chain, or the
// empty string when err carries no storage code.
func CodeOf(err error) Code {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Code
	}
	return ""
}
