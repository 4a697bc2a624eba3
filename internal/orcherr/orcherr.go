
// Package orcherr defines the error kinds shared across the orchestrator's
// components (§7 of the control-plane specification). Each kind is a small
// typed wrapper over a sentinel so callers can both `errors.Is` against the
// kind and `errors.As` to recover structured fields, and each exposes
// Retriable() so the worker loop (internal/worker) and pipeline dispatcher
// (internal/pipeline) can decide whether to requeue or terminate a task
// without type-switching on error strings.
package orcherr

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is comparisons.
var (
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("auth error")
	ErrNotFound   = errors.New("not found")
	ErrRateLimit  = errors.New("rate limited")
	ErrTimeout    = errors.New("timeout")
	ErrToolFailed = errors.New("tool failure")
	ErrConflict   = errors.New("conflict")
	ErrPathEscape = errors.New("path escape")
)

// Retriable reports whether an error kind is safe to retry. It unwraps err
// looking for one of this package's typed errors; any error not recognized
// here is treated as fatal, matching §7's "all other exceptions are fatal"
// propagation policy.
func Retriable(err error) bool {
	var r interface{ Retriable() bool }
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return false
}

// ValidationError reports a missing required field, unknown channel, or
// malformed identifier. Non-retriable; the caller must move the task to its
// terminal error status.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error  { return ErrValidation }
func (e *ValidationError) Retriable() bool { return false }

// AuthError reports a credential rejected by an external provider.
// Non-retriable; callers should emit a critical alert.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: provider %q: %s", e.Provider, e.Reason)
}

func (e *AuthError) Unwrap() error  { return ErrAuth }
func (e *AuthError) Retriable() bool { return false }

// NotFoundError reports that a referenced planning page or task row no
// longer exists. Logged; no task is created or mutated.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %q", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error  { return ErrNotFound }
func (e *NotFoundError) Retriable() bool { return false }

// RateLimitedError reports an HTTP 429 from the planning DB or a third-party
// provider. Retriable under the caller's backoff schedule.
type RateLimitedError struct {
	Provider   string
	RetryAfter string // raw Retry-After header value, if present
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %q", e.Provider)
}

func (e *RateLimitedError) Unwrap() error  { return ErrRateLimit }
func (e *RateLimitedError) Retriable() bool { return true }

// TimeoutError reports a tool runner or HTTP call that exceeded its budget.
// Retriable unless the calling stage's policy says otherwise.
type TimeoutError struct {
	Operation string
	Seconds   float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %.1fs", e.Operation, e.Seconds)
}

func (e *TimeoutError) Unwrap() error  { return ErrTimeout }
func (e *TimeoutError) Retriable() bool { return true }

// ToolFailureError reports a non-zero exit from an external tool invocation.
// QuotaMark is set by the tool runner when stderr contains a documented
// "quota exhausted" marker; a caller that sees QuotaMark set must route the
// failure to a gate state update (Gemini flag or YouTube quota release)
// instead of the normal retry/fatal classification below (§7). Retriable
// reports the default, non-quota classification and is always true; the
// pipeline keeps no retry count, so every such failure sends the task back
// to its stage's retry status.
type ToolFailureError struct {
	Program    string
	ExitCode   int
	Stderr     string
	QuotaMark  bool // stderr matched a documented "quota exhausted" marker
}

func (e *ToolFailureError) Error() string {
	return fmt.Sprintf("tool failure: %s exited %d: %s", e.Program, e.ExitCode, e.Stderr)
}

func (e *ToolFailureError) Unwrap() error { return ErrToolFailed }

func (e *ToolFailureError) Retriable() bool {
	return true
}

// ConflictError reports a rejected compare-and-set because another actor
// already transitioned the row. Retriable by re-reading and retrying; never
// surfaces to an end user.
type ConflictError struct {
	Resource string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s expected %q, found %q", e.Resource, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error  { return ErrConflict }
func (e *ConflictError) Retriable() bool { return true }

// PathEscapeError reports that an identifier or symlink resolution would
// leave the workspace root. Non-retriable, logged at error level.
type PathEscapeError struct {
	Identifier string
	Resolved   string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escape: identifier %q resolved outside workspace root (%s)", e.Identifier, e.Resolved)
}

func (e *PathEscapeError) Unwrap() error  { return ErrPathEscape }
func (e *PathEscapeError) Retriable() bool { return false }
