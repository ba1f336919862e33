// File: api/schemas/errors.go
package schemas

import (
	"fmt"
	"strings"
)

// -- Error taxonomy --
//
// FormatError   unrecoverable, fails a whole input file.
// RowError      recoverable, skips one row and continues.
// ClassifierWarning  informational, classification continues deterministically.
// UploadError   per-flaw, isolated from the rest of the batch.
// AuthError     fatal, aborts the run before any uploads start.

// FormatError reports an input file whose structure is unusable, e.g. a CSV
// missing required columns or an export that is not parseable at all.
type FormatError struct {
	Path    string
	Missing []string // Required columns absent from the header, if any.
	Reason  string
}

func (e *FormatError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: unrecognized export format: missing columns %s", e.Path, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: unrecognized export format: %s", e.Path, e.Reason)
}

// RowError reports one malformed row. The loader collects these alongside
// successfully parsed findings instead of aborting the file.
type RowError struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	CheckID string `json:"check_id,omitempty"`
	Reason  string `json:"reason"`
}

func (e RowError) Error() string {
	if e.CheckID != "" {
		return fmt.Sprintf("%s:%d: check %s: %s", e.Path, e.Line, e.CheckID, e.Reason)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
}

// ClassifierWarning records a check id that appears in more than one category.
// Classification proceeds with the first category in map-declaration order;
// the warning is surfaced in the run summary, never silently dropped.
type ClassifierWarning struct {
	CheckID string   `json:"check_id"`
	Winner  string   `json:"winner"`
	Losers  []string `json:"losers"`
}

func (w ClassifierWarning) String() string {
	return fmt.Sprintf("check %s mapped to multiple categories: using %q, ignoring %s",
		w.CheckID, w.Winner, strings.Join(w.Losers, ", "))
}

// UploadError is the final error for one platform call after retries are
// exhausted or a non-retryable response was received. The upload pipeline
// fills FlawKey for per-flaw calls; batch-level calls leave it empty. It
// never aborts the batch.
type UploadError struct {
	FlawKey    string
	Op         string // "create", "update", "artifact", "list", ...
	StatusCode int    // Zero when the failure never reached the platform.
	Attempts   int
	Err        error
}

func (e *UploadError) Error() string {
	subject := e.Op
	if e.FlawKey != "" {
		subject = e.Op + " " + e.FlawKey
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed after %d attempt(s) (status %d): %v", subject, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", subject, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// AuthError reports a failed authentication handshake. It is fatal: the run
// aborts before any upload is attempted.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }
