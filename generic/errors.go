/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages and the backend client wrap these errors with context.

ERROR CATEGORIES:
  1. Transport errors - timeout, network failure, non-2xx. Non-fatal: the
     caller falls back to the last good snapshot or a documented default.
  2. Shape errors - the response body matched no known variant. Treated
     as "no data", never a crash.
  3. Authentication errors - missing, invalid or mismatched token. Fatal
     for the current view and reported as "must re-authenticate".
  4. Input errors - invalid amounts or unknown entries on write paths.

  A matching failure is NOT an error. It is the Unresolved terminal state.

USAGE:
    if generic.IsAuthFailure(err) {
        // send the user back to login, do not show a data-loading error
    }

SEE ALSO:
  - coordinator.go: Turns transport errors into fallbacks
  - backend/client.go: Produces transport and auth errors
*/
package generic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTransport is returned when an upstream call fails at the network or
	// HTTP level.
	ErrTransport = errors.New("transport failure")

	// ErrShape is returned when a response body matches no known shape.
	ErrShape = errors.New("unrecognized response shape")

	// ErrAuthRequired is returned when the session is missing, invalid, or
	// belongs to a different user than the token. The user must log in again.
	ErrAuthRequired = errors.New("re-authentication required")

	// ErrFetchTimeout is returned when a fetch with no cached fallback lost
	// the race against its timeout.
	ErrFetchTimeout = errors.New("fetch timed out")

	// ErrNotFound is returned when a referenced person or run doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned when a submitted amount is not a positive number.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKind is returned when a submitted entry kind has no ledger
	// direction.
	ErrInvalidKind = errors.New("invalid entry kind")

	// ErrRejected is returned when the backend refused a write (success:false
	// or a 4xx other than auth and not-found).
	ErrRejected = errors.New("rejected by backend")

	// ErrSnapshotMissing is returned by stores when a key has no snapshot.
	ErrSnapshotMissing = errors.New("snapshot missing")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FetchError records which logical query failed and how long it ran.
type FetchError struct {
	Key     string
	Elapsed time.Duration
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %s: %v", e.Key, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsAuthFailure returns true if the error means the user must log in again.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// IsTransient returns true if a fallback value should be shown instead of
// the error.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrShape) ||
		errors.Is(err, ErrFetchTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrRejected)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSnapshotMissing)
}
