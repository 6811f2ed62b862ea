// run_ledger.go records the outcome of each build run so operators can
// inspect past runs through the HTTP surface. Writes are CAS-protected: a
// run's document carries an opaque version, and publishing with a stale
// version fails rather than clobbering a concurrent writer.

package kg

import "context"

// RunDocument pairs a stored build result with its version for CAS.
type RunDocument struct {
	Result  BuildResult
	Version string
}

// RunLedger abstracts run-result CRUD with CAS update semantics.
type RunLedger interface {
	// Get loads the run document. Returns ErrRunNotFound if absent.
	Get(ctx context.Context, runID string) (*RunDocument, error)

	// HeadVersion returns the current version without loading the body.
	// Absent runs return the empty version.
	HeadVersion(ctx context.Context, runID string) (string, error)

	// UpsertIfMatch publishes a run result with CAS protection.
	// Empty expectedVersion means "create if absent".
	UpsertIfMatch(ctx context.Context, runID string, result BuildResult, expectedVersion string) (string, error)

	// Delete removes the run document. Returns nil if already absent.
	Delete(ctx context.Context, runID string) error
}
