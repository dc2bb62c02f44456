package manager

import "errors"

// Error taxonomy for the update pipeline. Errors are wrapped with container
// context via fmt.Errorf and %w; match with errors.Is.
var (
	// ErrContainerNotFound means the requested container does not exist and
	// AllowMissingContainer was not set.
	ErrContainerNotFound = errors.New("container not found")

	// ErrUpdateFailed means the update function returned an error or the
	// update introduced detectable corruption.
	ErrUpdateFailed = errors.New("update failed")

	// ErrRollbackFailed means a snapshot restore was applied but failed
	// verification, or no snapshot was available.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrRecreationFailed means the container element vanished mid-recovery.
	ErrRecreationFailed = errors.New("recreation failed")

	// ErrCoordinationTimeout means a coordinated batch exceeded its time
	// budget.
	ErrCoordinationTimeout = errors.New("coordination timed out")

	// ErrEmergencyStopped means the global emergency lock rejected a
	// non-critical update.
	ErrEmergencyStopped = errors.New("operations stopped by emergency lock")

	// ErrDropped means a queued update was evicted or cleared before it
	// could run.
	ErrDropped = errors.New("queued update dropped")
)
