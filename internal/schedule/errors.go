package schedule

import "errors"

var (
	// ErrJobNotFound is returned when a job name is not registered.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when registering a name twice.
	ErrDuplicateJob = errors.New("job already registered")

	// ErrJobDisabled is returned by Fire when the job is disabled. No run
	// happens and nothing is logged to the audit trail.
	ErrJobDisabled = errors.New("job is disabled")
)
