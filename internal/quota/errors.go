package quota

import "errors"

// Error taxonomy shared across the engine, repositories and API layer.
// Handlers map these to HTTP statuses; everything else is a 500.
var (
	// ErrConfiguration marks malformed quota definitions or admission
	// payloads (400).
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound marks a missing survey quota or respondent (404).
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an illegal lifecycle transition, such as
	// completing an already-completed respondent (409).
	ErrConflict = errors.New("conflict")

	// ErrTransientStore marks a database failure that is safe to retry
	// (503).
	ErrTransientStore = errors.New("transient store error")
)
