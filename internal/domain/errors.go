package domain

import "errors"

// Sentinel errors; callers branch with errors.Is instead of string matching.
var (
	// ErrValidation marks bad input to a public operation. No state change.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a trigger is not allowed from
	// the draft's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrGuardFailed is returned when a transition precondition is unmet,
	// e.g. scheduling in the past.
	ErrGuardFailed = errors.New("transition guard failed")

	// ErrRepresentationSync means the transport could not produce the new
	// POST+CARD pair; the transition was rolled back.
	ErrRepresentationSync = errors.New("representation sync failed")

	// ErrDuplicate is a fingerprint collision: ingestion short-circuits
	// and no draft is created.
	ErrDuplicate = errors.New("duplicate candidate")

	// ErrTransportTransient marks transport failures worth retrying.
	ErrTransportTransient = errors.New("transient transport error")

	// ErrTransportPermanent marks transport failures that must not be
	// retried automatically.
	ErrTransportPermanent = errors.New("permanent transport error")

	// ErrJobNotFound is returned when an operator acts on an already
	// resolved job. Reported, not fatal.
	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrJobAlreadyExecuting rejects a cancellation that lost the race
	// against an in-flight publish attempt.
	ErrJobAlreadyExecuting = errors.New("job already executing")

	// ErrStateConflict signals a lost compare-and-swap on a draft row
	// under concurrent access.
	ErrStateConflict = errors.New("draft state conflict")

	// ErrNotFound is returned for unknown draft ids.
	ErrNotFound = errors.New("not found")
)
