package wizard

import "errors"

var (
	// ErrValidation is returned for malformed input to a step operation
	ErrValidation = errors.New("validation error")
	// ErrPreconditionFailed is returned when an operation is attempted in the wrong state
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidTransition is returned when a target step is not the successor of the current one
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound is returned for an unknown server id or a session of another organization
	ErrNotFound = errors.New("session not found")
	// ErrGenerationFailure marks a failed background task. Only GenerateCode returns it; other failures are recorded on the session
	ErrGenerationFailure = errors.New("generation failed")
	// ErrPaymentRequired is returned when the billing gate refuses an activation
	ErrPaymentRequired = errors.New("payment required")
	// ErrStaleTask is returned when a task result no longer matches the session's outstanding task
	ErrStaleTask = errors.New("stale task result")
)

// TimedOutReason is the processing error recorded when a task exceeds its deadline
const TimedOutReason = "generation timed out"
