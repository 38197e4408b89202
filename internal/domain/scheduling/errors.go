package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Validation error codes, surfaced verbatim in API error bodies.
const (
	CodePastStart           = "past_start"
	CodeInvalidDuration     = "invalid_duration"
	CodeOutsideAvailability = "outside_availability"
	CodeInvalidTimezone     = "invalid_timezone"
	CodeInvalidWindow       = "invalid_window"
	CodeInvalidRange        = "invalid_range"
	CodeInvalidProfile      = "invalid_profile"
	CodeInvalidStatus       = "invalid_status"
	CodeInvalidRequest      = "invalid_request"
)

// SlotTakenMessage is the user-facing text for a lost booking race.
const SlotTakenMessage = "This time was just booked — please pick another."

var (
	ErrNotFound           = errors.New("scheduling: not found")
	ErrForbidden          = errors.New("scheduling: forbidden")
	ErrVersionConflict    = errors.New("scheduling: profile was modified concurrently")
	ErrServiceUnavailable = errors.New("scheduling: service unavailable")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SlotTakenError means an overlapping reservation already holds the time.
type SlotTakenError struct {
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
	ConflictID uuid.UUID // uuid.Nil when the store only reported a constraint violation
}

func (e *SlotTakenError) Error() string {
	return fmt.Sprintf("slot taken: provider %s already has a reservation overlapping %s to %s",
		e.ProviderID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// TransientStoreError wraps a storage failure that may succeed on retry.
type TransientStoreError struct {
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsSlotTaken reports whether err is, or wraps, a *SlotTakenError.
func IsSlotTaken(err error) bool {
	var st *SlotTakenError
	return errors.As(err, &st)
}
