package domain

import "errors"

// Error taxonomy for the call tracker and webhook surface. Handlers map
// these to HTTP statuses; none of them is ever fatal to the process.
var (
	// ErrNotFound is returned when an operation references an unknown call_id.
	ErrNotFound = errors.New("call not found")

	// ErrInvalidTransition is returned when a status update would regress the
	// monotonic lifecycle. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRoomInUse is returned when a room name is already bound to an active
	// call record.
	ErrRoomInUse = errors.New("room already bound to an active call")

	// ErrValidation is returned for malformed input; no state is mutated.
	ErrValidation = errors.New("invalid request")
)
