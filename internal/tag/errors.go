package tag

import "errors"

// Domain errors for the tag package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, tag.ErrReadOnly) {
//	    // hardware tag, value is owned by the poll cycle
//	}
var (
	// ErrNotFound is returned when a tag name is not registered.
	ErrNotFound = errors.New("tag: not found")

	// ErrReadOnly is returned when writing a hardware or read-only tag.
	ErrReadOnly = errors.New("tag: read-only")

	// ErrType is returned when a value cannot be coerced to the tag's type.
	ErrType = errors.New("tag: type mismatch")

	// ErrTimeout is returned when an adapter read exceeds the read timeout.
	ErrTimeout = errors.New("tag: read timed out")

	// ErrAdapter is returned when an adapter read fails or the adapter is disconnected.
	ErrAdapter = errors.New("tag: adapter error")

	// ErrInvalidDefinition is returned when tag definitions fail validation.
	ErrInvalidDefinition = errors.New("tag: invalid definition")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("tag: poller already running")
)
