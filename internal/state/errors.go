package state

import "errors"

// Domain errors for the state package.
var (
	// ErrInvalidTable is returned when a transition table fails validation.
	ErrInvalidTable = errors.New("state: invalid transition table")

	// ErrUnknownState is returned when a state name is not in the table.
	ErrUnknownState = errors.New("state: unknown state")

	// ErrInvalidRequest is returned for malformed bus transition requests.
	ErrInvalidRequest = errors.New("state: invalid transition request")
)
