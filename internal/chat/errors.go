package chat

import "errors"

// Caller-input and access errors. The API layer maps these to HTTP statuses;
// remote generation failures carry their own classification (see the gemini
// package).
var (
	// ErrInvalidArgument is returned for malformed caller input, before any
	// side effect has occurred.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when the requested session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the requester is not the session owner.
	ErrForbidden = errors.New("forbidden")
)
