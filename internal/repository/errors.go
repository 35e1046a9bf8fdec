package repository

import "errors"

// Typed errors signaled when a lifecycle invariant blocks a mutation.
// Callers switch on these with errors.Is instead of parsing messages.
var (
	ErrNoSuchSession    = errors.New("no such session")
	ErrSessionFull      = errors.New("session is full")
	ErrAlreadyJoined    = errors.New("user has already joined the session")
	ErrNotHost          = errors.New("user is not the session host")
	ErrSessionCompleted = errors.New("session is already completed")
	ErrNoSuchUser       = errors.New("no such user")
)
