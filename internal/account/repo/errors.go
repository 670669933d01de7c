package repo

import "errors"

var (
	ErrNotFound   = errors.New("account not found")
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnchanged means the account already holds the requested value.
	ErrUnchanged = errors.New("account already in requested state")
)
