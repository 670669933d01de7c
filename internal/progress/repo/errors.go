package repo

import "errors"

var (
	ErrNotFound = errors.New("progress record not found")
	ErrConflict = errors.New("progress record already exists")
)
