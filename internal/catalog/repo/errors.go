package repo

import "errors"

var ErrNotFound = errors.New("problem not found")
