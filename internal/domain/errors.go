package domain

import "errors"

// ErrNotFound is returned when a record does not exist or belongs to
// another owner. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")
