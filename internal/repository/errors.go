package repository

import "errors"

// ErrVersionConflict is returned when an optimistic write lost a race with a
// concurrent writer. Re-read the record and retry.
var ErrVersionConflict = errors.New("repository: version conflict")
