package dedup

import "errors"

// ErrInvalidThreshold is returned when a scan threshold falls outside [0,1].
var ErrInvalidThreshold = errors.New("dedup: threshold must be between 0 and 1")

// ErrMatchNotFound is returned when a match ID is unknown.
var ErrMatchNotFound = errors.New("dedup: match not found")

// ErrAlreadyResolved is returned when a merge targets a pair that already
// has a recorded decision.
var ErrAlreadyResolved = errors.New("dedup: match already resolved")

// ErrInvalidSurvivor is returned when a merge names a survivor that is not
// one of the matched pair's records.
var ErrInvalidSurvivor = errors.New("dedup: survivor is not part of the match")
