package errors

import "errors"

// requested record does not exist.
var ErrMissing = errors.New("missing")

// requested record is found more than expected.
var ErrTooMuch = errors.New("too much")

// a write would break a domain invariant. Programming-logic fault territory:
// log loudly, reject the operation, never coerce.
var ErrInvariantViolation = errors.New("invariant violation")

// a published component version is not strictly increasing.
var ErrVersionConflict = errors.New("component version conflict")
