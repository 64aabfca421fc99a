package ring

import "errors"

// ErrInvalidCapacity indicates a constructor was asked for fewer than two
// slots. A buffer is never partially constructed.
var ErrInvalidCapacity = errors.New("ring: capacity must be at least 2")

// ErrInvalidPosition indicates an access outside the populated window of the
// buffer. The buffer is left untouched.
var ErrInvalidPosition = errors.New("ring: position outside populated window")
