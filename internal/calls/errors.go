package calls

import "errors"

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrForbidden       = errors.New("calls: forbidden")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrPlacementFailed = errors.New("calls: carrier placement failed")

	// ErrMiss is returned by backends when a key is absent or expired.
	ErrMiss = errors.New("calls: cache miss")
	// ErrNoChange is returned by a merge mutator to skip the write.
	ErrNoChange = errors.New("calls: no change")
)
