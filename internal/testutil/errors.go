package testutil

import "errors"

// ErrSimulated is a sentinel for exercising error paths of injected collaborators.
var ErrSimulated = errors.New("simulated error for testing")
