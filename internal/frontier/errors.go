package frontier

import "errors"

// ErrUnknownLease is returned by Complete when the lease ID is not
// currently outstanding (already completed, expired and reaped, or
// never issued).
var ErrUnknownLease = errors.New("frontier: unknown lease id")
