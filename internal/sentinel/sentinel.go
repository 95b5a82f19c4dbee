// Package sentinel holds the storage-level errors services translate into
// domain errors.
package sentinel

import "errors"

// ErrNotFound is returned, possibly wrapped, for an unknown session id.
var ErrNotFound = errors.New("not found")
