// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers match them with errors.Is after wrapping.
var (
	// Positional lookup errors. A stale index after a concurrent insert is a
	// caller contract violation and is never answered with a default entry.
	ErrIndexOutOfRange = errors.New("convo: entry index out of range")
	ErrPageOutOfRange  = errors.New("convo: page index out of range")
	ErrEntryNotFound   = errors.New("convo: entry not found")
	ErrNotExpandable   = errors.New("convo: entry is too short to expand")

	// Capture errors
	ErrSourceClosed     = errors.New("convo: packet source closed")
	ErrUnsupportedProto = errors.New("convo: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("convo: invalid configuration")
)
