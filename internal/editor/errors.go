package editor

import "errors"

var (
	ErrUnknownField    = errors.New("unknown field")
	ErrReadOnlyField   = errors.New("field is read-only")
	ErrNotReference    = errors.New("field is not a reference lookup")
	ErrSessionClosed   = errors.New("session is closed")
	ErrConfirming      = errors.New("session is being confirmed")
	ErrSessionNotFound = errors.New("session not found")
	ErrMissingBid      = errors.New("session has no bid")
	ErrRowNotFound     = errors.New("bulk row not found")
	ErrBulkNotFound    = errors.New("bulk sheet not found")
)
