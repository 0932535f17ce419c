package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrInvalidLimit   = errors.New("invalid history limit")
	ErrClosed         = errors.New("store closed")
	ErrInvalidRecord  = errors.New("invalid record")
)
