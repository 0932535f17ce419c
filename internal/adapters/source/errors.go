package source

import "errors"

// Sentinel errors returned by fetchers and path extraction.
var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrPathNotFound     = errors.New("response path not found")
	ErrNotNumeric       = errors.New("value is not numeric")
	ErrUnknownSource    = errors.New("unknown source")
)
