package service

import "errors"

// Sentinel errors returned by Service.
var (
	ErrCycleInProgress     = errors.New("update cycle already in progress")
	ErrNoBundleProvider    = errors.New("no HOI bundle provider configured")
	ErrDuplicateSubmission = errors.New("node already submitted in this round")
	ErrRoundNotFound       = errors.New("round has no submissions")
	ErrSubmit              = errors.New("chain submission failed")
)
