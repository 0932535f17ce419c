package model

// FetchJob asks a worker to refresh one source for an update cycle.
type FetchJob struct {
	CycleID string
	Source  string
}
