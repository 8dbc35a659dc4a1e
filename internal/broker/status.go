package broker

// ManifestStatus is the lifecycle state of a queue manifest.
type ManifestStatus string

const (
	ManifestRunning  ManifestStatus = "RUNNING"
	ManifestFailure  ManifestStatus = "FAILURE"
	ManifestStopped  ManifestStatus = "STOPPED"
	ManifestStopping ManifestStatus = "STOPPING"
	ManifestPaused   ManifestStatus = "PAUSED"
)

// Status is the processing state of a message record. The polling pipeline
// uses READY as its non-terminal state; the AMQP pipeline uses FIRST_TRY,
// RETRY and NEED_WAIT. Both share the terminal statuses.
type Status string

const (
	StatusReady     Status = "READY"
	StatusFirstTry  Status = "FIRST_TRY"
	StatusRetry     Status = "RETRY"
	StatusNeedWait  Status = "NEED_WAIT"
	StatusDone      Status = "DONE"
	StatusFailure   Status = "FAILURE"
	StatusCancelled Status = "CANCELLED"
	StatusSkipped   Status = "SKIPPED"
	StatusDeleted   Status = "DELETED"
)

var terminalStatuses = map[Status]bool{
	StatusDone:      true,
	StatusSkipped:   true,
	StatusCancelled: true,
	StatusDeleted:   true,
}

// Terminal reports whether a message in this status must never be
// reprocessed.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

// Blocking reports whether a message in this status parks later messages
// sharing its discriminant (see Executor in package rabbit).
func (s Status) Blocking() bool {
	return s == StatusRetry || s == StatusFailure
}

// TerminalStatuses returns the terminal set, in a stable order. Used by
// stores to build "not yet settled" queries.
func TerminalStatuses() []Status {
	return []Status{StatusDone, StatusSkipped, StatusCancelled, StatusDeleted}
}
