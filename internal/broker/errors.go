package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("relay: record not found")
	// ErrConflict is returned by stores when a conditional write loses
	// against a concurrent update, or an insert hits an existing key.
	ErrConflict = errors.New("relay: concurrent update conflict")
)

// StateError reports an illegal queue manifest transition. It is always an
// operator-visible configuration or sequencing problem, never retried.
type StateError struct {
	Op           string
	Queue        string
	Status       ManifestStatus
	HeartbeatAge time.Duration
}

func (e *StateError) Error() string {
	return fmt.Sprintf("relay: cannot %s queue %q in state %s (last heartbeat %s ago)",
		e.Op, e.Queue, e.Status, e.HeartbeatAge.Round(time.Second))
}

// AlreadyAssignedError is the start-specific state error: the queue is not
// STOPPED, so another worker holds (or held) it.
type AlreadyAssignedError struct {
	Queue        string
	Worker       string
	Status       ManifestStatus
	HeartbeatAge time.Duration
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("relay: queue %q already has worker %q assigned (status %s, last heartbeat %s ago)",
		e.Queue, e.Worker, e.Status, e.HeartbeatAge.Round(time.Second))
}

// NeedWait signals that a message is not eligible yet and the caller should
// move on instead of busy-retrying within the same tick or delivery.
type NeedWait struct {
	Comment string
	Until   time.Time
}

func (e *NeedWait) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("relay: message needs to wait: %s", e.Comment)
	}
	return fmt.Sprintf("relay: message needs to wait until %s: %s",
		e.Until.Format(time.RFC3339), e.Comment)
}

// IsNeedWait reports whether err carries a need-wait signal.
func IsNeedWait(err error) bool {
	var nw *NeedWait
	return errors.As(err, &nw)
}

// ProcessingError reports a terminal message-processing failure. The message
// record has already been moved to its final status when this is returned.
type ProcessingError struct {
	MessageID string
	Status    Status
	Comment   string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("relay: message %s failed (%s): %s", e.MessageID, e.Status, e.Comment)
}

// UnknownEventError reports a dispatch for an event missing from the
// configured allow-list.
type UnknownEventError struct {
	Event string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("relay: unknown event %q", e.Event)
}

// DuplicateHandlerError reports a registry append reusing an existing label.
type DuplicateHandlerError struct {
	Label string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("relay: handler %q is already registered", e.Label)
}
