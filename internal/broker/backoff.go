package broker

import "time"

// Retry delays for transient processing failures. The first retry waits
// BaseDelay; each further retry doubles the previous interval up to
// MaxDelay.
const (
	BaseDelay = 60 * time.Second
	MaxDelay  = 6 * time.Hour
)

// NextDelay computes the backoff delay for a message that just got a
// transient failure. The previous interval is reconstructed from the
// persisted next_run and processed timestamps, so the schedule survives
// process restarts. The result is monotonically non-decreasing and capped.
func NextDelay(msg *Message) time.Duration {
	if msg.NextRun == nil || msg.Processed == nil {
		return BaseDelay
	}
	previous := msg.NextRun.Sub(*msg.Processed)
	if previous <= 0 {
		return BaseDelay
	}
	next := 2 * previous
	if next < BaseDelay {
		next = BaseDelay
	}
	if next > MaxDelay {
		next = MaxDelay
	}
	return next
}
