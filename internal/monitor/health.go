package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/civicase/relay/internal/broker"
)

// Severity grades a queue's health. Ordering matters: higher values are
// worse, and the global report carries the worst severity seen.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// MarshalJSON renders the severity as its name rather than a number.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the severity name written by MarshalJSON.
func (s *Severity) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"OK"`:
		*s = SeverityOK
	case `"WARNING"`:
		*s = SeverityWarning
	case `"ERROR"`:
		*s = SeverityError
	default:
		return fmt.Errorf("monitor: unknown severity %s", data)
	}
	return nil
}

// QueueHealth is the health report for one queue.
type QueueHealth struct {
	Queue           string                  `json:"queue"`
	Status          broker.ManifestStatus   `json:"status"`
	Severity        Severity                `json:"severity"`
	Detail          string                  `json:"detail,omitempty"`
	ConnectedWorker string                  `json:"connected_worker,omitempty"`
	HeartbeatAge    float64                 `json:"heartbeat_age_seconds"`
	Messages        map[broker.Status]int64 `json:"messages"`
}

// Report is the roll-up across every queue.
type Report struct {
	Severity Severity      `json:"severity"`
	Queues   []QueueHealth `json:"queues"`
	Checked  time.Time     `json:"checked"`
}

// Checker evaluates queue health against heartbeat-age thresholds.
type Checker struct {
	manifests broker.ManifestStore
	messages  broker.MessageStore
	metrics   *broker.Metrics
	warnOver  time.Duration
	errOver   time.Duration
	now       func() time.Time
}

// NewChecker builds a health checker. warnOver and errOver are the
// heartbeat-age thresholds applied to RUNNING queues.
func NewChecker(manifests broker.ManifestStore, messages broker.MessageStore, metrics *broker.Metrics, warnOver, errOver time.Duration) *Checker {
	return &Checker{
		manifests: manifests,
		messages:  messages,
		metrics:   metrics,
		warnOver:  warnOver,
		errOver:   errOver,
		now:       time.Now,
	}
}

// Check builds the full report. Store errors abort the report rather than
// masking a broken backend as healthy queues.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	manifests, err := c.manifests.List(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	report := &Report{Severity: SeverityOK, Checked: now}
	for _, m := range manifests {
		counts, err := c.messages.CountByStatus(ctx, m.Name)
		if err != nil {
			return nil, err
		}

		qh := QueueHealth{
			Queue:           m.Name,
			Status:          m.Status,
			ConnectedWorker: m.ConnectedWorker,
			HeartbeatAge:    m.HeartbeatAge(now).Seconds(),
			Messages:        counts,
		}
		qh.Severity, qh.Detail = c.grade(m, counts, now)
		c.metrics.SetHeartbeatAge(m.Name, m.HeartbeatAge(now))

		if qh.Severity > report.Severity {
			report.Severity = qh.Severity
		}
		report.Queues = append(report.Queues, qh)
	}
	return report, nil
}

// grade decides one queue's severity.
//
// FAILURE manifests and stale RUNNING heartbeats are errors; a mildly
// stale heartbeat or messages stuck in FAILURE are warnings. A stopped
// queue is healthy no matter how old its heartbeat is.
func (c *Checker) grade(m *broker.Manifest, counts map[broker.Status]int64, now time.Time) (Severity, string) {
	if m.Status == broker.ManifestFailure {
		detail := m.Comment
		if detail == "" {
			detail = "queue is in FAILURE"
		}
		return SeverityError, detail
	}

	if m.Status == broker.ManifestRunning || m.Status == broker.ManifestStopping {
		age := m.HeartbeatAge(now)
		if age >= c.errOver {
			return SeverityError, "worker heartbeat stale, the worker likely died"
		}
		if age >= c.warnOver {
			return SeverityWarning, "worker heartbeat lagging"
		}
	}

	if counts[broker.StatusFailure] > 0 {
		return SeverityWarning, "queue has failed messages awaiting operator action"
	}
	return SeverityOK, ""
}
