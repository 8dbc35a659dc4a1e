package monitor

import (
	"context"
	"time"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// Stall describes a queue that holds pending work but settled nothing
// since the previous scan.
type Stall struct {
	Queue    string
	Status   broker.ManifestStatus
	Pending  int64
	Settled  int64
	Interval time.Duration
}

// Watcher periodically samples message counts and flags queues whose
// settled total stopped advancing while non-terminal messages remain. A
// paused or stopped queue is expected to sit still and is never flagged.
type Watcher struct {
	manifests broker.ManifestStore
	messages  broker.MessageStore
	interval  time.Duration
	log       logging.Logger

	// settled totals from the previous scan, per queue
	previous map[string]int64
}

// NewWatcher builds a stall watcher sampling at the given interval.
func NewWatcher(manifests broker.ManifestStore, messages broker.MessageStore, interval time.Duration, log logging.Logger) *Watcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Watcher{
		manifests: manifests,
		messages:  messages,
		interval:  interval,
		log:       log,
		previous:  make(map[string]int64),
	}
}

// Run scans until ctx is cancelled, logging a warning per stalled queue
// and an info line per healthy scan.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Prime the baseline so the first report compares real intervals.
	if _, err := w.Scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stalls, err := w.Scan(ctx)
			if err != nil {
				w.log.Error("watch scan failed", err, nil)
				continue
			}
			if len(stalls) == 0 {
				w.log.Info("all queues flowing", nil)
				continue
			}
			for _, s := range stalls {
				w.log.Warn("queue stalled", logging.Fields{
					"queue":    s.Queue,
					"status":   string(s.Status),
					"pending":  s.Pending,
					"settled":  s.Settled,
					"interval": s.Interval.String(),
				})
			}
		}
	}
}

// Scan samples every queue once and returns the stalled ones. The first
// call only establishes the baseline and reports nothing.
func (w *Watcher) Scan(ctx context.Context) ([]Stall, error) {
	manifests, err := w.manifests.List(ctx)
	if err != nil {
		return nil, err
	}

	var stalls []Stall
	seen := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		counts, err := w.messages.CountByStatus(ctx, m.Name)
		if err != nil {
			return nil, err
		}

		var settled, pending int64
		for status, n := range counts {
			if status.Terminal() {
				settled += n
			} else {
				pending += n
			}
		}

		prev, known := w.previous[m.Name]
		w.previous[m.Name] = settled
		seen[m.Name] = true

		if !known {
			continue
		}
		if m.Status != broker.ManifestRunning {
			continue
		}
		if pending > 0 && settled == prev {
			stalls = append(stalls, Stall{
				Queue:    m.Name,
				Status:   m.Status,
				Pending:  pending,
				Settled:  settled,
				Interval: w.interval,
			})
		}
	}

	// Forget dropped queues so a re-created one starts a fresh baseline.
	for queue := range w.previous {
		if !seen[queue] {
			delete(w.previous, queue)
		}
	}
	return stalls, nil
}
