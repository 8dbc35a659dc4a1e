package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/civicase/relay/internal/logging"
)

// Operations applied to a queue manifest. Exposed for error reporting only.
const (
	opStart    = "start"
	opPause    = "pause"
	opResume   = "resume"
	opStopping = "stop"
	opStopped  = "finish stopping"
	opFailure  = "fail"
)

// transition describes one row of the manifest state machine: the statuses
// an operation may be applied from, and the status it leads to.
type transition struct {
	from map[ManifestStatus]bool
	to   ManifestStatus
}

var transitions = map[string]transition{
	opStart: {
		from: map[ManifestStatus]bool{ManifestStopped: true},
		to:   ManifestRunning,
	},
	opPause: {
		from: map[ManifestStatus]bool{ManifestRunning: true, ManifestFailure: true},
		to:   ManifestPaused,
	},
	opResume: {
		from: map[ManifestStatus]bool{ManifestPaused: true, ManifestFailure: true},
		to:   ManifestRunning,
	},
	opStopping: {
		from: map[ManifestStatus]bool{
			ManifestRunning:  true,
			ManifestFailure:  true,
			ManifestPaused:   true,
			ManifestStopping: true,
		},
		to: ManifestStopping,
	},
	opStopped: {
		from: map[ManifestStatus]bool{ManifestStopping: true},
		to:   ManifestStopped,
	},
	opFailure: {
		from: map[ManifestStatus]bool{
			ManifestRunning:  true,
			ManifestFailure:  true,
			ManifestPaused:   true,
			ManifestStopping: true,
			ManifestStopped:  true,
		},
		to: ManifestFailure,
	},
}

// Controller drives queue manifests through their state machine. Every
// transition is persisted through a conditional write on the expected
// current status, which enforces the single-worker invariant against a
// concurrent start from another process.
type Controller struct {
	manifests ManifestStore
	now       func() time.Time
	log       logging.Logger
}

// NewController builds a manifest controller on top of a ManifestStore.
func NewController(manifests ManifestStore, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{manifests: manifests, now: time.Now, log: log}
}

// Create registers a new queue in STOPPED state. Timer is the advisory poll
// interval in seconds; zero keeps the pool default.
func (c *Controller) Create(ctx context.Context, queue string, timer int) (*Manifest, error) {
	m := &Manifest{
		Name:      queue,
		Status:    ManifestStopped,
		Heartbeat: c.now(),
		Comment:   "created",
		Timer:     timer,
	}
	if err := c.manifests.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("create queue %q: %w", queue, err)
	}
	c.log.Info("queue created", logging.Fields{"queue": queue, "timer": timer})
	return m, nil
}

// Start assigns the queue to a worker. Allowed only from STOPPED; any other
// status yields AlreadyAssignedError and leaves the manifest unchanged.
func (c *Controller) Start(ctx context.Context, queue, worker, reason string) error {
	m, err := c.manifests.Get(ctx, queue)
	if err != nil {
		return err
	}
	if m.Status != ManifestStopped {
		return &AlreadyAssignedError{
			Queue:        queue,
			Worker:       m.ConnectedWorker,
			Status:       m.Status,
			HeartbeatAge: m.HeartbeatAge(c.now()),
		}
	}
	expect := m.Status
	m.Status = ManifestRunning
	m.ConnectedWorker = worker
	m.Heartbeat = c.now()
	m.Comment = reason
	if err := c.manifests.Swap(ctx, expect, m); err != nil {
		return fmt.Errorf("start queue %q: %w", queue, err)
	}
	c.log.Info("queue started", logging.Fields{"queue": queue, "worker": worker})
	return nil
}

// Pause suspends a RUNNING or FAILURE queue without releasing the worker.
func (c *Controller) Pause(ctx context.Context, queue, reason string) error {
	return c.apply(ctx, opPause, queue, reason, nil)
}

// Resume puts a PAUSED or FAILURE queue back to RUNNING. The manifest must
// still have a connected worker.
func (c *Controller) Resume(ctx context.Context, queue, reason string) error {
	return c.apply(ctx, opResume, queue, reason, func(m *Manifest) error {
		if m.ConnectedWorker == "" {
			return &StateError{
				Op:           opResume,
				Queue:        queue,
				Status:       m.Status,
				HeartbeatAge: m.HeartbeatAge(c.now()),
			}
		}
		return nil
	})
}

// Stopping asks the owning worker to finish its in-flight batch and exit.
// Disallowed only when the queue is already STOPPED.
func (c *Controller) Stopping(ctx context.Context, queue, reason string) error {
	return c.apply(ctx, opStopping, queue, reason, nil)
}

// Stop releases the queue. Requires STOPPING unless force is set; force is
// the crash-recovery path used by the administrative repair operation.
func (c *Controller) Stop(ctx context.Context, queue, reason string, force bool) error {
	m, err := c.manifests.Get(ctx, queue)
	if err != nil {
		return err
	}
	if !force && m.Status != ManifestStopping {
		return &StateError{
			Op:           opStopped,
			Queue:        queue,
			Status:       m.Status,
			HeartbeatAge: m.HeartbeatAge(c.now()),
		}
	}
	expect := m.Status
	m.Status = ManifestStopped
	m.ConnectedWorker = ""
	m.Heartbeat = c.now()
	m.Comment = reason
	if force {
		// Repair must win even against a concurrent transition.
		if err := c.manifests.Update(ctx, m); err != nil {
			return fmt.Errorf("force stop queue %q: %w", queue, err)
		}
	} else if err := c.manifests.Swap(ctx, expect, m); err != nil {
		return fmt.Errorf("stop queue %q: %w", queue, err)
	}
	c.log.Info("queue stopped", logging.Fields{"queue": queue, "forced": force})
	return nil
}

// Failure marks the queue FAILURE. Allowed from any state; used when a
// worker batch hits a terminal processing error.
func (c *Controller) Failure(ctx context.Context, queue, reason string) error {
	return c.apply(ctx, opFailure, queue, reason, nil)
}

// Heartbeat refreshes the liveness timestamp without changing state.
func (c *Controller) Heartbeat(ctx context.Context, queue string) error {
	m, err := c.manifests.Get(ctx, queue)
	if err != nil {
		return err
	}
	m.Heartbeat = c.now()
	return c.manifests.Update(ctx, m)
}

// Info records a comment and refreshes the heartbeat without changing state.
func (c *Controller) Info(ctx context.Context, queue, comment string) error {
	m, err := c.manifests.Get(ctx, queue)
	if err != nil {
		return err
	}
	m.Heartbeat = c.now()
	m.Comment = comment
	return c.manifests.Update(ctx, m)
}

// Drop removes the manifest entirely. Callers purge the queue's messages
// first; see Dispatcher and the CLI drop command.
func (c *Controller) Drop(ctx context.Context, queue string) error {
	if err := c.manifests.Delete(ctx, queue); err != nil {
		return fmt.Errorf("drop queue %q: %w", queue, err)
	}
	c.log.Info("queue dropped", logging.Fields{"queue": queue})
	return nil
}

func (c *Controller) apply(ctx context.Context, op, queue, reason string, check func(*Manifest) error) error {
	t, ok := transitions[op]
	if !ok {
		return fmt.Errorf("relay: unknown manifest operation %q", op)
	}
	m, err := c.manifests.Get(ctx, queue)
	if err != nil {
		return err
	}
	if !t.from[m.Status] {
		return &StateError{
			Op:           op,
			Queue:        queue,
			Status:       m.Status,
			HeartbeatAge: m.HeartbeatAge(c.now()),
		}
	}
	if check != nil {
		if err := check(m); err != nil {
			return err
		}
	}
	expect := m.Status
	m.Status = t.to
	m.Heartbeat = c.now()
	m.Comment = reason
	if err := c.manifests.Swap(ctx, expect, m); err != nil {
		return fmt.Errorf("%s queue %q: %w", op, queue, err)
	}
	c.log.Debug("manifest transition", logging.Fields{
		"queue": queue, "op": op, "from": expect, "to": t.to,
	})
	return nil
}
