package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/civicase/relay/internal/logging"
)

// Worker owns the lifecycle of a single polling queue: it holds the manifest
// lock while running and drives batch processing on every tick.
type Worker struct {
	ID    string
	Queue string

	controller *Controller
	manifests  ManifestStore
	messages   MessageStore
	executor   *Executor
	metrics    *Metrics
	now        func() time.Time
	log        logging.Logger

	stopRequested atomic.Bool
}

// NewWorker builds a worker for one queue.
func NewWorker(id, queue string, controller *Controller, manifests ManifestStore, messages MessageStore, executor *Executor, metrics *Metrics, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{
		ID:         id,
		Queue:      queue,
		controller: controller,
		manifests:  manifests,
		messages:   messages,
		executor:   executor,
		metrics:    metrics,
		now:        time.Now,
		log:        log.With(logging.Fields{"queue": queue, "worker": id}),
	}
}

// Start acquires the queue by moving its manifest to RUNNING. A missing
// manifest or a queue held by another worker surfaces as a "cannot start"
// error; nothing is retried.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.manifests.Get(ctx, w.Queue); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("worker %q cannot start: queue %q does not exist", w.ID, w.Queue)
		}
		return fmt.Errorf("worker %q cannot start: %w", w.ID, err)
	}
	if err := w.controller.Start(ctx, w.Queue, w.ID, fmt.Sprintf("started by worker %s", w.ID)); err != nil {
		return fmt.Errorf("worker %q cannot start: %w", w.ID, err)
	}
	return nil
}

// Tick refreshes the heartbeat and, when the queue is RUNNING, processes up
// to batchSize pending messages in creation order. A need-wait from the
// executor records an informational comment and continues with the next
// message; a terminal error marks the manifest FAILURE and aborts the batch,
// leaving the remaining messages for a later repair.
func (w *Worker) Tick(ctx context.Context, batchSize int) error {
	started := w.now()
	defer func() {
		w.metrics.ObserveTick(w.Queue, w.now().Sub(started))
	}()

	if err := w.controller.Heartbeat(ctx, w.Queue); err != nil {
		return err
	}
	m, err := w.manifests.Get(ctx, w.Queue)
	if err != nil {
		return err
	}
	if m.Status != ManifestRunning {
		w.log.Debug("tick skipped", logging.Fields{"status": m.Status})
		return nil
	}

	batch, err := w.messages.FetchBatch(ctx, w.Queue, batchSize)
	if err != nil {
		return err
	}

	for _, msg := range batch {
		if w.stopRequested.Load() {
			w.log.Info("batch interrupted by stop request", nil)
			break
		}

		err := w.executor.Execute(ctx, msg)
		var wait *NeedWait
		switch {
		case err == nil:
			// settled or already terminal
		case errors.As(err, &wait):
			if infoErr := w.controller.Info(ctx, w.Queue, wait.Comment); infoErr != nil {
				return infoErr
			}
		default:
			if failErr := w.controller.Failure(ctx, w.Queue, err.Error()); failErr != nil {
				w.log.Error("could not mark queue failure", failErr, nil)
			}
			return err
		}
	}
	return nil
}

// Stopping signals the manifest and flags any in-flight batch to exit after
// the current message.
func (w *Worker) Stopping(ctx context.Context, reason string) error {
	w.stopRequested.Store(true)
	return w.controller.Stopping(ctx, w.Queue, reason)
}

// Stop releases the queue. force bypasses the STOPPING precondition and is
// used when rolling back a partially started pool.
func (w *Worker) Stop(ctx context.Context, reason string, force bool) error {
	w.stopRequested.Store(true)
	return w.controller.Stop(ctx, w.Queue, reason, force)
}

// StopRequested reports whether a stop was flagged. Exposed for the pool.
func (w *Worker) StopRequested() bool {
	return w.stopRequested.Load()
}
