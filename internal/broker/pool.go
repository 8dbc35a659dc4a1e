package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/civicase/relay/internal/logging"
)

// ErrColdShutdown is returned by Run after a forced shutdown: the in-flight
// batch was abandoned and the queue manifests were left locked. The operator
// must repair the queues before restarting workers on them.
var ErrColdShutdown = errors.New("relay: cold shutdown forced, queue manifests left locked")

// Pool owns one worker per configured queue and ticks them round-robin in a
// single loop. Concurrency across queue groups is achieved by running one
// process per group, not by in-process parallelism; a slow processor call
// blocks the next queue's tick by design.
type Pool struct {
	workers   []*Worker
	timer     time.Duration
	batchSize int
	log       logging.Logger

	stopRequests atomic.Int32
	draining     atomic.Bool
}

// NewPool builds a pool over the given workers. timer is the sleep interval
// between rounds; batchSize caps each tick's fetch.
func NewPool(workers []*Worker, timer time.Duration, batchSize int, log logging.Logger) *Pool {
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{
		workers:   workers,
		timer:     timer,
		batchSize: batchSize,
		log:       log,
	}
}

// Run starts every worker, then loops: tick each worker, sleep, repeat,
// until a stop is requested or ctx is cancelled. Cancelling ctx is the cold
// path: it aborts mid-batch, skips the manifest release entirely and
// reports ErrColdShutdown, even when a warm drain was already underway.
// Use RequestStop for the warm path.
//
// If any worker fails to start, the already-started ones are force-stopped
// and the error propagates.
func (p *Pool) Run(ctx context.Context) error {
	for i, w := range p.workers {
		if err := w.Start(ctx); err != nil {
			p.rollback(ctx, i)
			return err
		}
	}
	p.log.Info("worker pool running", logging.Fields{
		"workers": len(p.workers),
		"timer":   p.timer.String(),
	})

	for !p.draining.Load() && ctx.Err() == nil {
		for _, w := range p.workers {
			if p.draining.Load() || ctx.Err() != nil {
				break
			}
			if err := w.Tick(ctx, p.batchSize); err != nil {
				// Recoverable processing errors were already absorbed into
				// message state; whatever reaches here concerns only this
				// queue, so the round continues with the next one.
				p.log.Error("worker tick failed", err, logging.Fields{"queue": w.Queue})
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.timer):
		}
	}

	// A cancelled context always wins: releasing the manifests now would
	// erase the warm/cold distinction the operator relies on.
	if ctx.Err() != nil {
		return ErrColdShutdown
	}
	return p.shutdown(context.WithoutCancel(ctx))
}

// RequestStop implements the two-stage shutdown. The first request starts a
// warm drain: no new batches, in-flight work finishes, manifests are
// released. A second request while draining reports cold=true; the caller
// should abort immediately (the manifests stay locked and need repair).
func (p *Pool) RequestStop(reason string) (cold bool) {
	if p.stopRequests.Add(1) > 1 {
		return true
	}
	p.Stop(reason)
	return false
}

// Stop flips the running flag and asks every worker to finish its current
// message. The manifests transition to STOPPING here and to STOPPED when
// Run's shutdown completes.
func (p *Pool) Stop(reason string) {
	if p.draining.Swap(true) {
		return
	}
	p.log.Info("worker pool draining", logging.Fields{"reason": reason})
	ctx := context.Background()
	for _, w := range p.workers {
		if err := w.Stopping(ctx, reason); err != nil {
			p.log.Error("could not signal worker to stop", err, logging.Fields{"queue": w.Queue})
		}
	}
}

func (p *Pool) shutdown(ctx context.Context) error {
	var errs []error
	for _, w := range p.workers {
		if !w.StopRequested() {
			if err := w.Stopping(ctx, "pool shutdown"); err != nil {
				p.log.Error("could not signal worker to stop", err, logging.Fields{"queue": w.Queue})
			}
		}
		if err := w.Stop(ctx, "pool shutdown", false); err != nil {
			errs = append(errs, err)
			p.log.Error("could not stop worker", err, logging.Fields{"queue": w.Queue})
		}
	}
	p.log.Info("worker pool stopped", nil)
	return errors.Join(errs...)
}

func (p *Pool) rollback(ctx context.Context, started int) {
	for j := 0; j < started; j++ {
		w := p.workers[j]
		if err := w.Stop(ctx, "rolled back after failed pool start", true); err != nil {
			p.log.Error("rollback stop failed", err, logging.Fields{"queue": w.Queue})
		}
	}
}
