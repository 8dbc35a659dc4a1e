package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/civicase/relay/internal/logging"
)

// Executor runs the polling-pipeline message state machine. It owns no
// scheduling: the Worker feeds it one message at a time.
type Executor struct {
	registry   *Registry
	processors *ProcessorRegistry
	messages   MessageStore
	metrics    *Metrics
	now        func() time.Time
	log        logging.Logger
}

// NewExecutor builds the polling-pipeline executor.
func NewExecutor(registry *Registry, processors *ProcessorRegistry, messages MessageStore, metrics *Metrics, log logging.Logger) *Executor {
	if log == nil {
		log = logging.Nop()
	}
	return &Executor{
		registry:   registry,
		processors: processors,
		messages:   messages,
		metrics:    metrics,
		now:        time.Now,
		log:        log,
	}
}

// Execute drives one message through the polling state machine.
//
// Return values: nil when the message reached DONE, SKIPPED or a
// policy-decided non-failure status (or was already settled); *NeedWait when
// the message must be retried later (the caller records the comment and
// moves on); *ProcessingError when the message is terminally failed (the
// caller marks the queue FAILURE and aborts the batch).
func (e *Executor) Execute(ctx context.Context, msg *Message) error {
	item, ok := e.registry.Get(msg.Handler)
	if !ok {
		return e.fail(ctx, msg, fmt.Sprintf("unknown handler %q", msg.Handler))
	}

	// Idempotent re-delivery guard: settled messages stay settled.
	if msg.Status.Terminal() {
		return nil
	}
	if msg.Status == StatusFailure {
		// A failed message never self-heals without external repair.
		return &ProcessingError{MessageID: msg.ID, Status: msg.Status, Comment: msg.StatusComment}
	}

	now := e.now()
	if msg.NextRun != nil && msg.NextRun.After(now) {
		return &NeedWait{
			Comment: fmt.Sprintf("message %s waiting for retry slot", msg.ID),
			Until:   *msg.NextRun,
		}
	}

	proc, ok := e.processors.Resolve(item.Processor)
	if !ok {
		return e.fail(ctx, msg, fmt.Sprintf("unknown processor %q", item.Processor))
	}

	out := proc(ctx, item, msg)
	e.metrics.ObserveOutcome(msg.Queue, out.Kind)

	switch out.Kind {
	case OutcomeDone:
		msg.Status = StatusDone
		msg.StatusComment = out.Comment()
		msg.NextRun = nil
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, StatusDone)
		return nil

	case OutcomeNoResponse:
		// Compute the next slot from the previous one before overwriting
		// the timestamps it is derived from.
		delay := NextDelay(msg)
		next := now.Add(delay)
		msg.StatusComment = out.Comment()
		msg.NextRun = &next
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		return &NeedWait{Comment: msg.StatusComment, Until: next}

	case OutcomeSkip:
		msg.Status = StatusSkipped
		msg.StatusComment = out.Comment()
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, StatusSkipped)
		return nil

	default: // OutcomeBadResponse, OutcomeFailed
		status := ErrorStatus(item, msg, out)
		msg.Status = status
		msg.StatusComment = out.Comment()
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, status)
		if status == StatusFailure {
			return &ProcessingError{MessageID: msg.ID, Status: status, Comment: msg.StatusComment}
		}
		return nil
	}
}

// fail moves the message to FAILURE with a descriptive comment and reports a
// terminal error. Used for configuration problems (unknown handler or
// processor) discovered at execution time.
func (e *Executor) fail(ctx context.Context, msg *Message, comment string) error {
	msg.Status = StatusFailure
	msg.StatusComment = comment
	now := e.now()
	msg.Processed = &now
	if err := e.messages.Update(ctx, msg); err != nil {
		return err
	}
	e.metrics.MessageSettled(msg.Queue, StatusFailure)
	return &ProcessingError{MessageID: msg.ID, Status: StatusFailure, Comment: comment}
}

// ErrorStatus applies the handler's on-error policy, defaulting to FAILURE.
func ErrorStatus(item *HandlerItem, msg *Message, out Outcome) Status {
	if item.OnError == nil {
		return StatusFailure
	}
	status := item.OnError(msg, out)
	if status == "" {
		return StatusFailure
	}
	return status
}
