package rabbit

import (
	"context"
	"fmt"
	"time"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// Executor runs the AMQP message state machine. It mirrors the polling
// pipeline with two differences: transient failures park the message in
// NEED_WAIT instead of leaving it READY, and processing is gated by the
// discriminant ordering rule.
type Executor struct {
	registry   *broker.Registry
	processors *broker.ProcessorRegistry
	messages   broker.MessageStore
	metrics    *broker.Metrics
	now        func() time.Time
	log        logging.Logger
}

// NewExecutor builds the AMQP-pipeline executor.
func NewExecutor(registry *broker.Registry, processors *broker.ProcessorRegistry, messages broker.MessageStore, metrics *broker.Metrics, log logging.Logger) *Executor {
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

// Execute drives one message through the AMQP state machine.
//
// Ordering rule: if any other message sharing the discriminant sits in
// RETRY or FAILURE, this one is parked as SKIPPED without invoking the
// processor. Successive updates to the same case must not be applied out of
// order; once one step is stuck, later steps wait for an operator to
// resolve it and resubmit.
func (e *Executor) Execute(ctx context.Context, msg *broker.Message) error {
	item, ok := e.registry.Get(msg.Handler)
	if !ok {
		return e.fail(ctx, msg, fmt.Sprintf("unknown handler %q", msg.Handler))
	}

	if msg.Status.Terminal() {
		return nil
	}
	if msg.Status == broker.StatusFailure {
		return &broker.ProcessingError{MessageID: msg.ID, Status: msg.Status, Comment: msg.StatusComment}
	}

	blocked, err := e.messages.HasBlocking(ctx, msg.Discriminant, msg.ID)
	if err != nil {
		return err
	}
	now := e.now()
	if blocked {
		msg.Status = broker.StatusSkipped
		msg.StatusComment = fmt.Sprintf("earlier message for discriminant %q unresolved", msg.Discriminant)
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, broker.StatusSkipped)
		e.log.Info("message parked behind stuck discriminant", logging.Fields{
			"message":      msg.ID,
			"discriminant": msg.Discriminant,
		})
		return nil
	}

	if msg.Status == broker.StatusNeedWait && msg.NextRun != nil && msg.NextRun.After(now) {
		return &broker.NeedWait{
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
	case broker.OutcomeDone:
		msg.Status = broker.StatusDone
		msg.StatusComment = out.Comment()
		msg.NextRun = nil
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, broker.StatusDone)
		return nil

	case broker.OutcomeNoResponse:
		delay := broker.NextDelay(msg)
		next := now.Add(delay)
		msg.Status = broker.StatusNeedWait
		msg.StatusComment = out.Comment()
		msg.NextRun = &next
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		return &broker.NeedWait{Comment: msg.StatusComment, Until: next}

	case broker.OutcomeSkip:
		msg.Status = broker.StatusSkipped
		msg.StatusComment = out.Comment()
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, broker.StatusSkipped)
		return nil

	default: // OutcomeBadResponse, OutcomeFailed
		status := broker.ErrorStatus(item, msg, out)
		msg.Status = status
		msg.StatusComment = out.Comment()
		msg.Processed = &now
		if err := e.messages.Update(ctx, msg); err != nil {
			return err
		}
		e.metrics.MessageSettled(msg.Queue, status)
		if status == broker.StatusFailure {
			return &broker.ProcessingError{MessageID: msg.ID, Status: status, Comment: msg.StatusComment}
		}
		return nil
	}
}

func (e *Executor) fail(ctx context.Context, msg *broker.Message, comment string) error {
	now := e.now()
	msg.Status = broker.StatusFailure
	msg.StatusComment = comment
	msg.Processed = &now
	if err := e.messages.Update(ctx, msg); err != nil {
		return err
	}
	e.metrics.MessageSettled(msg.Queue, broker.StatusFailure)
	return &broker.ProcessingError{MessageID: msg.ID, Status: broker.StatusFailure, Comment: comment}
}
