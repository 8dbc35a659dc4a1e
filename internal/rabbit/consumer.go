package rabbit

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// WorkerChannel consumes one queue's deliveries and feeds them to the AMQP
// message pipeline. One channel lives for the whole consume loop; message
// handling is synchronous per delivery.
type WorkerChannel struct {
	conn     *Connection
	queue    string
	executor *Executor
	messages broker.MessageStore
	log      logging.Logger
}

// NewWorkerChannel builds a consumer for one queue.
func NewWorkerChannel(conn *Connection, queue string, executor *Executor, messages broker.MessageStore, log logging.Logger) *WorkerChannel {
	if log == nil {
		log = logging.Nop()
	}
	return &WorkerChannel{
		conn:     conn,
		queue:    queue,
		executor: executor,
		messages: messages,
		log:      log.With(logging.Fields{"queue": queue}),
	}
}

// Consume opens a channel and processes deliveries until ctx is cancelled.
// A cancellation is reported as ErrWorkerExit so callers can tell a
// deliberate stop from a transport failure.
func (w *WorkerChannel) Consume(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(w.queue, "relay-"+w.queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbit: consume %q: %w", w.queue, err)
	}
	w.log.Info("consuming", nil)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("consumer for %q stopped: %w", w.queue, ErrWorkerExit)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbit: delivery stream closed for %q", w.queue)
			}
			w.handle(ctx, d)
		}
	}
}

// ConsumeOne opens a channel, pulls at most one delivery, processes it, and
// closes the channel. Returns false when the queue was empty.
func (w *WorkerChannel) ConsumeOne(ctx context.Context) (bool, error) {
	ch, err := w.conn.Channel()
	if err != nil {
		return false, err
	}
	defer ch.Close()

	d, ok, err := ch.Get(w.queue, false)
	if err != nil {
		return false, fmt.Errorf("rabbit: get from %q: %w", w.queue, err)
	}
	if !ok {
		return false, nil
	}
	w.handle(ctx, d)
	return true, nil
}

// handle attaches the delivery to its store record, runs the pipeline, and
// settles the delivery. The ack happens only after the record's status is
// durably updated; a store failure leaves the delivery for redelivery,
// which the pipeline absorbs as an application-level retry.
func (w *WorkerChannel) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := DecodeMessage(d.Body)
	if err != nil {
		w.log.Error("undecodable delivery rejected", err, nil)
		w.settle(d, false, false)
		return
	}

	record, err := w.attach(ctx, msg)
	if err != nil {
		w.log.Error("could not attach delivery to its record", err, logging.Fields{"message": msg.ID})
		w.settle(d, false, true)
		return
	}

	execErr := w.executor.Execute(ctx, record)
	switch {
	case execErr == nil, broker.IsNeedWait(execErr):
		w.settle(d, true, false)
	default:
		var perr *broker.ProcessingError
		if errors.As(execErr, &perr) {
			// The record is durably FAILURE; redelivering the same payload
			// could not change the outcome.
			w.log.Error("message failed", execErr, logging.Fields{"message": record.ID})
			w.settle(d, true, false)
			return
		}
		// Store round trip failed: keep the delivery so the broker retries.
		w.log.Error("message processing aborted", execErr, logging.Fields{"message": record.ID})
		w.settle(d, false, true)
	}
}

// attach resolves the wire payload to its message record. A re-delivered
// envelope carrying a known identifier joins the existing record instead of
// creating a duplicate.
func (w *WorkerChannel) attach(ctx context.Context, msg *broker.Message) (*broker.Message, error) {
	existing, err := w.messages.Get(ctx, msg.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, broker.ErrNotFound) {
		return nil, err
	}
	if insertErr := w.messages.Insert(ctx, msg); insertErr != nil {
		if errors.Is(insertErr, broker.ErrConflict) {
			// Lost a race against another consumer of the same payload.
			return w.messages.Get(ctx, msg.ID)
		}
		return nil, insertErr
	}
	return msg, nil
}

func (w *WorkerChannel) settle(d amqp.Delivery, ack, requeue bool) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, requeue)
	}
	if err != nil {
		w.log.Error("could not settle delivery", err, logging.Fields{"ack": ack})
	}
}
