package rabbit

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// Producer publishes message envelopes to the exchange. Construction
// declares the full topology once: the direct exchange, plus one durable
// queue per configured logical queue, each bound with its own name as
// routing key.
type Producer struct {
	conn     *Connection
	exchange string
	disabled bool
	log      logging.Logger
}

var _ broker.Publisher = (*Producer)(nil)

// NewProducer declares the exchange and queue topology on a transient
// channel, then closes it. Declarations are idempotent on the broker side.
// When disabled is set, Publish becomes a recorded no-op; the topology is
// still declared so consumers can start against empty queues.
func NewProducer(conn *Connection, exchange string, queues []string, disabled bool, log logging.Logger) (*Producer, error) {
	if log == nil {
		log = logging.Nop()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbit: declare exchange %q: %w", exchange, err)
	}
	for _, queue := range queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("rabbit: declare queue %q: %w", queue, err)
		}
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("rabbit: bind queue %q: %w", queue, err)
		}
	}

	return &Producer{conn: conn, exchange: exchange, disabled: disabled, log: log}, nil
}

// Publish sends the envelope to the exchange with the queue name as routing
// key. A fresh channel is opened and closed per call; only the connection
// is shared.
func (p *Producer) Publish(ctx context.Context, queue string, msg *broker.Message) error {
	if p.disabled {
		p.log.Info("publication disabled, message dropped", logging.Fields{
			"queue":   queue,
			"message": msg.ID,
		})
		return nil
	}

	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Created,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbit: publish to %q: %w", queue, err)
	}
	p.log.Debug("message published", logging.Fields{"queue": queue, "message": msg.ID})
	return nil
}
