package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/civicase/relay/internal/logging"
)

// Connection owns the one long-lived AMQP connection shared by every
// channel opened within a process.
type Connection struct {
	conn *amqp.Connection
	url  string
	log  logging.Logger
}

// Dial connects to the broker endpoint. Connection failures surface
// immediately as ErrConnectionRefused or ErrAuthFailure so the process can
// abort at startup instead of limping along.
func Dial(url string, log logging.Logger) (*Connection, error) {
	if log == nil {
		log = logging.Nop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classifyDialError(err), err)
	}
	log.Info("connected to broker", nil)
	return &Connection{conn: conn, url: url, log: log}, nil
}

// Channel opens a new channel on the shared connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit: open channel: %w", err)
	}
	return ch, nil
}

// Close tears the connection down, closing every channel with it.
func (c *Connection) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("rabbit: close connection: %w", err)
	}
	return nil
}
