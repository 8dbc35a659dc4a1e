package rabbit

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrConnectionRefused indicates the broker endpoint could not be
	// reached (wrong host/port, broker down). Fails the process at startup.
	ErrConnectionRefused = errors.New("rabbit: connection refused")
	// ErrAuthFailure indicates the broker rejected the credentials.
	ErrAuthFailure = errors.New("rabbit: authentication failed")
	// ErrWorkerExit marks a deliberate consumer stop, as opposed to a
	// transport failure. Callers use it to exit cleanly.
	ErrWorkerExit = errors.New("rabbit: worker exit requested")
)

// classifyDialError separates credential rejections from unreachable
// endpoints so startup failures are unambiguous for the operator.
func classifyDialError(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
		return ErrAuthFailure
	}
	return ErrConnectionRefused
}
