package broker

import (
	"context"
	"time"

	"github.com/civicase/relay/internal/ids"
	"github.com/civicase/relay/internal/logging"
)

// Publisher sends a message envelope over the AMQP transport. Implemented
// by the rabbit producer; a no-op implementation is substituted when
// publication is disabled.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg *Message) error
}

// DiscriminantFunc computes the ordering key stamped on AMQP-bound
// messages from the dispatched event and its payload.
type DiscriminantFunc func(event string, payload map[string]any) string

// DefaultDiscriminant groups messages by the "folder" carried in the event
// payload: successive updates to the same case must be observed in order.
// Events without a folder get a fresh key each, so they never block each
// other.
func DefaultDiscriminant(event string, payload map[string]any) string {
	if folder, ok := payload["folder"].(string); ok && folder != "" {
		return folder
	}
	return ids.New()
}

// DispatcherConfig groups the dispatcher's collaborators and switches.
type DispatcherConfig struct {
	Registry *Registry
	Messages MessageStore
	// Publisher may be nil when the AMQP transport is not configured.
	Publisher Publisher
	// Events is the allow-list of dispatchable event names.
	Events []string
	// RabbitEnabled gates the AMQP route globally; each handler still opts
	// in with its own flag.
	RabbitEnabled bool
	// Discriminant defaults to DefaultDiscriminant.
	Discriminant DiscriminantFunc
	Metrics      *Metrics
	Logger       logging.Logger
}

// Dispatcher turns a raised domain event into message records, one per
// interested handler, and routes each record to its transport.
type Dispatcher struct {
	registry      *Registry
	messages      MessageStore
	publisher     Publisher
	events        map[string]struct{}
	rabbitEnabled bool
	discriminant  DiscriminantFunc
	metrics       *Metrics
	now           func() time.Time
	log           logging.Logger
}

// NewDispatcher builds a dispatcher from its configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	disc := cfg.Discriminant
	if disc == nil {
		disc = DefaultDiscriminant
	}
	events := make(map[string]struct{}, len(cfg.Events))
	for _, name := range cfg.Events {
		events[name] = struct{}{}
	}
	return &Dispatcher{
		registry:      cfg.Registry,
		messages:      cfg.Messages,
		publisher:     cfg.Publisher,
		events:        events,
		rabbitEnabled: cfg.RabbitEnabled,
		discriminant:  disc,
		metrics:       cfg.Metrics,
		now:           time.Now,
		log:           log,
	}
}

// Send records one message per handler interested in the event, excluding
// handlers attributed to the raising origin. The transport is a per-handler
// decision: AMQP when both the global flag and the handler flag agree,
// otherwise the polling store. Returns the created messages.
func (d *Dispatcher) Send(ctx context.Context, event, origin string, payload map[string]any) ([]*Message, error) {
	if _, ok := d.events[event]; !ok {
		return nil, &UnknownEventError{Event: event}
	}

	items := d.registry.Filter(event, origin)
	if len(items) == 0 {
		d.log.Debug("no handler for event", logging.Fields{"event": event, "origin": origin})
		return nil, nil
	}

	created := make([]*Message, 0, len(items))
	for _, item := range items {
		msg := &Message{
			ID:      ids.New(),
			Queue:   item.Queue,
			Created: d.now(),
			Context: payload,
			Origin:  item.Origin,
			Handler: item.Label,
		}

		if d.rabbitEnabled && item.ToRabbit && d.publisher != nil {
			msg.Status = StatusFirstTry
			msg.Discriminant = d.discriminant(event, payload)
			if err := d.publisher.Publish(ctx, item.Queue, msg); err != nil {
				return created, err
			}
			d.metrics.MessageDispatched(item.Queue, "rabbit")
		} else {
			msg.Status = StatusReady
			if err := d.messages.Insert(ctx, msg); err != nil {
				return created, err
			}
			d.metrics.MessageDispatched(item.Queue, "poll")
		}

		d.log.Debug("event dispatched", logging.Fields{
			"event":   event,
			"handler": item.Label,
			"queue":   item.Queue,
			"status":  msg.Status,
		})
		created = append(created, msg)
	}
	return created, nil
}
