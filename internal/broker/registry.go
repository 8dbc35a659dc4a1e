package broker

import (
	"fmt"
	"sync"
)

// ErrorCallback decides the terminal status of a message whose processor
// returned a bad-response or unclassified failure. Returning an empty status
// falls back to FAILURE.
type ErrorCallback func(msg *Message, out Outcome) Status

// HandlerItem binds one domain event to one target queue and processor.
// Items are owned exclusively by the Registry; they are rebuilt from
// configuration at process start and may be appended or flushed at runtime
// for administrative reconfiguration.
type HandlerItem struct {
	// Label uniquely identifies the item; message records reference it.
	Label string
	// Origin is the actor the resulting messages are attributed to.
	Origin string
	// Queue is the logical queue the messages are routed to.
	Queue string
	// Processor names the registered unit of work executed per message.
	Processor string
	// Context carries static parameters handed to the processor.
	Context map[string]any
	// Event is the domain event name this item reacts to.
	Event string
	// Skip bypasses the item entirely (feature flag).
	Skip bool
	// OnError decides the terminal status on unrecoverable processor
	// errors. Nil defaults to FAILURE.
	OnError ErrorCallback
	// ToRabbit selects the AMQP transport when the global flag allows it.
	ToRabbit bool
}

func (h *HandlerItem) validate() error {
	if h.Label == "" {
		return fmt.Errorf("relay: handler label is required")
	}
	if h.Event == "" {
		return fmt.Errorf("relay: handler %q: event is required", h.Label)
	}
	if h.Queue == "" {
		return fmt.Errorf("relay: handler %q: queue is required", h.Label)
	}
	if h.Processor == "" {
		return fmt.Errorf("relay: handler %q: processor is required", h.Label)
	}
	return nil
}

// Registry holds the event-handler items. It is an explicit object passed to
// the dispatcher and workers at construction; there is no ambient global
// state.
type Registry struct {
	mu      sync.RWMutex
	items   []*HandlerItem
	byLabel map[string]*HandlerItem
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byLabel: make(map[string]*HandlerItem)}
}

// Append validates and adds an item. Labels are unique.
func (r *Registry) Append(item *HandlerItem) error {
	if item == nil {
		return fmt.Errorf("relay: handler item is nil")
	}
	if err := item.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byLabel[item.Label]; exists {
		return &DuplicateHandlerError{Label: item.Label}
	}
	r.items = append(r.items, item)
	r.byLabel[item.Label] = item
	return nil
}

// Flush removes every item.
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	r.byLabel = make(map[string]*HandlerItem)
}

// Filter returns the items reacting to event whose origin differs from the
// caller's. An actor never reacts to its own writes; that is what keeps two
// synchronised systems from feeding events back to each other forever.
// Items flagged Skip are excluded.
func (r *Registry) Filter(event, origin string) []*HandlerItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*HandlerItem
	for _, item := range r.items {
		if item.Event != event || item.Skip {
			continue
		}
		if item.Origin == origin {
			continue
		}
		matched = append(matched, item)
	}
	return matched
}

// Get resolves an item by label, including skipped ones: messages already
// queued under a label must still find their item.
func (r *Registry) Get(label string) (*HandlerItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.byLabel[label]
	return item, ok
}

// Items returns a snapshot of the registered items in append order.
func (r *Registry) Items() []*HandlerItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*HandlerItem, len(r.items))
	copy(snapshot, r.items)
	return snapshot
}
