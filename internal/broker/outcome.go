package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// OutcomeKind classifies the result of one processor invocation.
type OutcomeKind int

const (
	// OutcomeDone means the side effect happened; Result holds the
	// human-readable confirmation stored on the message.
	OutcomeDone OutcomeKind = iota
	// OutcomeNoResponse means the collaborator did not answer and the
	// message should be retried later with backoff.
	OutcomeNoResponse
	// OutcomeSkip means the processor deliberately declined the message.
	OutcomeSkip
	// OutcomeBadResponse means the collaborator answered with an error
	// payload; the handler's error callback decides the final status.
	OutcomeBadResponse
	// OutcomeFailed covers every other processor failure.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeNoResponse:
		return "no_response"
	case OutcomeSkip:
		return "skip"
	case OutcomeBadResponse:
		return "bad_response"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the typed result of a processor invocation, pattern-matched by
// the message state machines.
type Outcome struct {
	Kind    OutcomeKind
	Result  string
	Payload map[string]any
	Err     error
}

// Comment returns the text persisted as the message's status comment.
func (o Outcome) Comment() string {
	switch {
	case o.Result != "":
		return o.Result
	case o.Err != nil:
		return o.Err.Error()
	case o.Kind == OutcomeNoResponse:
		return "no response from processor"
	default:
		return o.Kind.String()
	}
}

// Done builds a success outcome carrying the processor's result text.
func Done(result string) Outcome {
	return Outcome{Kind: OutcomeDone, Result: result}
}

// NoResponse builds a transient outcome that schedules a backoff retry.
func NoResponse(err error) Outcome {
	return Outcome{Kind: OutcomeNoResponse, Err: err}
}

// Skip builds an intentional-skip outcome.
func Skip(reason string) Outcome {
	return Outcome{Kind: OutcomeSkip, Result: reason}
}

// BadResponse builds an outcome carrying the collaborator's error payload.
func BadResponse(err error, payload map[string]any) Outcome {
	return Outcome{Kind: OutcomeBadResponse, Err: err, Payload: payload}
}

// Failed builds an unclassified failure outcome.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// ProcessorFunc is the pluggable unit of work performing the actual side
// effect for a message: it receives the handler's static context through the
// item and the message itself, and reports what happened as an Outcome.
// Implementations are assumed synchronous and potentially network-bound.
type ProcessorFunc func(ctx context.Context, item *HandlerItem, msg *Message) Outcome

// ProcessorRegistry resolves processor names to their implementations.
type ProcessorRegistry struct {
	mu    sync.RWMutex
	procs map[string]ProcessorFunc
}

// NewProcessorRegistry returns an empty processor registry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{procs: make(map[string]ProcessorFunc)}
}

// Register binds a name to a processor. Re-registering a name replaces the
// previous binding, which administrative reconfiguration relies on.
func (r *ProcessorRegistry) Register(name string, fn ProcessorFunc) error {
	if name == "" {
		return fmt.Errorf("relay: processor name is required")
	}
	if fn == nil {
		return fmt.Errorf("relay: processor %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[name] = fn
	return nil
}

// Resolve returns the processor registered under name.
func (r *ProcessorRegistry) Resolve(name string) (ProcessorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.procs[name]
	return fn, ok
}

// Names lists the registered processor names, sorted.
func (r *ProcessorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
