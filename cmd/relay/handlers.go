package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/logging"
)

// handlerSpec is the JSON shape of one handler in the --handlers file. It
// mirrors broker.HandlerItem minus the code-level fields (the on-error
// callback cannot be expressed in JSON, so file-defined handlers fall back
// to the default FAILURE policy).
type handlerSpec struct {
	Label     string         `json:"label"`
	Origin    string         `json:"origin"`
	Queue     string         `json:"queue"`
	Processor string         `json:"processor"`
	Event     string         `json:"event"`
	Skip      bool           `json:"skip,omitempty"`
	ToRabbit  bool           `json:"to_rabbit,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// loadRegistry reads handler definitions from a JSON file and registers them.
func loadRegistry(path string) (*broker.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("handlers file: %w", err)
	}
	var specs []handlerSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("handlers file %s: %w", path, err)
	}

	registry := broker.NewRegistry()
	for _, s := range specs {
		item := &broker.HandlerItem{
			Label:     s.Label,
			Origin:    s.Origin,
			Queue:     s.Queue,
			Processor: s.Processor,
			Event:     s.Event,
			Skip:      s.Skip,
			ToRabbit:  s.ToRabbit,
			Context:   s.Context,
		}
		if err := registry.Append(item); err != nil {
			return nil, fmt.Errorf("handlers file %s: %w", path, err)
		}
	}
	return registry, nil
}

// builtinProcessors returns the processors compiled into the binary. Domain
// processors belong to the application embedding the broker packages; the
// CLI ships only generic ones useful for draining and debugging queues.
func builtinProcessors(log logging.Logger) *broker.ProcessorRegistry {
	processors := broker.NewProcessorRegistry()

	// log: record the message and settle it. Used to drain a queue whose
	// consumer application was retired.
	_ = processors.Register("log", func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		log.Info("message received", logging.Fields{
			"handler": item.Label,
			"queue":   msg.Queue,
			"message": msg.ID,
			"context": msg.Context,
		})
		return broker.Done("logged")
	})

	// discard: settle without logging the payload.
	_ = processors.Register("discard", func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.Skip("discarded by operator configuration")
	})

	return processors
}
