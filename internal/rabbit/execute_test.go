package rabbit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/rabbit"
	"github.com/civicase/relay/internal/store"
)

type rabbitFixture struct {
	messages *store.MemoryMessages
	executor *rabbit.Executor
	calls    *[]string
}

func newRabbitFixture(t *testing.T, proc broker.ProcessorFunc) *rabbitFixture {
	t.Helper()
	registry := broker.NewRegistry()
	require.NoError(t, registry.Append(&broker.HandlerItem{
		Label:     "sync-invoices",
		Origin:    "billing",
		Queue:     "invoices",
		Processor: "push",
		Event:     "invoice.updated",
	}))

	var calls []string
	processors := broker.NewProcessorRegistry()
	require.NoError(t, processors.Register("push", func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		calls = append(calls, msg.ID)
		if proc != nil {
			return proc(ctx, item, msg)
		}
		return broker.Done("pushed")
	}))

	messages := store.NewMemoryMessages()
	return &rabbitFixture{
		messages: messages,
		executor: rabbit.NewExecutor(registry, processors, messages, nil, nil),
		calls:    &calls,
	}
}

func (f *rabbitFixture) seed(t *testing.T, msg *broker.Message) {
	t.Helper()
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	if msg.Queue == "" {
		msg.Queue = "invoices"
	}
	if msg.Handler == "" {
		msg.Handler = "sync-invoices"
	}
	require.NoError(t, f.messages.Insert(context.Background(), msg))
}

func TestRabbitExecuteDone(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusFirstTry, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, msg))

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusDone, stored.Status)
	assert.Equal(t, []string{"m1"}, *f.calls)
}

func TestRabbitExecuteParksBehindStuckDiscriminant(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)

	// An earlier update to the same case is stuck in FAILURE.
	f.seed(t, &broker.Message{ID: "stuck", Status: broker.StatusFailure, Discriminant: "case-42"})
	f.seed(t, &broker.Message{ID: "later", Status: broker.StatusFirstTry, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "later")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, msg), "parking is not an error for the delivery")

	stored, err := f.messages.Get(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSkipped, stored.Status)
	assert.Contains(t, stored.StatusComment, "case-42")
	assert.Empty(t, *f.calls, "a parked message must not reach the processor")
}

func TestRabbitExecuteRetryBlocksToo(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)
	f.seed(t, &broker.Message{ID: "retrying", Status: broker.StatusRetry, Discriminant: "case-42"})
	f.seed(t, &broker.Message{ID: "later", Status: broker.StatusFirstTry, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "later")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, msg))

	stored, err := f.messages.Get(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSkipped, stored.Status)
}

func TestRabbitExecuteOtherDiscriminantDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)
	f.seed(t, &broker.Message{ID: "stuck", Status: broker.StatusFailure, Discriminant: "case-1"})
	f.seed(t, &broker.Message{ID: "other", Status: broker.StatusFirstTry, Discriminant: "case-2"})

	msg, err := f.messages.Get(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, msg))

	stored, err := f.messages.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusDone, stored.Status)
}

func TestRabbitExecuteNoResponseParksInNeedWait(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.NoResponse(errors.New("remote down"))
	})
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusFirstTry, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	err = f.executor.Execute(ctx, msg)
	require.True(t, broker.IsNeedWait(err))

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusNeedWait, stored.Status)
	require.NotNil(t, stored.NextRun)
	require.NotNil(t, stored.Processed)
	assert.InDelta(t, broker.BaseDelay.Seconds(), stored.NextRun.Sub(*stored.Processed).Seconds(), 1)
}

func TestRabbitExecuteNeedWaitGate(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)

	future := time.Now().Add(time.Hour)
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusNeedWait, NextRun: &future, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	err = f.executor.Execute(ctx, msg)
	require.True(t, broker.IsNeedWait(err))
	assert.Empty(t, *f.calls)

	// Once the slot has passed the message runs.
	past := time.Now().Add(-time.Minute)
	msg.NextRun = &past
	require.NoError(t, f.messages.Update(ctx, msg))
	require.NoError(t, f.executor.Execute(ctx, msg))
	assert.Equal(t, []string{"m1"}, *f.calls)
}

func TestRabbitExecuteFailure(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.Failed(errors.New("schema mismatch"))
	})
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusFirstTry, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	err = f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFailure, stored.Status)

	// The failure now blocks the next message for the same case.
	f.seed(t, &broker.Message{ID: "m2", Status: broker.StatusFirstTry, Discriminant: "case-42"})
	next, err := f.messages.Get(ctx, "m2")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, next))
	parked, err := f.messages.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSkipped, parked.Status)
}

func TestRabbitExecuteTerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusDone, Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, f.executor.Execute(ctx, msg))
	assert.Empty(t, *f.calls)
}

func TestRabbitExecuteUnknownHandler(t *testing.T) {
	ctx := context.Background()
	f := newRabbitFixture(t, nil)
	f.seed(t, &broker.Message{ID: "m1", Status: broker.StatusFirstTry, Handler: "retired", Discriminant: "case-42"})

	msg, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	err = f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFailure, stored.Status)
}
