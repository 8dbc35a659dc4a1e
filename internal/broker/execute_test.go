package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/store"
)

type executorFixture struct {
	registry   *broker.Registry
	processors *broker.ProcessorRegistry
	messages   *store.MemoryMessages
	executor   *broker.Executor
}

func newExecutorFixture(t *testing.T, item *broker.HandlerItem, proc broker.ProcessorFunc) *executorFixture {
	t.Helper()
	registry := broker.NewRegistry()
	require.NoError(t, registry.Append(item))
	processors := broker.NewProcessorRegistry()
	if proc != nil {
		require.NoError(t, processors.Register(item.Processor, proc))
	}
	messages := store.NewMemoryMessages()
	return &executorFixture{
		registry:   registry,
		processors: processors,
		messages:   messages,
		executor:   broker.NewExecutor(registry, processors, messages, nil, nil),
	}
}

func testItem() *broker.HandlerItem {
	return &broker.HandlerItem{
		Label:     "sync-invoices",
		Origin:    "billing",
		Queue:     "invoices",
		Processor: "push",
		Event:     "invoice.updated",
	}
}

func seedMessage(t *testing.T, messages *store.MemoryMessages, msg *broker.Message) {
	t.Helper()
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	require.NoError(t, messages.Insert(context.Background(), msg))
}

func TestExecuteDone(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.Done("pushed")
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	require.NoError(t, f.executor.Execute(ctx, msg))

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusDone, stored.Status)
	assert.Equal(t, "pushed", stored.StatusComment)
	assert.Nil(t, stored.NextRun)
	require.NotNil(t, stored.Processed)
}

func TestExecuteTerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	called := false
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		called = true
		return broker.Done("pushed")
	})
	for _, status := range broker.TerminalStatuses() {
		msg := &broker.Message{ID: "m-" + string(status), Queue: "invoices", Status: status, Handler: "sync-invoices"}
		seedMessage(t, f.messages, msg)
		require.NoError(t, f.executor.Execute(ctx, msg))
		stored, err := f.messages.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, status, stored.Status)
	}
	assert.False(t, called, "settled messages must not reach the processor")
}

func TestExecuteFailedMessageStaysFailed(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		t.Fatal("processor must not run for FAILURE messages")
		return broker.Done("")
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusFailure, StatusComment: "boom", Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	err := f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "m1", perr.MessageID)
	assert.Equal(t, "boom", perr.Comment)
}

func TestExecuteNeedWaitBeforeNextRun(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		t.Fatal("processor must not run before next_run")
		return broker.Done("")
	})
	future := time.Now().Add(time.Hour)
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices", NextRun: &future}
	seedMessage(t, f.messages, msg)

	err := f.executor.Execute(ctx, msg)
	require.True(t, broker.IsNeedWait(err))
	var wait *broker.NeedWait
	require.ErrorAs(t, err, &wait)
	assert.Equal(t, future.Unix(), wait.Until.Unix())
}

func TestExecuteNoResponseBackoff(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.NoResponse(errors.New("connection refused"))
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	// First transient failure schedules the base delay and keeps READY.
	err := f.executor.Execute(ctx, msg)
	require.True(t, broker.IsNeedWait(err))

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusReady, stored.Status)
	require.NotNil(t, stored.NextRun)
	require.NotNil(t, stored.Processed)
	assert.InDelta(t, broker.BaseDelay.Seconds(), stored.NextRun.Sub(*stored.Processed).Seconds(), 1)

	// Pretend the slot elapsed and fail again: the interval doubles.
	past := time.Now().Add(-time.Second)
	processed := past.Add(-broker.BaseDelay)
	stored.NextRun = &past
	stored.Processed = &processed
	require.NoError(t, f.messages.Update(ctx, stored))

	err = f.executor.Execute(ctx, stored)
	require.True(t, broker.IsNeedWait(err))
	again, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, (2 * broker.BaseDelay).Seconds(), again.NextRun.Sub(*again.Processed).Seconds(), 1)
}

func TestExecuteSkip(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.Skip("nothing to sync")
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	require.NoError(t, f.executor.Execute(ctx, msg))
	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusSkipped, stored.Status)
	assert.Equal(t, "nothing to sync", stored.StatusComment)
}

func TestExecuteFailedOutcome(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.Failed(errors.New("schema mismatch"))
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	err := f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFailure, stored.Status)
}

func TestExecuteOnErrorCallback(t *testing.T) {
	ctx := context.Background()
	item := testItem()
	item.OnError = func(msg *broker.Message, out broker.Outcome) broker.Status {
		// Policy: bad payloads are cancelled instead of blocking the queue.
		if out.Kind == broker.OutcomeBadResponse {
			return broker.StatusCancelled
		}
		return ""
	}
	f := newExecutorFixture(t, item, func(ctx context.Context, item *broker.HandlerItem, msg *broker.Message) broker.Outcome {
		return broker.BadResponse(errors.New("422"), map[string]any{"field": "amount"})
	})
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	require.NoError(t, f.executor.Execute(ctx, msg), "a policy-decided non-failure settles cleanly")
	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, stored.Status)
}

func TestExecuteUnknownHandler(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), nil)
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "retired-handler"}
	seedMessage(t, f.messages, msg)

	err := f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFailure, stored.Status)
	assert.Contains(t, stored.StatusComment, "retired-handler")
}

func TestExecuteUnknownProcessor(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, testItem(), nil) // item names "push" but nothing registers it
	msg := &broker.Message{ID: "m1", Queue: "invoices", Status: broker.StatusReady, Handler: "sync-invoices"}
	seedMessage(t, f.messages, msg)

	err := f.executor.Execute(ctx, msg)
	var perr *broker.ProcessingError
	require.ErrorAs(t, err, &perr)

	stored, err := f.messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFailure, stored.Status)
	assert.Contains(t, stored.StatusComment, "push")
}
