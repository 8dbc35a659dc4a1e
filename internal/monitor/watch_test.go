package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/monitor"
	"github.com/civicase/relay/internal/store"
)

func TestWatcherDetectsStall(t *testing.T) {
	ctx := context.Background()
	manifests := store.NewMemoryManifests()
	messages := store.NewMemoryMessages()
	seedManifest(t, manifests, "q", broker.ManifestRunning, time.Second)
	require.NoError(t, messages.Insert(ctx, &broker.Message{
		ID: "pending", Queue: "q", Created: time.Now(), Status: broker.StatusReady,
	}))

	watcher := monitor.NewWatcher(manifests, messages, time.Minute, nil)

	// First scan only establishes the baseline.
	stalls, err := watcher.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalls)

	// Nothing settled since: stalled.
	stalls, err = watcher.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, stalls, 1)
	assert.Equal(t, "q", stalls[0].Queue)
	assert.Equal(t, int64(1), stalls[0].Pending)

	// Progress clears the alert.
	msg, err := messages.Get(ctx, "pending")
	require.NoError(t, err)
	msg.Status = broker.StatusDone
	require.NoError(t, messages.Update(ctx, msg))

	stalls, err = watcher.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalls)
}

func TestWatcherIgnoresIdleAndStoppedQueues(t *testing.T) {
	ctx := context.Background()
	manifests := store.NewMemoryManifests()
	messages := store.NewMemoryMessages()

	// Running but empty: sitting still is fine.
	seedManifest(t, manifests, "idle", broker.ManifestRunning, time.Second)
	// Stopped with pending work: expected, an operator stopped it.
	seedManifest(t, manifests, "stopped", broker.ManifestStopped, time.Second)
	require.NoError(t, messages.Insert(ctx, &broker.Message{
		ID: "pending", Queue: "stopped", Created: time.Now(), Status: broker.StatusReady,
	}))

	watcher := monitor.NewWatcher(manifests, messages, time.Minute, nil)
	_, err := watcher.Scan(ctx)
	require.NoError(t, err)

	stalls, err := watcher.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalls)
}

func TestWatcherForgetsDroppedQueues(t *testing.T) {
	ctx := context.Background()
	manifests := store.NewMemoryManifests()
	messages := store.NewMemoryMessages()
	seedManifest(t, manifests, "q", broker.ManifestRunning, time.Second)

	watcher := monitor.NewWatcher(manifests, messages, time.Minute, nil)
	_, err := watcher.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, manifests.Delete(ctx, "q"))
	stalls, err := watcher.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalls)

	// A re-created queue starts from a fresh baseline, so its first scan
	// after recreation reports nothing even with pending work.
	seedManifest(t, manifests, "q", broker.ManifestRunning, time.Second)
	require.NoError(t, messages.Insert(ctx, &broker.Message{
		ID: "pending", Queue: "q", Created: time.Now(), Status: broker.StatusReady,
	}))
	stalls, err = watcher.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stalls)
}
