package broker

import (
	"context"
	"time"
)

// Manifest is the authoritative lock and status record for one logical
// queue. It is created once by the administrative create operation and only
// mutated through Controller transitions.
type Manifest struct {
	Name            string         `bson:"_id" json:"name"`
	Status          ManifestStatus `bson:"status" json:"status"`
	ConnectedWorker string         `bson:"connected_worker" json:"connected_worker"`
	Heartbeat       time.Time      `bson:"heartbeat" json:"heartbeat"`
	Comment         string         `bson:"comment" json:"comment"`
	// Timer is the advisory poll interval in seconds consumed by the worker
	// pool. Zero means "use the configured default".
	Timer int `bson:"timer" json:"timer"`
}

// HeartbeatAge returns how long ago the owning worker last reported in.
// External monitors compare this against thresholds to detect crashed
// workers whose manifests were left RUNNING.
func (m *Manifest) HeartbeatAge(now time.Time) time.Duration {
	if m.Heartbeat.IsZero() {
		return 0
	}
	return now.Sub(m.Heartbeat)
}

// ManifestStore persists queue manifests. Implementations live in package
// store (MongoDB for production, in-memory for tests).
type ManifestStore interface {
	// Insert creates a manifest. Returns ErrConflict if the queue exists.
	Insert(ctx context.Context, m *Manifest) error
	// Get returns the manifest for a queue, or ErrNotFound.
	Get(ctx context.Context, queue string) (*Manifest, error)
	// List returns every manifest sorted by queue name.
	List(ctx context.Context) ([]*Manifest, error)
	// Swap writes m only if the stored status still equals expect. A
	// concurrent transition that already moved the manifest away from
	// expect yields ErrConflict and leaves the record untouched.
	Swap(ctx context.Context, expect ManifestStatus, m *Manifest) error
	// Update writes m unconditionally (heartbeat and comment refreshes).
	Update(ctx context.Context, m *Manifest) error
	// Delete removes the manifest. Part of the administrative drop.
	Delete(ctx context.Context, queue string) error
}
