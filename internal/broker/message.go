package broker

import (
	"context"
	"time"
)

// Message is one queued unit of work. Both pipelines share the record
// shape: the polling pipeline leaves Discriminant empty and gates retries
// with NextRun while staying READY; the AMQP pipeline stamps a discriminant
// and moves through FIRST_TRY / RETRY / NEED_WAIT.
type Message struct {
	ID            string         `bson:"_id" json:"id"`
	Queue         string         `bson:"queue" json:"queue"`
	Created       time.Time      `bson:"created" json:"created"`
	Processed     *time.Time     `bson:"processed,omitempty" json:"processed,omitempty"`
	Status        Status         `bson:"status" json:"status"`
	StatusComment string         `bson:"status_comment" json:"status_comment"`
	Context       map[string]any `bson:"context" json:"context"`
	Origin        string         `bson:"origin" json:"origin"`
	Handler       string         `bson:"handler" json:"handler"`
	Discriminant  string         `bson:"discriminant,omitempty" json:"discriminant,omitempty"`
	NextRun       *time.Time     `bson:"next_run,omitempty" json:"next_run,omitempty"`
}

// MessageStore persists message records. Implementations live in package
// store.
type MessageStore interface {
	// Insert creates a record. Returns ErrConflict on a duplicate id.
	Insert(ctx context.Context, msg *Message) error
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Message, error)
	// Update rewrites the record identified by msg.ID.
	Update(ctx context.Context, msg *Message) error
	// FetchBatch returns up to limit non-terminal messages for a queue,
	// oldest first. FIFO order per queue is part of the worker contract.
	FetchBatch(ctx context.Context, queue string, limit int) ([]*Message, error)
	// CountByStatus tallies a queue's messages per status. An empty queue
	// name tallies across all queues.
	CountByStatus(ctx context.Context, queue string) (map[Status]int64, error)
	// HasBlocking reports whether any message other than excludeID shares
	// the discriminant and sits in a blocking status (RETRY or FAILURE).
	HasBlocking(ctx context.Context, discriminant, excludeID string) (bool, error)
	// PurgeQueue logically deletes every message of a queue by flipping its
	// status to DELETED, and returns how many records were touched.
	PurgeQueue(ctx context.Context, queue string) (int64, error)
}
