// Package broker implements the durable message-queue core of relay: the
// queue manifest state machine that serialises each logical queue to a single
// worker, the polling message pipeline with doubling backoff, the worker pool
// that ticks queues cooperatively, and the event-handler registry and
// dispatcher that route domain events to either the polling store or the
// AMQP transport.
//
// Persistence goes through the ManifestStore and MessageStore contracts.
// Every manifest transition is a conditional write on the expected current
// status, which is the only mutual-exclusion mechanism between processes; a
// losing writer receives ErrConflict instead of silently overwriting.
package broker
