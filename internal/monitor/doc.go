// Package monitor provides the operational surface of the relay broker: an
// HTTP server exposing per-queue health reports and Prometheus metrics, and
// a console watcher that flags queues whose message flow has stalled.
package monitor
