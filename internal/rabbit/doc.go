// Package rabbit implements the AMQP transport of relay: a single shared
// connection per process, a producer that declares the exchange/queue
// topology and publishes on transient channels, a worker channel that
// consumes deliveries synchronously, and the discriminant-ordered message
// pipeline.
//
// Channels are not pooled: each publish opens and closes its own channel,
// and each consume loop owns exactly one. Only the connection is shared.
package rabbit
