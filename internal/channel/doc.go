// Package channel makes the local (BLE) and relay (Yggio) links
// interchangeable for callers.
//
// A Coordinator owns the active channel, the per-connection Session and the
// init sequence, routes outgoing commands through the security signer and
// fans classified answers out to listeners.
//
// # Concurrency
//
// All session state is mutated on one event-loop goroutine started by Run.
// Transport callbacks arrive on arbitrary goroutines and are posted into the
// loop. Outgoing commands pass through a single FIFO outbox goroutine that
// signs and then writes or queues them, so commands keep their order per
// transport. Listener callbacks run on a separate notifier goroutine and may
// call back into the Coordinator.
//
// Every connect, disconnect, selection and channel switch starts a new
// generation. Delayed init steps and secure-check results carry the
// generation they were issued under and are dropped when it has moved on.
package channel
