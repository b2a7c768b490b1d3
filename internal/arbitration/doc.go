// Package arbitration grants exclusive control of a device to one remote
// controller at a time.
//
// The Arbiter is a two-state machine. In Idle no controller holds the
// lease; a non-empty message on control/claim moves it to Active, records
// the claimant and acknowledges with "true" on control/acknowledge. While
// Active further claims are ignored: the first claimant wins and nobody
// can preempt it. The holder keeps the lease alive by sending pings whose
// payload is its ID, or actions whose envelope sender is its ID. Once the
// holder has been silent for the lease timeout the next Tick releases the
// lease.
//
// Every release publishes retained empty payloads on control/claim and
// control/acknowledge so that late subscribers see an unclaimed device.
// Release is idempotent.
//
// # Concurrency
//
// An Arbiter is owned by a single goroutine (the agent loop) and performs
// no locking. Its only side effects are publishes through the Publisher
// and the optional OnEvent callback.
//
// # Malformed input
//
// Payloads with an empty sender or on unrelated topics are ignored and
// reported as "not handled". Nothing here returns an error to the caller.
package arbitration
