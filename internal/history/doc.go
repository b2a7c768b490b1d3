// Package history keeps a local log of controller lease grants and
// releases in the lease_events SQLite table.
//
// The agent loop must never wait on disk, so lease events are handed to a
// Recorder, which queues them and writes them from its own goroutine. When
// the queue is full events are dropped and counted.
package history
