// Package liveness provides a polled interval tracker.
//
// A Timer answers one question: has at least an interval elapsed since the
// last mark? It is polled from the agent's tick loop rather than driven by
// timers, so detection granularity is bounded by how often the tick runs.
// The same Timer type backs the periodic status heartbeat and the
// controller-silence check.
//
// Timers read time through a Clock so tests can drive them with a
// ManualClock instead of sleeping.
package liveness
