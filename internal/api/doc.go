// Package api implements the local HTTP status API and WebSocket event
// stream for a devicelink agent.
//
// This package provides:
//   - GET  /api/v1/health          infrastructure health checks
//   - GET  /api/v1/device          identity, topic prefix and capabilities
//   - GET  /api/v1/lease           current controller lease
//   - POST /api/v1/lease/release   end the current lease (operator override)
//   - GET  /api/v1/lease/history   persisted grants and releases
//   - GET  /api/v1/metrics         runtime and agent counters
//   - GET  /api/v1/ws              WebSocket stream of lease and status events
//
// # Architecture
//
// The API is a side channel for operators and local tooling. Controllers
// still claim and drive the device over MQTT; nothing here grants a lease.
// Lease and heartbeat events reach WebSocket clients through a Hub that the
// agent callbacks feed.
//
// # Security
//
// There is no authentication. Bind the server to loopback or a trusted
// network only.
package api
