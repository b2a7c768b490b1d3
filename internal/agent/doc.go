// Package agent runs the device side of the devicelink protocol.
//
// An Agent owns one Arbiter and one heartbeat Emitter and drives both from
// a single goroutine:
//
//	paho callbacks ──OnMessage──▶ inbox (buffered) ──▶ loop ──▶ Arbiter / action handlers
//	                                                   ▲
//	                              ticker ──────────────┘ ──▶ Arbiter.Tick, Emitter.Tick
//
// Transport callbacks never block: when the inbox is full the message is
// dropped and counted. Everything that touches the lease runs on the loop
// goroutine, so the arbitration core needs no locks.
//
// Actions arrive on action/<name> as "<senderID>:<content>". They are
// passed to the registered ActionHandler only when the sender holds the
// lease; an authorized action also refreshes the lease.
//
// # Lifecycle
//
//	a, err := agent.New(agent.Options{Identity: id, Transport: t, Logger: log})
//	a.HandleFunc("forward", func(ctx context.Context, act agent.Action) error { ... })
//	if err := a.Start(ctx); err != nil { ... }
//	defer a.Stop()
//
// Start publishes the capability document and an online status, then
// subscribes. Stop releases an active lease with reason "shutdown" and
// publishes {"online":false,"locked":false} before returning.
package agent
