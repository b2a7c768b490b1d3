package agent

import (
	"context"

	"github.com/nerrad567/devicelink/internal/envelope"
)

// Action is an authorized action message.
type Action struct {
	// Name is the topic level after action/.
	Name string

	// Sender is the controller ID from the envelope. It always equals the
	// lease holder.
	Sender string

	// Content is the envelope content; empty when the payload had no separator.
	Content string

	Envelope envelope.Envelope
}

// ActionHandler executes an action.
//
// Handlers run on the agent loop goroutine and must return quickly; long
// work belongs on a goroutine of the handler's own.
type ActionHandler interface {
	HandleAction(ctx context.Context, act Action) error
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, act Action) error

// HandleAction calls f.
func (f ActionHandlerFunc) HandleAction(ctx context.Context, act Action) error {
	return f(ctx, act)
}
