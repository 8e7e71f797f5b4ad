package events

import "context"

// Sink is what the room components need from the event bus. Publisher is
// the production implementation; tests record events in-process.
type Sink interface {
	Publish(ctx context.Context, roomID string, typ Type, payload any) error
}
