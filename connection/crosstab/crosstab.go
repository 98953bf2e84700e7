// Package crosstab carries wallet state updates between manager instances
// that share the same durable state, e.g. several processes or several
// managers inside one process.
package crosstab

import (
	"context"
	"encoding/json"
)

// MessageTypeStateUpdate is the only message type exchanged on a channel.
const MessageTypeStateUpdate = "wallet-state-update"

// Message is a state broadcast. State is an opaque JSON snapshot owned by the sender.
type Message struct {
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	State     json.RawMessage `json:"state"`
	Timestamp int64           `json:"timestamp"`
}

// Notification is delivered to subscribers. Exactly one of Message and
// ChangedKey is set: broadcast backends deliver messages, the storage
// backend reports the storage key that changed.
type Notification struct {
	Message    *Message
	ChangedKey string
}

// Channel is an external change notification port.
type Channel interface {
	// Publish broadcasts msg to every other subscriber of the channel.
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers fn and returns a function removing it. fn is
	// called from a goroutine owned by the channel.
	Subscribe(fn func(Notification)) (unsubscribe func())
	Close() error
}
