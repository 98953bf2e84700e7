package signal

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
)

// Envelope is a general signal sent upward from node to an embedding application
type Envelope struct {
	Type  string      `json:"type"`
	Event interface{} `json:"event"`
}

// NewEnvelope creates new envelope of given type and event payload.
func NewEnvelope(typ string, event interface{}) *Envelope {
	return &Envelope{
		Type:  typ,
		Event: event,
	}
}

// NodeNotificationHandler defines a handler able to process incoming node events.
// Events are encoded as JSON strings.
type NodeNotificationHandler func(jsonEvent string)

var (
	notificationHandler NodeNotificationHandler = TriggerDefaultNodeNotificationHandler
	notificationMu      sync.RWMutex
)

// send marshals the event and hands it to the notification handler.
func send(typ string, event interface{}) {
	data, err := json.Marshal(NewEnvelope(typ, event))
	if err != nil {
		logutils.ZapLogger().Error("marshalling signal envelope", zap.String("type", typ), zap.Error(err))
		return
	}

	notificationMu.RLock()
	handler := notificationHandler
	notificationMu.RUnlock()
	handler(string(data))
}

// SetDefaultNodeNotificationHandler sets notification handler to invoke on Send
func SetDefaultNodeNotificationHandler(fn NodeNotificationHandler) {
	notificationMu.Lock()
	defer notificationMu.Unlock()
	notificationHandler = fn
}

// ResetDefaultNodeNotificationHandler sets notification handler to default one
func ResetDefaultNodeNotificationHandler() {
	SetDefaultNodeNotificationHandler(TriggerDefaultNodeNotificationHandler)
}

// TriggerDefaultNodeNotificationHandler logs the event (helpful in tests)
func TriggerDefaultNodeNotificationHandler(jsonEvent string) {
	logutils.ZapLogger().Debug("notification received", zap.String("event", jsonEvent))
}
