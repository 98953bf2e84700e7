package connection

import (
	"maps"
)

// Source tells who triggered a state change.
type Source string

const (
	SourceUser   Source = "user"
	SourceAuto   Source = "auto"
	SourceSystem Source = "system"
)

type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventConnecting     EventType = "connecting"
	EventError          EventType = "error"
	EventReconnecting   EventType = "reconnecting"
	EventHealthCheck    EventType = "health-check"
	EventMetricsUpdated EventType = "metrics-updated"
	// EventWallet is the catch-all type. Its listeners receive every
	// lifecycle and health event carrying the original type.
	EventWallet EventType = "wallet-event"
)

// WalletState is the in-memory connection state. Empty strings and zero
// numbers stand for "unknown". IsConnected implies Address, ChainID and
// ConnectorID are set; IsConnecting implies !IsConnected.
type WalletState struct {
	IsConnected        bool   `json:"isConnected"`
	Address            string `json:"address,omitempty"`
	ChainID            uint64 `json:"chainId,omitempty"`
	ConnectorID        string `json:"connectorId,omitempty"`
	IsConnecting       bool   `json:"isConnecting"`
	Error              string `json:"error,omitempty"`
	LastConnected      int64  `json:"lastConnected,omitempty"`
	ConnectionAttempts int    `json:"connectionAttempts"`
	IsHealthy          bool   `json:"isHealthy"`
}

func initialState() WalletState {
	return WalletState{IsHealthy: true}
}

// valid reports whether s respects the WalletState invariants.
func (s WalletState) valid() bool {
	if s.IsConnected && (s.Address == "" || s.ChainID == 0 || s.ConnectorID == "") {
		return false
	}
	return !(s.IsConnecting && s.IsConnected)
}

// WalletMetrics accumulates until ResetMetrics. Times are epoch-ms,
// AverageConnectionTime is in ms.
type WalletMetrics struct {
	TotalConnections       int     `json:"totalConnections"`
	TotalDisconnections    int     `json:"totalDisconnections"`
	AutoReconnectAttempts  int     `json:"autoReconnectAttempts"`
	AutoReconnectSuccesses int     `json:"autoReconnectSuccesses"`
	ErrorCount             int     `json:"errorCount"`
	AverageConnectionTime  float64 `json:"averageConnectionTime"`
	StartTime              int64   `json:"startTime"`

	timedConnections int
}

// WalletEvent is handed to listeners by value. Metadata is cloned for every
// listener.
type WalletEvent struct {
	Type      EventType      `json:"type"`
	State     WalletState    `json:"state"`
	Timestamp int64          `json:"timestamp"`
	Source    Source         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (e WalletEvent) clone() WalletEvent {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// HealthReport is the outcome of one health check, also sent as the
// metadata of the health-check event.
type HealthReport struct {
	IsStale           bool `json:"isStale"`
	ShouldBeConnected bool `json:"shouldBeConnected"`
	Mismatch          bool `json:"mismatch"`
	IsHealthy         bool `json:"isHealthy"`
}

func (r HealthReport) metadata() map[string]any {
	return map[string]any{
		"isStale":           r.IsStale,
		"shouldBeConnected": r.ShouldBeConnected,
		"mismatch":          r.Mismatch,
		"isHealthy":         r.IsHealthy,
	}
}
