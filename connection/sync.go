package connection

import (
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection/crosstab"
)

func (m *Manager) handleNotification(n crosstab.Notification) {
	switch {
	case n.Message != nil:
		m.applyRemote(n.Message)
	case n.ChangedKey != "":
		if slices.Contains(m.persistence.Keys(), n.ChangedKey) {
			m.ReloadFromPersistence()
		}
	}
}

// applyRemote applies a broadcast state if it is strictly newer than the
// local lastConnected. Older and own messages are dropped, so messages
// arriving in any order converge on the newest one. A connection attempt
// belongs to the instance running it: the remote connecting flag and
// attempt counter are never adopted, the local ones are kept unless the
// remote state is connected.
func (m *Manager) applyRemote(msg *crosstab.Message) {
	if msg.Type != crosstab.MessageTypeStateUpdate || msg.Origin == m.origin {
		return
	}

	var incoming WalletState
	if err := json.Unmarshal(msg.State, &incoming); err != nil {
		m.logger.Warn("dropping malformed state update", zap.String("from", msg.Origin), zap.Error(err))
		return
	}
	if !incoming.valid() {
		m.logger.Warn("dropping inconsistent state update", zap.String("from", msg.Origin))
		return
	}

	m.mu.Lock()
	if msg.Timestamp <= m.state.LastConnected {
		m.mu.Unlock()
		m.logger.Debug("ignoring stale state update",
			zap.String("from", msg.Origin),
			zap.Int64("timestamp", msg.Timestamp))
		return
	}
	incoming.LastConnected = msg.Timestamp
	incoming.IsConnecting = m.state.IsConnecting && !incoming.IsConnected
	incoming.ConnectionAttempts = m.state.ConnectionAttempts
	if incoming.IsConnected {
		incoming.ConnectionAttempts = 0
	}
	if !incoming.IsConnecting {
		m.connectingSince = 0
	}
	m.state = incoming
	if incoming.IsConnected {
		m.lastRefreshed = m.nowMs()
	}
	m.mu.Unlock()

	typ := EventDisconnected
	switch {
	case incoming.IsConnected:
		typ = EventConnected
	case incoming.IsConnecting:
		typ = EventConnecting
	}
	m.emitter.emit(WalletEvent{
		Type:      typ,
		State:     incoming,
		Timestamp: m.nowMs(),
		Source:    SourceSystem,
		Metadata:  map[string]any{"origin": msg.Origin},
	})
}

// ReloadFromPersistence derives the state from storage after another
// process changed it. Storage is only read. Nothing happens when the
// derived state matches the current one, which keeps the manager's own
// writes from echoing back as events.
func (m *Manager) ReloadFromPersistence() {
	record := m.persistence.GetConnectionState()
	shouldBeConnected := record != nil && m.persistence.ShouldBeConnected()

	m.mu.Lock()
	current := m.state
	var next WalletState
	switch {
	case shouldBeConnected:
		if current.IsConnected && current.Address == record.Address &&
			current.ChainID == record.ChainID && current.ConnectorID == record.ConnectorID {
			m.mu.Unlock()
			return
		}
		next = WalletState{
			IsConnected:   true,
			Address:       record.Address,
			ChainID:       record.ChainID,
			ConnectorID:   record.ConnectorID,
			LastConnected: record.Timestamp,
			IsHealthy:     true,
		}
		m.lastRefreshed = m.nowMs()
	case current.IsConnected:
		next = WalletState{
			LastConnected: current.LastConnected,
			IsHealthy:     current.IsHealthy,
		}
	default:
		m.mu.Unlock()
		return
	}
	m.state = next
	m.connectingSince = 0
	m.mu.Unlock()

	typ := EventDisconnected
	if next.IsConnected {
		typ = EventConnected
	}
	m.logger.Info("wallet state reloaded from storage", zap.Bool("connected", next.IsConnected))
	m.emitter.emit(WalletEvent{
		Type:      typ,
		State:     next,
		Timestamp: m.nowMs(),
		Source:    SourceSystem,
		Metadata:  map[string]any{"reload": true},
	})
}
