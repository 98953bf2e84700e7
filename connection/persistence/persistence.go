// Package persistence keeps the durable wallet connection record and the
// markers used to decide whether a previous session should be restored.
//
// Every operation is best effort: storage failures and malformed data are
// logged and treated as absent state, they are never returned to the caller.
package persistence

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/storage"
)

const (
	ConnectionStateKey = "wallet-connection-state-v1"
	LastDisconnectKey  = "wallet-last-disconnect-v1"
	NavigationStateKey = "wallet-navigation-state-v1"
	PreferencesKey     = "wallet-preferences-v1"

	// SchemaVersion is written into every ConnectionRecord. Records carrying
	// another version are discarded.
	SchemaVersion = "1.0"

	DefaultConnectionExpiry = 7 * 24 * time.Hour
	DefaultNavigationExpiry = 5 * time.Minute
)

// ConnectionRecord is the persisted description of the last successful
// wallet connection. It is either fully populated or absent.
type ConnectionRecord struct {
	Address     string `json:"address"`
	ConnectorID string `json:"connectorId"`
	ChainID     uint64 `json:"chainId"`
	Timestamp   int64  `json:"timestamp"`
	Version     string `json:"version"`
}

func (r *ConnectionRecord) complete() bool {
	return r.Address != "" && r.ConnectorID != "" && r.ChainID != 0 && r.Timestamp != 0 && r.Version != ""
}

// NavigationSnapshot records the wallet address seen before an in-app
// navigation so it can be verified afterwards.
type NavigationSnapshot struct {
	Address   string `json:"address"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
}

type Preferences struct {
	AutoReconnect      bool   `json:"autoReconnect"`
	PreferredConnector string `json:"preferredConnector,omitempty"`
	PreferredChainID   uint64 `json:"preferredChainId,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{AutoReconnect: true}
}

type Option func(*Persistence)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Persistence) {
		p.logger = logger
	}
}

// WithClock overrides the wall clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// WithExpiry overrides the connection record and navigation snapshot lifetimes.
// Non positive values keep the defaults.
func WithExpiry(connection, navigation time.Duration) Option {
	return func(p *Persistence) {
		if connection > 0 {
			p.connectionExpiry = connection
		}
		if navigation > 0 {
			p.navigationExpiry = navigation
		}
	}
}

// Persistence reads and writes the wallet connection keys. durable survives
// restarts, session only lives as long as the current process group.
type Persistence struct {
	durable storage.Store
	session storage.Store

	logger           *zap.Logger
	now              func() time.Time
	connectionExpiry time.Duration
	navigationExpiry time.Duration

	// serializes read-modify-write sequences
	mu sync.Mutex
}

func New(durable, session storage.Store, opts ...Option) *Persistence {
	p := &Persistence{
		durable:          durable,
		session:          session,
		now:              time.Now,
		connectionExpiry: DefaultConnectionExpiry,
		navigationExpiry: DefaultNavigationExpiry,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.session == nil {
		p.session = durable
	}
	p.logger = logutils.OrDefault(p.logger).Named("persistence")
	return p
}

// Keys lists the durable keys owned by persistence.
func (p *Persistence) Keys() []string {
	return []string{ConnectionStateKey, LastDisconnectKey, PreferencesKey}
}

func (p *Persistence) nowMs() int64 {
	return p.now().UnixMilli()
}

// SaveConnectionState writes a fresh record for the connection. The address
// format is not validated.
func (p *Persistence) SaveConnectionState(address, connectorID string, chainID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.saveRecord(&ConnectionRecord{
		Address:     address,
		ConnectorID: connectorID,
		ChainID:     chainID,
		Timestamp:   p.nowMs(),
		Version:     SchemaVersion,
	})
}

func (p *Persistence) saveRecord(record *ConnectionRecord) {
	if err := p.putJSON(p.durable, ConnectionStateKey, record); err != nil {
		p.logger.Warn("failed to save connection state", zap.String("address", record.Address), zap.Error(err))
	}
}

// GetConnectionState returns the stored record, or nil when it is missing,
// incomplete, from another schema version or expired. Invalid records are
// removed from storage.
func (p *Persistence) GetConnectionState() *ConnectionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadRecord()
}

func (p *Persistence) loadRecord() *ConnectionRecord {
	var record ConnectionRecord
	found, err := p.getJSON(p.durable, ConnectionStateKey, &record)
	if err != nil {
		p.logger.Warn("discarding unreadable connection state", zap.Error(err))
		p.clearRecord()
		return nil
	}
	if !found {
		return nil
	}

	var reason string
	switch {
	case !record.complete():
		reason = "incomplete"
	case record.Version != SchemaVersion:
		reason = "schema version mismatch"
	case p.nowMs()-record.Timestamp > p.connectionExpiry.Milliseconds():
		reason = "expired"
	}
	if reason != "" {
		p.logger.Info("discarding connection state", zap.String("reason", reason), zap.String("version", record.Version))
		p.clearRecord()
		return nil
	}
	return &record
}

// ShouldBeConnected reports whether a valid record exists and no explicit
// disconnect happened after it was written.
func (p *Persistence) ShouldBeConnected() bool {
	return p.ShouldBeConnectedOn(nil)
}

// ShouldBeConnectedOn is ShouldBeConnected restricted to chains accepted by
// supported. A nil supported accepts every chain.
func (p *Persistence) ShouldBeConnectedOn(supported func(chainID uint64) bool) bool {
	record := p.GetConnectionState()
	if record == nil {
		return false
	}
	if last, ok := p.GetLastDisconnect(); ok && last > record.Timestamp {
		return false
	}
	if supported != nil && !supported(record.ChainID) {
		p.logger.Info("persisted chain is not supported", zap.Uint64("chainID", record.ChainID))
		return false
	}
	return true
}

func (p *Persistence) ClearConnectionState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearRecord()
}

func (p *Persistence) clearRecord() {
	if err := p.durable.Delete(ConnectionStateKey); err != nil {
		p.logger.Warn("failed to clear connection state", zap.Error(err))
	}
}

// RecordDisconnection stores the disconnect marker and clears the record. It
// must be used for user initiated disconnects only.
func (p *Persistence) RecordDisconnection() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.putJSON(p.durable, LastDisconnectKey, p.nowMs()); err != nil {
		p.logger.Warn("failed to record disconnection", zap.Error(err))
	}
	p.clearRecord()
}

// GetLastDisconnect returns the epoch-ms of the last user disconnect.
func (p *Persistence) GetLastDisconnect() (int64, bool) {
	var ts int64
	found, err := p.getJSON(p.durable, LastDisconnectKey, &ts)
	if err != nil {
		p.logger.Warn("failed to read last disconnect", zap.Error(err))
		return 0, false
	}
	return ts, found
}

// RefreshConnectionTimestamp bumps the timestamp of a valid record and leaves
// every other field untouched.
func (p *Persistence) RefreshConnectionTimestamp() {
	p.mu.Lock()
	defer p.mu.Unlock()

	record := p.loadRecord()
	if record == nil {
		return
	}
	record.Timestamp = p.nowMs()
	p.saveRecord(record)
}

func (p *Persistence) SaveNavigationSnapshot(address, from, to string) {
	snapshot := NavigationSnapshot{
		Address:   address,
		From:      from,
		To:        to,
		Timestamp: p.nowMs(),
	}
	if err := p.putJSON(p.session, NavigationStateKey, snapshot); err != nil {
		p.logger.Warn("failed to save navigation snapshot", zap.Error(err))
	}
}

// GetNavigationSnapshot returns the snapshot, or nil when there is none or it
// is older than the navigation expiry.
func (p *Persistence) GetNavigationSnapshot() *NavigationSnapshot {
	var snapshot NavigationSnapshot
	found, err := p.getJSON(p.session, NavigationStateKey, &snapshot)
	if err != nil {
		p.logger.Warn("discarding unreadable navigation snapshot", zap.Error(err))
		p.clearNavigation()
		return nil
	}
	if !found {
		return nil
	}
	if p.nowMs()-snapshot.Timestamp > p.navigationExpiry.Milliseconds() {
		p.clearNavigation()
		return nil
	}
	return &snapshot
}

// VerifyNavigation consumes the snapshot and reports whether address is the
// one recorded before navigating. Without a snapshot there is nothing to
// contradict and the result is true.
func (p *Persistence) VerifyNavigation(address string) bool {
	snapshot := p.GetNavigationSnapshot()
	if snapshot == nil {
		return true
	}
	p.clearNavigation()
	if !strings.EqualFold(snapshot.Address, address) {
		p.logger.Warn("wallet address changed during navigation",
			zap.String("expected", snapshot.Address),
			zap.String("actual", address),
			zap.String("from", snapshot.From),
			zap.String("to", snapshot.To))
		return false
	}
	return true
}

func (p *Persistence) clearNavigation() {
	if err := p.session.Delete(NavigationStateKey); err != nil {
		p.logger.Warn("failed to clear navigation snapshot", zap.Error(err))
	}
}

func (p *Persistence) SavePreferences(prefs Preferences) {
	if err := p.putJSON(p.durable, PreferencesKey, prefs); err != nil {
		p.logger.Warn("failed to save preferences", zap.Error(err))
	}
}

// GetPreferences returns the stored preferences or the defaults.
func (p *Persistence) GetPreferences() Preferences {
	prefs := DefaultPreferences()
	if _, err := p.getJSON(p.durable, PreferencesKey, &prefs); err != nil {
		p.logger.Warn("failed to read preferences", zap.Error(err))
		return DefaultPreferences()
	}
	return prefs
}

func (p *Persistence) putJSON(store storage.Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Put(key, data)
}

func (p *Persistence) getJSON(store storage.Store, key string, value any) (bool, error) {
	data, err := store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}
