package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection/crosstab"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/params"
)

const broadcastTimeout = 5 * time.Second

// ErrIncompleteConnection is recorded when a connection is reported without
// an address, chain id or connector id.
var ErrIncompleteConnection = errors.New("incomplete wallet connection")

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithOrigin sets the id stamped on broadcasts. Messages carrying the
// manager's own origin are ignored. Defaults to a random uuid.
func WithOrigin(origin string) Option {
	return func(m *Manager) {
		m.origin = origin
	}
}

// Manager owns the wallet connection state of the process. It persists
// connections, emits lifecycle events, runs the periodic health check and
// keeps instances sharing the same storage in sync through crosstab channels.
type Manager struct {
	persistence *persistence.Persistence
	channels    []crosstab.Channel
	cfg         params.ConnectionConfig
	// supportedChains is nil when every chain is allowed
	supportedChains mapset.Set

	logger  *zap.Logger
	now     func() time.Time
	origin  string
	emitter *emitter

	mu              sync.RWMutex
	state           WalletState
	metrics         WalletMetrics
	connectingSince int64
	lastRefreshed   int64

	unsubscribes []func()
	quit         chan struct{}
	wg           sync.WaitGroup
	initOnce     sync.Once
	disposeOnce  sync.Once
}

func NewManager(p *persistence.Persistence, channels []crosstab.Channel, cfg params.ConnectionConfig, opts ...Option) *Manager {
	m := &Manager{
		persistence: p,
		channels:    channels,
		cfg:         cfg,
		now:         time.Now,
		state:       initialState(),
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.origin == "" {
		m.origin = uuid.NewString()
	}
	if len(cfg.SupportedChainIDs) > 0 {
		m.supportedChains = mapset.NewSet()
		for _, id := range cfg.SupportedChainIDs {
			m.supportedChains.Add(id)
		}
	}
	m.logger = logutils.OrDefault(m.logger).Named("wallet-state").With(zap.String("origin", m.origin))
	m.emitter = newEmitter(m.logger)
	m.metrics.StartTime = m.nowMs()
	return m
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}

// Init subscribes to the channels, starts the health loop and runs a first
// health check, which reports a mismatch when a previous session should be
// restored. Calling Init more than once has no effect.
func (m *Manager) Init(ctx context.Context) {
	m.initOnce.Do(func() {
		for _, ch := range m.channels {
			m.unsubscribes = append(m.unsubscribes, ch.Subscribe(m.handleNotification))
		}

		interval := m.cfg.HealthCheckInterval.Duration
		if interval <= 0 {
			interval = params.DefaultConnectionConfig().HealthCheckInterval.Duration
		}
		m.wg.Add(1)
		go m.healthLoop(ctx, interval)

		m.safeCheckHealth()
		m.logger.Info("wallet state manager started", zap.Int("channels", len(m.channels)), zap.Duration("healthCheckInterval", interval))
	})
}

// Dispose stops the health loop and closes the channels. It is idempotent.
func (m *Manager) Dispose() {
	m.disposeOnce.Do(func() {
		close(m.quit)
		m.wg.Wait()
		for _, unsubscribe := range m.unsubscribes {
			unsubscribe()
		}
		for _, ch := range m.channels {
			if err := ch.Close(); err != nil {
				m.logger.Warn("failed to close channel", zap.Error(err))
			}
		}
		m.logger.Info("wallet state manager stopped")
	})
}

// On registers fn for events of type typ and returns a function removing it.
func (m *Manager) On(typ EventType, fn func(WalletEvent)) (unsubscribe func()) {
	return m.emitter.on(typ, fn)
}

// SubscribeEvents delivers every wallet-event to ch. The channel must be
// drained, sends block the emitting update.
func (m *Manager) SubscribeEvents(ch chan<- WalletEvent) event.Subscription {
	return m.emitter.subscribe(ch)
}

func (m *Manager) State() WalletState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Metrics() WalletMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Manager) Origin() string {
	return m.origin
}

// ResetMetrics zeroes the counters and restarts the metrics clock.
func (m *Manager) ResetMetrics() {
	m.mu.Lock()
	m.metrics = WalletMetrics{StartTime: m.nowMs()}
	snapshot := m.metrics
	state := m.state
	m.mu.Unlock()

	m.emitMetrics(state, snapshot, SourceUser)
}

// UpdateConnection marks the wallet connected and persists the connection.
// A connection missing its address, chain id or connector id is recorded as
// ErrIncompleteConnection instead and nothing is persisted.
func (m *Manager) UpdateConnection(address string, chainID uint64, connectorID string, source Source) {
	if address == "" || chainID == 0 || connectorID == "" {
		m.UpdateError(ErrIncompleteConnection, source)
		return
	}
	now := m.nowMs()

	m.mu.Lock()
	next := m.state
	next.IsConnected = true
	next.Address = address
	next.ChainID = chainID
	next.ConnectorID = connectorID
	next.IsConnecting = false
	next.Error = ""
	next.LastConnected = now
	next.ConnectionAttempts = 0
	next.IsHealthy = true

	var connectTime int64
	if m.connectingSince > 0 {
		connectTime = now - m.connectingSince
	}
	m.connectingSince = 0
	m.lastRefreshed = now

	m.metrics.TotalConnections++
	if connectTime > 0 {
		m.metrics.timedConnections++
		n := float64(m.metrics.timedConnections)
		m.metrics.AverageConnectionTime += (float64(connectTime) - m.metrics.AverageConnectionTime) / n
	}
	if source == SourceAuto {
		m.metrics.AutoReconnectSuccesses++
	}
	m.state = next
	snapshot := m.metrics
	m.mu.Unlock()

	m.persistence.SaveConnectionState(address, connectorID, chainID)
	metrics.WalletConnected(string(source), float64(connectTime)/1000)

	m.logger.Info("wallet connected",
		zap.String("address", address),
		zap.Uint64("chainID", chainID),
		zap.String("connector", connectorID),
		zap.String("source", string(source)))
	m.publish(EventConnected, next, snapshot, source, nil)
}

// UpdateConnecting toggles the connecting flag. A connection attempt always
// ends with UpdateConnection, UpdateDisconnection or UpdateError, each of
// which clears the flag.
func (m *Manager) UpdateConnecting(connecting bool, source Source) {
	m.mu.Lock()
	next := m.state
	next.IsConnecting = connecting
	if connecting {
		next.IsConnected = false
		next.Error = ""
		next.ConnectionAttempts++
		m.connectingSince = m.nowMs()
	} else {
		m.connectingSince = 0
	}
	m.state = next
	snapshot := m.metrics
	m.mu.Unlock()

	m.publish(EventConnecting, next, snapshot, source, map[string]any{"isConnecting": connecting})
}

// UpdateDisconnection clears the in-memory state. Only a user disconnect
// clears the persisted connection, automatic and system disconnects keep it
// so the session can be restored later.
func (m *Manager) UpdateDisconnection(source Source, cause error) {
	m.mu.Lock()
	next := WalletState{
		LastConnected: m.state.LastConnected,
		IsHealthy:     m.state.IsHealthy,
	}
	if cause != nil {
		next.Error = cause.Error()
	}
	m.connectingSince = 0
	m.metrics.TotalDisconnections++
	m.state = next
	snapshot := m.metrics
	m.mu.Unlock()

	if source == SourceUser {
		m.persistence.RecordDisconnection()
	}
	metrics.WalletDisconnected(string(source))

	var metadata map[string]any
	if cause != nil {
		metadata = map[string]any{"error": cause.Error()}
	}
	m.logger.Info("wallet disconnected", zap.String("source", string(source)), zap.Error(cause))
	m.publish(EventDisconnected, next, snapshot, source, metadata)
}

// UpdateError records a connection error and ends any pending attempt.
func (m *Manager) UpdateError(cause error, source Source) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	m.mu.Lock()
	next := m.state
	next.Error = msg
	next.IsConnecting = false
	m.connectingSince = 0
	m.metrics.ErrorCount++
	m.state = next
	snapshot := m.metrics
	m.mu.Unlock()

	metrics.WalletError()
	m.logger.Warn("wallet connection error", zap.String("source", string(source)), zap.String("error", msg))
	m.publish(EventError, next, snapshot, source, map[string]any{"error": msg})
}

// UpdateReconnecting records an automatic reconnect attempt. A following
// UpdateConnection with SourceAuto counts as its success.
func (m *Manager) UpdateReconnecting(attempt int) {
	m.mu.Lock()
	m.metrics.AutoReconnectAttempts++
	state := m.state
	snapshot := m.metrics
	m.mu.Unlock()

	metrics.WalletReconnectAttempt()
	m.publish(EventReconnecting, state, snapshot, SourceAuto, map[string]any{"attempt": attempt})
}

// ShouldReconnect reports whether an automatic reconnect should be tried:
// the user did not opt out, nothing is connected or connecting, and the
// persisted session is valid for a supported chain.
func (m *Manager) ShouldReconnect() bool {
	state := m.State()
	if state.IsConnected || state.IsConnecting {
		return false
	}
	if !m.persistence.GetPreferences().AutoReconnect {
		return false
	}
	return m.persistence.ShouldBeConnectedOn(m.chainSupported)
}

func (m *Manager) chainSupported(chainID uint64) bool {
	return m.supportedChains == nil || m.supportedChains.Contains(chainID)
}

// publish emits the typed event and metrics-updated, then broadcasts state.
func (m *Manager) publish(typ EventType, state WalletState, snapshot WalletMetrics, source Source, metadata map[string]any) {
	m.emitter.emit(WalletEvent{
		Type:      typ,
		State:     state,
		Timestamp: m.nowMs(),
		Source:    source,
		Metadata:  metadata,
	})
	m.emitMetrics(state, snapshot, source)
	m.broadcast(state)
}

func (m *Manager) emitMetrics(state WalletState, snapshot WalletMetrics, source Source) {
	m.emitter.emit(WalletEvent{
		Type:      EventMetricsUpdated,
		State:     state,
		Timestamp: m.nowMs(),
		Source:    source,
		Metadata:  map[string]any{"metrics": snapshot},
	})
}

func (m *Manager) broadcast(state WalletState) {
	if len(m.channels) == 0 {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		m.logger.Error("failed to encode state", zap.Error(err))
		return
	}
	msg := crosstab.Message{
		Type:      crosstab.MessageTypeStateUpdate,
		Origin:    m.origin,
		State:     data,
		Timestamp: m.nowMs(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	for _, ch := range m.channels {
		if err := ch.Publish(ctx, msg); err != nil {
			m.logger.Warn("failed to broadcast state", zap.Error(err))
		}
	}
}
