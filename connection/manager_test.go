package connection

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection/crosstab"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/signal"
	"github.com/status-im/status-connect/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []WalletEvent
}

func (r *recorder) record(ev WalletEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []WalletEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WalletEvent(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var types []EventType
	for _, ev := range r.all() {
		types = append(types, ev.Type)
	}
	return types
}

type ManagerSuite struct {
	suite.Suite

	clock       *testClock
	durable     storage.Store
	persistence *persistence.Persistence
	manager     *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.clock = newTestClock()
	s.durable = storage.NewMemoryStore()
	s.persistence = s.newPersistence(s.durable)
	s.manager = s.newManager(s.persistence, nil, params.DefaultConnectionConfig())
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Dispose()
	s.Require().NoError(s.durable.Close())
}

func (s *ManagerSuite) newPersistence(durable storage.Store) *persistence.Persistence {
	return persistence.New(durable, storage.NewMemoryStore(), persistence.WithClock(s.clock.Now), persistence.WithLogger(zap.NewNop()))
}

func (s *ManagerSuite) newManager(p *persistence.Persistence, channels []crosstab.Channel, cfg params.ConnectionConfig) *Manager {
	return NewManager(p, channels, cfg, WithClock(s.clock.Now), WithLogger(zap.NewNop()))
}

func (s *ManagerSuite) TestUserDisconnectClearsPersistence() {
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)

	state := s.manager.State()
	s.Require().True(state.IsConnected)
	s.Require().Equal("0xabc", state.Address)
	s.Require().Equal(uint64(8453), state.ChainID)
	s.Require().Equal("injected", state.ConnectorID)
	s.Require().Equal(s.clock.Now().UnixMilli(), state.LastConnected)
	s.Require().True(s.persistence.ShouldBeConnected())

	s.clock.Advance(time.Second)
	s.manager.UpdateDisconnection(SourceUser, nil)

	state = s.manager.State()
	s.Require().False(state.IsConnected)
	s.Require().Empty(state.Address)
	s.Require().Nil(s.persistence.GetConnectionState())
	s.Require().False(s.persistence.ShouldBeConnected())
	s.Require().False(s.manager.ShouldReconnect())
}

func (s *ManagerSuite) TestAutoDisconnectKeepsPersistence() {
	for _, source := range []Source{SourceAuto, SourceSystem} {
		s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
		s.manager.UpdateDisconnection(source, errors.New("transport closed"))

		state := s.manager.State()
		s.Require().False(state.IsConnected)
		s.Require().Equal("transport closed", state.Error)
		s.Require().NotNil(s.persistence.GetConnectionState())
		s.Require().True(s.persistence.ShouldBeConnected())
		s.Require().True(s.manager.ShouldReconnect())
	}
}

func (s *ManagerSuite) TestRandomUpdateSequences() {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		s.clock.Advance(time.Millisecond)
		switch rng.Intn(4) {
		case 0:
			s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
			s.Require().True(s.manager.State().IsConnected)
			s.Require().True(s.persistence.ShouldBeConnected())
		case 1:
			s.manager.UpdateDisconnection(SourceUser, nil)
			s.Require().False(s.manager.State().IsConnected)
			s.Require().False(s.persistence.ShouldBeConnected())
		case 2:
			persisted := s.persistence.ShouldBeConnected()
			s.manager.UpdateDisconnection(SourceAuto, nil)
			s.Require().False(s.manager.State().IsConnected)
			s.Require().Equal(persisted, s.persistence.ShouldBeConnected())
		case 3:
			persisted := s.persistence.ShouldBeConnected()
			s.manager.UpdateDisconnection(SourceSystem, nil)
			s.Require().False(s.manager.State().IsConnected)
			s.Require().Equal(persisted, s.persistence.ShouldBeConnected())
		}
		s.Require().True(s.manager.State().valid())
	}
}

func (s *ManagerSuite) TestConnectingIsAlwaysCleared() {
	s.manager.UpdateConnecting(true, SourceUser)
	s.Require().True(s.manager.State().IsConnecting)
	s.Require().False(s.manager.State().IsConnected)
	s.Require().Equal(1, s.manager.State().ConnectionAttempts)

	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.Require().False(s.manager.State().IsConnecting)
	s.Require().Equal(0, s.manager.State().ConnectionAttempts)

	s.manager.UpdateConnecting(true, SourceUser)
	s.Require().False(s.manager.State().IsConnected)
	s.manager.UpdateError(errors.New("user rejected"), SourceUser)
	s.Require().False(s.manager.State().IsConnecting)
	s.Require().Equal("user rejected", s.manager.State().Error)

	s.manager.UpdateConnecting(true, SourceUser)
	s.manager.UpdateDisconnection(SourceUser, nil)
	s.Require().False(s.manager.State().IsConnecting)

	s.manager.UpdateConnecting(true, SourceUser)
	s.manager.UpdateConnecting(false, SourceUser)
	s.Require().False(s.manager.State().IsConnecting)
}

func (s *ManagerSuite) TestEvents() {
	connected := &recorder{}
	all := &recorder{}
	metricsUpdated := &recorder{}
	unsubscribe := s.manager.On(EventConnected, connected.record)
	s.manager.On(EventWallet, all.record)
	s.manager.On(EventMetricsUpdated, metricsUpdated.record)

	s.manager.UpdateConnecting(true, SourceUser)
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.manager.UpdateError(errors.New("boom"), SourceSystem)
	s.manager.UpdateReconnecting(1)
	s.manager.UpdateDisconnection(SourceAuto, nil)

	s.Require().Len(connected.all(), 1)
	ev := connected.all()[0]
	s.Require().Equal(EventConnected, ev.Type)
	s.Require().Equal(SourceUser, ev.Source)
	s.Require().True(ev.State.IsConnected)

	s.Require().Equal([]EventType{EventConnecting, EventConnected, EventError, EventReconnecting, EventDisconnected}, all.types())
	s.Require().Len(metricsUpdated.all(), 5)
	s.Require().Equal(1, all.all()[3].Metadata["attempt"])

	unsubscribe()
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.Require().Len(connected.all(), 1)
}

func (s *ManagerSuite) TestListenersReceiveCopies() {
	var second WalletEvent
	s.manager.On(EventError, func(ev WalletEvent) {
		ev.Metadata["error"] = "tampered"
		ev.State.Error = "tampered"
	})
	s.manager.On(EventError, func(ev WalletEvent) {
		second = ev
	})

	s.manager.UpdateError(errors.New("original"), SourceUser)
	s.Require().Equal("original", second.Metadata["error"])
	s.Require().Equal("original", second.State.Error)
	s.Require().Equal("original", s.manager.State().Error)
}

func (s *ManagerSuite) TestPanickingListenerDoesNotBreakUpdates() {
	s.manager.On(EventConnected, func(WalletEvent) { panic("listener bug") })
	got := &recorder{}
	s.manager.On(EventConnected, got.record)

	s.Require().NotPanics(func() {
		s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	})
	s.Require().Len(got.all(), 1)
}

func (s *ManagerSuite) TestSubscribeEvents() {
	ch := make(chan WalletEvent, 10)
	sub := s.manager.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)

	select {
	case ev := <-ch:
		s.Require().Equal(EventConnected, ev.Type)
	case <-time.After(time.Second):
		s.Fail("no event delivered")
	}
}

func (s *ManagerSuite) TestMetrics() {
	s.manager.UpdateConnecting(true, SourceUser)
	s.clock.Advance(500 * time.Millisecond)
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)

	s.manager.UpdateDisconnection(SourceAuto, nil)
	s.manager.UpdateReconnecting(1)
	s.manager.UpdateConnecting(true, SourceAuto)
	s.clock.Advance(1500 * time.Millisecond)
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceAuto)
	s.manager.UpdateError(errors.New("rpc"), SourceSystem)

	m := s.manager.Metrics()
	s.Require().Equal(2, m.TotalConnections)
	s.Require().Equal(1, m.TotalDisconnections)
	s.Require().Equal(1, m.AutoReconnectAttempts)
	s.Require().Equal(1, m.AutoReconnectSuccesses)
	s.Require().Equal(1, m.ErrorCount)
	s.Require().InDelta(1000, m.AverageConnectionTime, 0.001)

	s.clock.Advance(time.Minute)
	s.manager.ResetMetrics()
	m = s.manager.Metrics()
	s.Require().Zero(m.TotalConnections)
	s.Require().Zero(m.AverageConnectionTime)
	s.Require().Equal(s.clock.Now().UnixMilli(), m.StartTime)
}

func (s *ManagerSuite) TestHealthCheckMismatch() {
	s.persistence.SaveConnectionState("0xabc", "injected", 8453)

	checks := &recorder{}
	s.manager.On(EventHealthCheck, checks.record)

	report := s.manager.CheckHealth()
	s.Require().Equal(HealthReport{ShouldBeConnected: true, Mismatch: true}, report)
	s.Require().False(s.manager.State().IsHealthy)

	s.Require().Len(checks.all(), 1)
	s.Require().Equal(map[string]any{
		"isStale":           false,
		"shouldBeConnected": true,
		"mismatch":          true,
		"isHealthy":         false,
	}, checks.all()[0].Metadata)

	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceAuto)
	report = s.manager.CheckHealth()
	s.Require().True(report.IsHealthy)
	s.Require().True(s.manager.State().IsHealthy)
}

func (s *ManagerSuite) TestHealthCheckWithoutSession() {
	report := s.manager.CheckHealth()
	s.Require().Equal(HealthReport{IsHealthy: true}, report)
	s.Require().False(s.manager.ShouldReconnect())
}

func (s *ManagerSuite) TestHealthCheckRefreshesTimestamp() {
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	saved := s.persistence.GetConnectionState().Timestamp

	s.clock.Advance(30 * time.Minute)
	s.Require().True(s.manager.CheckHealth().IsHealthy)
	s.Require().Equal(saved+(30*time.Minute).Milliseconds(), s.persistence.GetConnectionState().Timestamp)

	// refreshed 30 minutes ago, still fresh
	s.clock.Advance(50 * time.Minute)
	s.Require().False(s.manager.CheckHealth().IsStale)
}

func (s *ManagerSuite) TestHealthCheckStale() {
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	saved := s.persistence.GetConnectionState().Timestamp

	s.clock.Advance(time.Hour + time.Second)
	report := s.manager.CheckHealth()
	s.Require().True(report.IsStale)
	s.Require().False(report.IsHealthy)
	s.Require().False(report.Mismatch)
	// stale connections are not refreshed
	s.Require().Equal(saved, s.persistence.GetConnectionState().Timestamp)
}

func (s *ManagerSuite) TestStaleOnlyAfterMissedChecks() {
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)

	for i := 0; i < 10; i++ {
		s.clock.Advance(30 * time.Minute)
		s.Require().False(s.manager.CheckHealth().IsStale)
	}

	// checks missed for longer than the threshold
	s.clock.Advance(time.Hour + time.Second)
	s.Require().True(s.manager.CheckHealth().IsStale)
	s.clock.Advance(time.Second)
	s.Require().True(s.manager.CheckHealth().IsStale)

	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.Require().False(s.manager.CheckHealth().IsStale)
}

func (s *ManagerSuite) TestHealthLoop() {
	cfg := params.DefaultConnectionConfig()
	cfg.HealthCheckInterval = params.NewDuration(10 * time.Millisecond)
	m := s.newManager(s.persistence, nil, cfg)
	defer m.Dispose()

	var mu sync.Mutex
	count := 0
	m.On(EventHealthCheck, func(WalletEvent) {
		mu.Lock()
		count++
		mu.Unlock()
		panic("listener failure must not stop the loop")
	})

	m.Init(context.Background())
	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, 5*time.Second, 10*time.Millisecond)

	m.Dispose()
	m.Dispose()
}

func (s *ManagerSuite) TestInitReportsSessionToRestore() {
	s.persistence.SaveConnectionState("0xabc", "injected", 8453)
	m := s.newManager(s.persistence, nil, params.DefaultConnectionConfig())
	defer m.Dispose()

	m.Init(context.Background())
	s.Require().False(m.State().IsHealthy)
	s.Require().True(m.ShouldReconnect())
}

func (s *ManagerSuite) TestShouldReconnect() {
	s.persistence.SaveConnectionState("0xabc", "injected", 1)
	s.Require().True(s.manager.ShouldReconnect())

	cfg := params.DefaultConnectionConfig()
	cfg.SupportedChainIDs = []uint64{8453, 84532}
	restricted := s.newManager(s.persistence, nil, cfg)
	s.Require().False(restricted.ShouldReconnect())
	// the loose gate is unchanged
	s.Require().True(s.persistence.ShouldBeConnected())

	s.persistence.SaveConnectionState("0xabc", "injected", 8453)
	s.Require().True(restricted.ShouldReconnect())

	s.persistence.SavePreferences(persistence.Preferences{AutoReconnect: false})
	s.Require().False(restricted.ShouldReconnect())
	s.Require().False(s.manager.ShouldReconnect())
}

func (s *ManagerSuite) stateUpdate(origin string, ts int64, state WalletState) *crosstab.Message {
	data, err := json.Marshal(state)
	s.Require().NoError(err)
	return &crosstab.Message{
		Type:      crosstab.MessageTypeStateUpdate,
		Origin:    origin,
		State:     data,
		Timestamp: ts,
	}
}

func (s *ManagerSuite) TestBroadcastOrderIndependence() {
	older := WalletState{IsConnected: true, Address: "0x111", ChainID: 8453, ConnectorID: "injected", IsHealthy: true}
	newer := WalletState{IsConnected: true, Address: "0x222", ChainID: 84532, ConnectorID: "walletConnect", IsHealthy: true}

	base := s.clock.Now().UnixMilli()
	t1 := s.stateUpdate("other", base+1, older)
	t2 := s.stateUpdate("other", base+2, newer)

	expected := newer
	expected.LastConnected = base + 2

	for _, order := range [][]*crosstab.Message{{t1, t2}, {t2, t1}} {
		m := s.newManager(s.persistence, nil, params.DefaultConnectionConfig())
		for _, msg := range order {
			m.handleNotification(crosstab.Notification{Message: msg})
		}
		s.Require().Equal(expected, m.State())

		// applying again changes nothing
		m.handleNotification(crosstab.Notification{Message: t2})
		s.Require().Equal(expected, m.State())
	}
}

func (s *ManagerSuite) TestBroadcastIgnoresOwnAndInvalidMessages() {
	state := WalletState{IsConnected: true, Address: "0x111", ChainID: 8453, ConnectorID: "injected"}
	ts := s.clock.Now().UnixMilli() + 1

	s.manager.handleNotification(crosstab.Notification{Message: s.stateUpdate(s.manager.Origin(), ts, state)})
	s.Require().False(s.manager.State().IsConnected)

	invalid := WalletState{IsConnected: true}
	s.manager.handleNotification(crosstab.Notification{Message: s.stateUpdate("other", ts, invalid)})
	s.Require().False(s.manager.State().IsConnected)

	s.manager.handleNotification(crosstab.Notification{Message: &crosstab.Message{
		Type: crosstab.MessageTypeStateUpdate, Origin: "other", State: json.RawMessage(`"nope"`), Timestamp: ts,
	}})
	s.Require().False(s.manager.State().IsConnected)
}

func (s *ManagerSuite) TestRemoteConnectingIsNotAdopted() {
	base := s.clock.Now().UnixMilli()
	s.manager.handleNotification(crosstab.Notification{
		Message: s.stateUpdate("other", base+1, WalletState{IsConnecting: true, ConnectionAttempts: 3, IsHealthy: true}),
	})
	s.Require().False(s.manager.State().IsConnecting)
	s.Require().Zero(s.manager.State().ConnectionAttempts)

	for i := 0; i < 3; i++ {
		s.clock.Advance(time.Hour)
		s.manager.CheckHealth()
		s.Require().False(s.manager.State().IsConnecting)
	}
	s.Require().False(s.manager.ShouldReconnect())

	// a local attempt survives a remote disconnected state
	s.manager.UpdateConnecting(true, SourceUser)
	s.manager.handleNotification(crosstab.Notification{
		Message: s.stateUpdate("other", s.clock.Now().UnixMilli()+1, WalletState{IsHealthy: true}),
	})
	s.Require().True(s.manager.State().IsConnecting)
	s.Require().Equal(1, s.manager.State().ConnectionAttempts)

	// and ends when the remote instance connected
	connected := WalletState{IsConnected: true, Address: "0xabc", ChainID: 8453, ConnectorID: "injected", IsConnecting: false, IsHealthy: true}
	s.manager.handleNotification(crosstab.Notification{
		Message: s.stateUpdate("other", s.clock.Now().UnixMilli()+2, connected),
	})
	s.Require().True(s.manager.State().IsConnected)
	s.Require().False(s.manager.State().IsConnecting)
	s.Require().Zero(s.manager.State().ConnectionAttempts)
	s.Require().True(s.manager.State().valid())
}

func (s *ManagerSuite) TestIncompleteConnectionIsAnError() {
	events := &recorder{}
	s.manager.On(EventWallet, events.record)

	for _, tc := range []struct {
		address     string
		chainID     uint64
		connectorID string
	}{
		{"", 0, ""},
		{"", 8453, "injected"},
		{"0xabc", 0, "injected"},
		{"0xabc", 8453, ""},
	} {
		s.manager.UpdateConnection(tc.address, tc.chainID, tc.connectorID, SourceUser)
		state := s.manager.State()
		s.Require().False(state.IsConnected)
		s.Require().Equal(ErrIncompleteConnection.Error(), state.Error)
		s.Require().True(state.valid())
		s.Require().Nil(s.persistence.GetConnectionState())
	}

	s.Require().Zero(s.manager.Metrics().TotalConnections)
	s.Require().Equal(4, s.manager.Metrics().ErrorCount)
	for _, typ := range events.types() {
		s.Require().NotEqual(EventConnected, typ)
	}
}

func (s *ManagerSuite) TestSyncThroughHub() {
	hub := crosstab.NewHub()
	a := s.newManager(s.persistence, []crosstab.Channel{hub.Channel()}, params.DefaultConnectionConfig())
	b := s.newManager(s.newPersistence(storage.NewMemoryStore()), []crosstab.Channel{hub.Channel()}, params.DefaultConnectionConfig())
	a.Init(context.Background())
	b.Init(context.Background())
	defer a.Dispose()
	defer b.Dispose()

	connected := make(chan WalletEvent, 1)
	b.On(EventConnected, func(ev WalletEvent) { connected <- ev })

	s.clock.Advance(time.Millisecond)
	a.UpdateConnection("0xabc", 8453, "injected", SourceUser)

	select {
	case ev := <-connected:
		s.Require().Equal(SourceSystem, ev.Source)
		s.Require().Equal("0xabc", ev.State.Address)
		s.Require().Equal(a.Origin(), ev.Metadata["origin"])
	case <-time.After(5 * time.Second):
		s.Fail("state update not received")
	}
	s.Require().True(b.State().IsConnected)

	s.clock.Advance(time.Millisecond)
	a.UpdateDisconnection(SourceUser, nil)
	s.Require().Eventually(func() bool { return !b.State().IsConnected }, 5*time.Second, 10*time.Millisecond)
}

func (s *ManagerSuite) TestReloadFromPersistence() {
	other := s.newPersistence(s.durable)
	events := &recorder{}
	s.manager.On(EventWallet, events.record)

	other.SaveConnectionState("0xabc", "injected", 8453)
	s.manager.ReloadFromPersistence()
	s.Require().True(s.manager.State().IsConnected)
	s.Require().Equal("0xabc", s.manager.State().Address)

	// no change, no event
	s.manager.ReloadFromPersistence()
	s.Require().Equal([]EventType{EventConnected}, events.types())

	s.clock.Advance(time.Second)
	other.RecordDisconnection()
	s.manager.handleNotification(crosstab.Notification{ChangedKey: persistence.ConnectionStateKey})
	s.Require().False(s.manager.State().IsConnected)
	s.Require().Equal([]EventType{EventConnected, EventDisconnected}, events.types())

	// keys outside persistence are ignored
	other.SaveConnectionState("0xabc", "injected", 8453)
	s.manager.handleNotification(crosstab.Notification{ChangedKey: "unrelated"})
	s.Require().False(s.manager.State().IsConnected)
}

func (s *ManagerSuite) TestOwnWritesDoNotEcho() {
	events := &recorder{}
	s.manager.On(EventWallet, events.record)

	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.manager.ReloadFromPersistence()
	s.manager.UpdateDisconnection(SourceUser, nil)
	s.manager.ReloadFromPersistence()

	s.Require().Equal([]EventType{EventConnected, EventDisconnected}, events.types())
}

func (s *ManagerSuite) TestSyncThroughSharedDirectory() {
	dir := s.T().TempDir()
	storeA, err := storage.NewFileStore(dir)
	s.Require().NoError(err)
	storeB, err := storage.NewFileStore(dir)
	s.Require().NoError(err)
	watcher, err := storage.NewWatcher(dir, 20*time.Millisecond, zap.NewNop())
	s.Require().NoError(err)

	a := s.newManager(s.newPersistence(storeA), nil, params.DefaultConnectionConfig())
	b := s.newManager(s.newPersistence(storeB), []crosstab.Channel{crosstab.NewStorageChannel(watcher)}, params.DefaultConnectionConfig())
	b.Init(context.Background())
	defer b.Dispose()

	a.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	s.Require().Eventually(func() bool { return b.State().IsConnected }, 5*time.Second, 10*time.Millisecond)

	s.clock.Advance(time.Second)
	a.UpdateDisconnection(SourceUser, nil)
	s.Require().Eventually(func() bool { return !b.State().IsConnected }, 5*time.Second, 10*time.Millisecond)
}

func (s *ManagerSuite) TestForwardSignals() {
	var mu sync.Mutex
	var received []string
	signal.SetDefaultNodeNotificationHandler(func(jsonEvent string) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, jsonEvent)
	})
	defer signal.ResetDefaultNodeNotificationHandler()

	unsubscribe := ForwardSignals(s.manager)
	s.manager.UpdateConnection("0xabc", 8453, "injected", SourceUser)
	unsubscribe()
	s.manager.UpdateDisconnection(SourceUser, nil)

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(received, 1)

	var envelope struct {
		Type  string `json:"type"`
		Event struct {
			Source string      `json:"source"`
			State  WalletState `json:"state"`
		} `json:"event"`
	}
	s.Require().NoError(json.Unmarshal([]byte(received[0]), &envelope))
	s.Require().Equal("wallet.connection.connected", envelope.Type)
	s.Require().Equal("user", envelope.Event.Source)
	s.Require().Equal("0xabc", envelope.Event.State.Address)
}

func TestWalletStateInvariants(t *testing.T) {
	require.True(t, initialState().valid())
	require.False(t, WalletState{IsConnected: true}.valid())
	require.False(t, WalletState{IsConnected: true, Address: "0x1", ChainID: 1, ConnectorID: "c", IsConnecting: true}.valid())
	require.True(t, WalletState{IsConnecting: true}.valid())
}
