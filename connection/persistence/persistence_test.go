package persistence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func setupPersistence(t *testing.T) (*Persistence, storage.Store, *fakeClock) {
	durable := storage.NewMemoryStore()
	session := storage.NewMemoryStore()
	t.Cleanup(func() {
		durable.Close()
		session.Close()
	})
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	p := New(durable, session, WithClock(clock.Now), WithLogger(zap.NewNop()))
	return p, durable, clock
}

func putRecord(t *testing.T, store storage.Store, record map[string]any) {
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, store.Put(ConnectionStateKey, data))
}

func validRecord(ts int64) map[string]any {
	return map[string]any{
		"address":     "0xabc",
		"connectorId": "injected",
		"chainId":     8453,
		"timestamp":   ts,
		"version":     SchemaVersion,
	}
}

func TestNoStoredState(t *testing.T) {
	p, _, _ := setupPersistence(t)
	require.Nil(t, p.GetConnectionState())
	require.False(t, p.ShouldBeConnected())
	_, ok := p.GetLastDisconnect()
	require.False(t, ok)
}

func TestSaveAndGetConnectionState(t *testing.T) {
	p, _, clock := setupPersistence(t)

	before := clock.Now().UnixMilli()
	p.SaveConnectionState("0xabc", "injected", 8453)

	record := p.GetConnectionState()
	require.NotNil(t, record)
	require.Equal(t, "0xabc", record.Address)
	require.Equal(t, "injected", record.ConnectorID)
	require.Equal(t, uint64(8453), record.ChainID)
	require.Equal(t, SchemaVersion, record.Version)
	require.GreaterOrEqual(t, record.Timestamp, before)
	require.LessOrEqual(t, record.Timestamp, clock.Now().UnixMilli())
	require.True(t, p.ShouldBeConnected())
}

func TestRecordWireFormat(t *testing.T) {
	p, durable, _ := setupPersistence(t)
	p.SaveConnectionState("0xabc", "injected", 8453)

	data, err := durable.Get(ConnectionStateKey)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, "0xabc", raw["address"])
	require.Equal(t, "injected", raw["connectorId"])
	require.EqualValues(t, 8453, raw["chainId"])
	require.Equal(t, "1.0", raw["version"])
	require.Contains(t, raw, "timestamp")
}

func TestInvalidRecordsAreDiscarded(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	testCases := []struct {
		name   string
		modify func(map[string]any)
	}{
		{
			name:   "missing address",
			modify: func(r map[string]any) { delete(r, "address") },
		},
		{
			name:   "empty connector",
			modify: func(r map[string]any) { r["connectorId"] = "" },
		},
		{
			name:   "missing chain id",
			modify: func(r map[string]any) { delete(r, "chainId") },
		},
		{
			name:   "schema version mismatch",
			modify: func(r map[string]any) { r["version"] = "0.9" },
		},
		{
			name:   "expired",
			modify: func(r map[string]any) { r["timestamp"] = now.Add(-7*24*time.Hour - time.Millisecond).UnixMilli() },
		},
		{
			name:   "corrupt types",
			modify: func(r map[string]any) { r["chainId"] = "base" },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, durable, _ := setupPersistence(t)
			record := validRecord(now.Add(-time.Minute).UnixMilli())
			tc.modify(record)
			putRecord(t, durable, record)

			require.Nil(t, p.GetConnectionState())
			require.False(t, p.ShouldBeConnected())

			_, err := durable.Get(ConnectionStateKey)
			require.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestRecordAtExpiryBoundaryIsValid(t *testing.T) {
	p, durable, clock := setupPersistence(t)
	putRecord(t, durable, validRecord(clock.Now().Add(-7*24*time.Hour).UnixMilli()))
	require.NotNil(t, p.GetConnectionState())
}

func TestCorruptJSONIsDiscarded(t *testing.T) {
	p, durable, _ := setupPersistence(t)
	require.NoError(t, durable.Put(ConnectionStateKey, []byte("{not json")))
	require.Nil(t, p.GetConnectionState())
	_, err := durable.Get(ConnectionStateKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDisconnectMarkerWins(t *testing.T) {
	testCases := []struct {
		name     string
		recordAt int64
		markerAt int64
		expected bool
	}{
		{"marker newer", 1000, 1001, false},
		{"marker much newer", 1000, 5_000_000, false},
		{"marker equal", 1000, 1000, true},
		{"marker older", 1000, 999, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, durable, clock := setupPersistence(t)
			base := clock.Now().Add(-time.Hour).UnixMilli()
			putRecord(t, durable, validRecord(base+tc.recordAt))
			require.NoError(t, durable.Put(LastDisconnectKey, []byte(jsonNumber(base+tc.markerAt))))

			require.Equal(t, tc.expected, p.ShouldBeConnected())
		})
	}
}

func jsonNumber(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestSaveThenRecordDisconnection(t *testing.T) {
	p, _, clock := setupPersistence(t)

	p.SaveConnectionState("0xabc", "injected", 8453)
	p.RecordDisconnection()

	require.Nil(t, p.GetConnectionState())
	require.False(t, p.ShouldBeConnected())

	last, ok := p.GetLastDisconnect()
	require.True(t, ok)
	require.Equal(t, clock.Now().UnixMilli(), last)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	p, _, clock := setupPersistence(t)

	p.SaveConnectionState("0xabc", "injected", 8453)
	p.RecordDisconnection()
	clock.Advance(time.Second)
	p.SaveConnectionState("0xabc", "injected", 8453)

	require.True(t, p.ShouldBeConnected())
}

func TestRefreshConnectionTimestamp(t *testing.T) {
	p, _, clock := setupPersistence(t)

	p.SaveConnectionState("0xabc", "walletConnect", 84532)
	first := p.GetConnectionState()
	require.NotNil(t, first)

	clock.Advance(6 * 24 * time.Hour)
	p.RefreshConnectionTimestamp()

	clock.Advance(2 * 24 * time.Hour)
	refreshed := p.GetConnectionState()
	require.NotNil(t, refreshed)
	require.Equal(t, first.Address, refreshed.Address)
	require.Equal(t, first.ConnectorID, refreshed.ConnectorID)
	require.Equal(t, first.ChainID, refreshed.ChainID)
	require.Equal(t, first.Timestamp+(6*24*time.Hour).Milliseconds(), refreshed.Timestamp)
}

func TestRefreshWithoutRecordIsNoop(t *testing.T) {
	p, durable, _ := setupPersistence(t)
	p.RefreshConnectionTimestamp()
	_, err := durable.Get(ConnectionStateKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShouldBeConnectedOn(t *testing.T) {
	p, _, _ := setupPersistence(t)
	p.SaveConnectionState("0xabc", "injected", 1)

	require.True(t, p.ShouldBeConnected())
	require.True(t, p.ShouldBeConnectedOn(nil))
	require.False(t, p.ShouldBeConnectedOn(func(chainID uint64) bool { return chainID == 8453 }))
	require.True(t, p.ShouldBeConnectedOn(func(chainID uint64) bool { return chainID == 1 }))
}

func TestNavigationSnapshot(t *testing.T) {
	p, _, clock := setupPersistence(t)

	require.True(t, p.VerifyNavigation("0xabc"))

	p.SaveNavigationSnapshot("0xABC", "/feed", "/content/1")
	snapshot := p.GetNavigationSnapshot()
	require.NotNil(t, snapshot)
	require.Equal(t, "/feed", snapshot.From)
	require.Equal(t, "/content/1", snapshot.To)

	require.True(t, p.VerifyNavigation("0xabc"))
	// consumed
	require.Nil(t, p.GetNavigationSnapshot())

	p.SaveNavigationSnapshot("0xabc", "/feed", "/profile")
	require.False(t, p.VerifyNavigation("0xdef"))

	p.SaveNavigationSnapshot("0xabc", "/feed", "/profile")
	clock.Advance(5*time.Minute + time.Millisecond)
	require.Nil(t, p.GetNavigationSnapshot())
	require.True(t, p.VerifyNavigation("0xdef"))
}

func TestNavigationUsesSessionStore(t *testing.T) {
	p, durable, _ := setupPersistence(t)
	p.SaveNavigationSnapshot("0xabc", "/a", "/b")
	_, err := durable.Get(NavigationStateKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPreferences(t *testing.T) {
	p, durable, _ := setupPersistence(t)

	require.Equal(t, DefaultPreferences(), p.GetPreferences())
	require.True(t, p.GetPreferences().AutoReconnect)

	prefs := Preferences{AutoReconnect: false, PreferredConnector: "coinbaseWallet", PreferredChainID: 8453}
	p.SavePreferences(prefs)
	require.Equal(t, prefs, p.GetPreferences())

	require.NoError(t, durable.Put(PreferencesKey, []byte("garbage")))
	require.Equal(t, DefaultPreferences(), p.GetPreferences())
}

func TestKeys(t *testing.T) {
	p, _, _ := setupPersistence(t)
	require.ElementsMatch(t, []string{ConnectionStateKey, LastDisconnectKey, PreferencesKey}, p.Keys())
}

type failingStore struct{}

var errUnavailable = errors.New("quota exceeded")

func (failingStore) Get(string) ([]byte, error) { return nil, errUnavailable }
func (failingStore) Put(string, []byte) error   { return errUnavailable }
func (failingStore) Delete(string) error        { return errUnavailable }
func (failingStore) Close() error               { return nil }

func TestStorageFailuresDegradeToNoState(t *testing.T) {
	p := New(failingStore{}, nil, WithLogger(zap.NewNop()))

	require.NotPanics(t, func() {
		p.SaveConnectionState("0xabc", "injected", 8453)
		p.RefreshConnectionTimestamp()
		p.RecordDisconnection()
		p.ClearConnectionState()
		p.SavePreferences(Preferences{})
		p.SaveNavigationSnapshot("0xabc", "/a", "/b")
	})
	require.Nil(t, p.GetConnectionState())
	require.False(t, p.ShouldBeConnected())
	require.Equal(t, DefaultPreferences(), p.GetPreferences())
	require.True(t, p.VerifyNavigation("0xabc"))
}
