package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/status-im/status-connect/logutils"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := NewConfig()
	require.NoError(t, config.Validate())

	require.Equal(t, 7*24*time.Hour, config.Connection.ConnectionExpiry.Duration)
	require.Equal(t, 30*time.Second, config.Connection.HealthCheckInterval.Duration)
	require.Equal(t, time.Hour, config.Connection.StaleThreshold.Duration)
	require.Equal(t, 5*time.Minute, config.Connection.NavigationExpiry.Duration)
	require.Equal(t, 30, config.RPC.RateLimit.MaxRequests)
	require.Equal(t, 30*time.Second, config.RPC.RateLimit.MaxBackoff.Duration)
	require.Equal(t, 2*time.Second, config.RPC.Cache.TTL.Duration)
	require.Equal(t, 3, config.RPC.Health.ErrorThreshold)
}

func TestTierDefaultsReflectThroughputTolerance(t *testing.T) {
	tiers := DefaultRPCConfig().Tiers

	require.Greater(t, tiers.Premium.BatchSize, tiers.Public.BatchSize)
	require.Greater(t, tiers.Public.BatchSize, tiers.Fallback.BatchSize)
	require.Less(t, tiers.Premium.RetryCount, tiers.Fallback.RetryCount)
	require.Greater(t, tiers.Fallback.Timeout.Duration, tiers.Premium.Timeout.Duration)
	require.Equal(t, tiers.Public, tiers.ForTier(TierPublic))
	require.Equal(t, tiers.Fallback, tiers.ForTier("unknown"))
}

func TestNewConfigFromJSON(t *testing.T) {
	config, err := NewConfigFromJSON(`{
		"DataDir": "/tmp/walletd",
		"Connection": {"HealthCheckInterval": "10s", "SupportedChainIDs": [8453]},
		"RPC": {"Network": "testnet", "Cache": {"TTL": "500ms", "MaxEntries": 64}}
	}`)
	require.NoError(t, err)

	require.Equal(t, "/tmp/walletd", config.DataDir)
	require.Equal(t, 10*time.Second, config.Connection.HealthCheckInterval.Duration)
	require.Equal(t, []uint64{8453}, config.Connection.SupportedChainIDs)
	require.Equal(t, NetworkTestnet, config.RPC.Network)
	require.Equal(t, 500*time.Millisecond, config.RPC.Cache.TTL.Duration)
	require.Equal(t, 64, config.RPC.Cache.MaxEntries)
	// untouched defaults survive
	require.Equal(t, 30, config.RPC.RateLimit.MaxRequests)
}

func TestValidateRejectsInconsistentValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"missing data dir":   func(c *Config) { c.DataDir = "" },
		"unknown network":    func(c *Config) { c.RPC.Network = "goerli" },
		"bad log level":      func(c *Config) { c.LogSettings.Level = "LOUD" },
		"zero health period": func(c *Config) { c.Connection.HealthCheckInterval = NewDuration(0) },
		"weights":            func(c *Config) { c.RPC.Ranking.LatencyWeight = 0.9 },
		"backoff bounds":     func(c *Config) { c.RPC.RateLimit.MaxBackoff = NewDuration(time.Millisecond) },
		"tier timeout":       func(c *Config) { c.RPC.Tiers.Public.Timeout = NewDuration(0) },
		"endpoint tier": func(c *Config) {
			c.RPC.Endpoints = []EndpointConfig{{ChainID: 8453, Name: "x", URL: "https://x.example", Tier: "gold"}}
		},
		"endpoint url": func(c *Config) {
			c.RPC.Endpoints = []EndpointConfig{{ChainID: 8453, Name: "x", URL: "not a url", Tier: TierPublic}}
		},
	}

	for name, mutate := range cases {
		config := NewConfig()
		mutate(config)
		require.Error(t, config.Validate(), name)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"MetricsAddr": ":9090", "RPC": {"Embedded": true}}`), 0600))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", config.MetricsAddr)
	require.True(t, config.RPC.Embedded)

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("ALCHEMY_API_KEY=alchemy-key\n"), 0600))
	t.Setenv("ALCHEMY_API_KEY", "")
	require.NoError(t, os.Unsetenv("ALCHEMY_API_KEY"))
	t.Setenv("WALLETD_NETWORK", "TESTNET")
	t.Setenv("WALLETD_EMBEDDED", "true")
	t.Setenv("WALLETD_LOG_LEVEL", "debug")

	env, err := LoadEnv(dotenv, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "alchemy-key", env.APIKeys().Alchemy)
	require.Empty(t, env.APIKeys().Infura)

	config := NewConfig()
	require.NoError(t, config.ApplyEnv(env))
	require.Equal(t, NetworkTestnet, config.RPC.Network)
	require.True(t, config.RPC.Embedded)
	require.Equal(t, "DEBUG", config.LogSettings.Level)
	require.NoError(t, config.Validate())
	require.NoError(t, os.Unsetenv("ALCHEMY_API_KEY"))
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	config := NewConfig()
	require.Error(t, config.ApplyEnv(EnvOverrides{Embedded: "sometimes"}))
}

func TestMergeOverridesOnlySetFields(t *testing.T) {
	config := NewConfig()
	config.RPC.Embedded = true
	endpoints := len(config.RPC.Endpoints)

	require.NoError(t, config.Merge(&Config{
		DataDir:     "/tmp/walletd",
		LogSettings: logutils.LogSettings{Level: "DEBUG"},
		Connection:  ConnectionConfig{StaleThreshold: NewDuration(2 * time.Hour)},
	}))
	require.Equal(t, "/tmp/walletd", config.DataDir)
	require.Equal(t, "DEBUG", config.LogSettings.Level)
	require.Equal(t, 2*time.Hour, config.Connection.StaleThreshold.Duration)

	// zero values leave the configuration alone
	require.True(t, config.LogSettings.Enabled)
	require.Equal(t, 100, config.LogSettings.MaxSize)
	require.True(t, config.RPC.Embedded)
	require.Len(t, config.RPC.Endpoints, endpoints)
	require.Equal(t, DefaultConnectionConfig().HealthCheckInterval, config.Connection.HealthCheckInterval)
	require.NoError(t, config.Validate())

	require.NoError(t, config.Merge(nil))
	require.Equal(t, "/tmp/walletd", config.DataDir)
}
