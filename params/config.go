package params

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imdario/mergo"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/status-im/status-connect/logutils"
)

const (
	// NetworkMainnet selects Base mainnet.
	NetworkMainnet = "mainnet"
	// NetworkTestnet selects Base Sepolia.
	NetworkTestnet = "testnet"

	// TierPremium, TierPublic and TierFallback name the endpoint priority classes.
	TierPremium  = "premium"
	TierPublic   = "public"
	TierFallback = "fallback"
)

// ----------
// ConnectionConfig
// ----------

// ConnectionConfig holds the wallet connection persistence and health settings.
type ConnectionConfig struct {
	// ConnectionExpiry is the maximum age of a persisted connection record.
	ConnectionExpiry Duration `json:"ConnectionExpiry"`

	// HealthCheckInterval is the period of the state manager health check.
	HealthCheckInterval Duration `json:"HealthCheckInterval"`

	// StaleThreshold marks a live connection stale when it was not refreshed for longer.
	StaleThreshold Duration `json:"StaleThreshold"`

	// NavigationExpiry is the lifetime of a navigation snapshot.
	NavigationExpiry Duration `json:"NavigationExpiry"`

	// SupportedChainIDs restricts auto reconnect to these chains. Empty allows any chain.
	SupportedChainIDs []uint64 `json:"SupportedChainIDs,omitempty"`
}

// Validate validates the ConnectionConfig struct and returns an error if inconsistent values are found
func (c *ConnectionConfig) Validate(validate *validator.Validate) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.ConnectionExpiry.Duration <= 0 {
		return fmt.Errorf("Connection.ConnectionExpiry must be positive")
	}
	if c.HealthCheckInterval.Duration <= 0 {
		return fmt.Errorf("Connection.HealthCheckInterval must be positive")
	}
	if c.StaleThreshold.Duration <= 0 {
		return fmt.Errorf("Connection.StaleThreshold must be positive")
	}
	if c.NavigationExpiry.Duration <= 0 {
		return fmt.Errorf("Connection.NavigationExpiry must be positive")
	}
	return nil
}

// ----------
// SyncConfig
// ----------

// SyncConfig configures the cross instance state synchronization.
type SyncConfig struct {
	// RedisURL enables the Redis broadcast backend, e.g. redis://localhost:6379/0
	RedisURL string `json:"RedisURL,omitempty"`

	// RedisChannel is the pub/sub channel name.
	RedisChannel string `json:"RedisChannel" validate:"required"`

	// WatchStorage enables the storage change watcher.
	WatchStorage bool `json:"WatchStorage"`

	// PollInterval is used by the storage watcher when file notifications are unavailable.
	PollInterval Duration `json:"PollInterval"`
}

// ----------
// TimeSourceConfig
// ----------

// TimeSourceConfig configures the NTP corrected clock used for state
// broadcast timestamps.
type TimeSourceConfig struct {
	// Enabled switches the manager from the local clock to the NTP corrected one.
	Enabled bool `json:"Enabled"`

	// Servers are queried concurrently, the median offset is used.
	Servers []string `json:"Servers,omitempty"`

	// AllowedFailures is the number of servers that may fail in one update.
	AllowedFailures int `json:"AllowedFailures" validate:"min=0"`

	// UpdatePeriod is how often the offset is queried again.
	UpdatePeriod Duration `json:"UpdatePeriod"`
}

// ----------
// RPCConfig
// ----------

// TierConfig is the transport configuration of one endpoint tier.
type TierConfig struct {
	BatchSize         int      `json:"BatchSize" validate:"min=1"`
	BatchWait         Duration `json:"BatchWait"`
	RetryCount        int      `json:"RetryCount" validate:"min=0"`
	Timeout           Duration `json:"Timeout"`
	RequestsPerSecond float64  `json:"RequestsPerSecond" validate:"min=0"`
}

// TiersConfig groups the per tier configurations.
type TiersConfig struct {
	Premium  TierConfig `json:"Premium"`
	Public   TierConfig `json:"Public"`
	Fallback TierConfig `json:"Fallback"`
}

// ForTier returns the configuration of the named tier.
func (t TiersConfig) ForTier(tier string) TierConfig {
	switch tier {
	case TierPremium:
		return t.Premium
	case TierPublic:
		return t.Public
	default:
		return t.Fallback
	}
}

// RateLimitConfig configures the per endpoint sliding window limiter.
type RateLimitConfig struct {
	MaxRequests int      `json:"MaxRequests" validate:"min=1"`
	Window      Duration `json:"Window"`
	BaseBackoff Duration `json:"BaseBackoff"`
	MaxBackoff  Duration `json:"MaxBackoff"`
}

// CacheConfig configures the request cache.
type CacheConfig struct {
	TTL        Duration `json:"TTL"`
	MaxEntries int      `json:"MaxEntries" validate:"min=4"`
}

// RankingConfig configures the weighted endpoint ranking.
type RankingConfig struct {
	SampleCount     int      `json:"SampleCount" validate:"min=1"`
	Interval        Duration `json:"Interval"`
	LatencyWeight   float64  `json:"LatencyWeight" validate:"min=0,max=1"`
	StabilityWeight float64  `json:"StabilityWeight" validate:"min=0,max=1"`
}

// HealthConfig configures the endpoint health monitor.
type HealthConfig struct {
	ErrorThreshold      int      `json:"ErrorThreshold" validate:"min=1"`
	ResponseTimeCeiling Duration `json:"ResponseTimeCeiling"`
	CheckInterval       Duration `json:"CheckInterval"`
}

// EndpointConfig describes an additional user supplied endpoint.
type EndpointConfig struct {
	ChainID uint64 `json:"ChainID" validate:"required"`
	Name    string `json:"Name" validate:"required"`
	URL     string `json:"URL" validate:"required"`
	Tier    string `json:"Tier" validate:"eq=premium|eq=public|eq=fallback"`
}

// RPCConfig holds the RPC transport resolver configuration.
type RPCConfig struct {
	// Network is either "mainnet" or "testnet". Ignored when Embedded is set.
	Network string `json:"Network" validate:"eq=mainnet|eq=testnet"`

	// Embedded marks a constrained embedded viewer which always uses the main network.
	Embedded bool `json:"Embedded"`

	// Aggressive shifts ranking weight towards latency.
	Aggressive bool `json:"Aggressive"`

	Tiers     TiersConfig      `json:"Tiers"`
	RateLimit RateLimitConfig  `json:"RateLimit"`
	Cache     CacheConfig      `json:"Cache"`
	Ranking   RankingConfig    `json:"Ranking"`
	Health    HealthConfig     `json:"Health"`
	Endpoints []EndpointConfig `json:"Endpoints,omitempty" validate:"omitempty,dive"`
}

// Validate validates the RPCConfig struct and returns an error if inconsistent values are found
func (c *RPCConfig) Validate(validate *validator.Validate) error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	for _, tier := range []struct {
		name string
		cfg  TierConfig
	}{{TierPremium, c.Tiers.Premium}, {TierPublic, c.Tiers.Public}, {TierFallback, c.Tiers.Fallback}} {
		if tier.cfg.Timeout.Duration <= 0 {
			return fmt.Errorf("RPC.Tiers.%s.Timeout must be positive", tier.name)
		}
		if tier.cfg.BatchWait.Duration < 0 {
			return fmt.Errorf("RPC.Tiers.%s.BatchWait must not be negative", tier.name)
		}
	}

	if c.RateLimit.Window.Duration <= 0 || c.RateLimit.BaseBackoff.Duration <= 0 {
		return fmt.Errorf("RPC.RateLimit.Window and RPC.RateLimit.BaseBackoff must be positive")
	}
	if c.RateLimit.MaxBackoff.Duration < c.RateLimit.BaseBackoff.Duration {
		return fmt.Errorf("RPC.RateLimit.MaxBackoff must not be lower than BaseBackoff")
	}
	if c.Cache.TTL.Duration <= 0 {
		return fmt.Errorf("RPC.Cache.TTL must be positive")
	}
	if math.Abs(c.Ranking.LatencyWeight+c.Ranking.StabilityWeight-1) > 1e-6 {
		return fmt.Errorf("RPC.Ranking weights must sum to 1, got %v and %v", c.Ranking.LatencyWeight, c.Ranking.StabilityWeight)
	}
	if c.Health.ResponseTimeCeiling.Duration <= 0 || c.Health.CheckInterval.Duration <= 0 {
		return fmt.Errorf("RPC.Health durations must be positive")
	}

	for _, e := range c.Endpoints {
		if _, err := url.ParseRequestURI(e.URL); err != nil {
			return fmt.Errorf("RPC.Endpoints URL '%s' is invalid: %v", e.URL, err.Error())
		}
	}

	return nil
}

// ----------
// Config
// ----------

// Config is the root configuration of walletd.
type Config struct {
	// DataDir is the directory holding durable wallet state.
	DataDir string `json:"DataDir" validate:"required"`

	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string `json:"MetricsAddr,omitempty"`

	LogSettings logutils.LogSettings `json:"LogSettings"`
	Connection  ConnectionConfig     `json:"Connection"`
	Sync        SyncConfig           `json:"Sync"`
	TimeSource  TimeSourceConfig     `json:"TimeSource"`
	RPC         RPCConfig            `json:"RPC"`
}

// Merge overlays the non-zero fields of overrides on c. Zero values, false
// booleans and empty slices in overrides leave c unchanged.
func (c *Config) Merge(overrides *Config) error {
	if overrides == nil {
		return nil
	}
	return mergo.Merge(c, overrides, mergo.WithOverride)
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		LogSettings: logutils.LogSettings{
			Enabled:    true,
			Level:      "INFO",
			MaxSize:    100,
			MaxBackups: 3,
		},
		Connection: DefaultConnectionConfig(),
		Sync: SyncConfig{
			RedisChannel: "wallet-state-sync",
			WatchStorage: true,
			PollInterval: NewDuration(2 * time.Second),
		},
		TimeSource: TimeSourceConfig{
			Servers: []string{
				"0.pool.ntp.org",
				"1.pool.ntp.org",
				"2.pool.ntp.org",
				"3.pool.ntp.org",
			},
			AllowedFailures: 1,
			UpdatePeriod:    NewDuration(2 * time.Minute),
		},
		RPC: DefaultRPCConfig(),
	}
}

// DefaultConnectionConfig returns the default connection settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectionExpiry:    NewDuration(7 * 24 * time.Hour),
		HealthCheckInterval: NewDuration(30 * time.Second),
		StaleThreshold:      NewDuration(time.Hour),
		NavigationExpiry:    NewDuration(5 * time.Minute),
	}
}

// DefaultRPCConfig returns the default RPC transport settings.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Network: NetworkMainnet,
		Tiers: TiersConfig{
			Premium: TierConfig{
				BatchSize:  10,
				BatchWait:  NewDuration(16 * time.Millisecond),
				RetryCount: 1,
				Timeout:    NewDuration(10 * time.Second),
			},
			Public: TierConfig{
				BatchSize:  5,
				BatchWait:  NewDuration(32 * time.Millisecond),
				RetryCount: 2,
				Timeout:    NewDuration(15 * time.Second),
			},
			Fallback: TierConfig{
				BatchSize:  1,
				RetryCount: 3,
				Timeout:    NewDuration(30 * time.Second),
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 30,
			Window:      NewDuration(time.Minute),
			BaseBackoff: NewDuration(time.Second),
			MaxBackoff:  NewDuration(30 * time.Second),
		},
		Cache: CacheConfig{
			TTL:        NewDuration(2 * time.Second),
			MaxEntries: 500,
		},
		Ranking: RankingConfig{
			SampleCount:     10,
			Interval:        NewDuration(time.Minute),
			LatencyWeight:   0.7,
			StabilityWeight: 0.3,
		},
		Health: HealthConfig{
			ErrorThreshold:      3,
			ResponseTimeCeiling: NewDuration(10 * time.Second),
			CheckInterval:       NewDuration(time.Minute),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletd"
	}
	return filepath.Join(home, ".walletd")
}

// NewConfigFromJSON parses incoming JSON on top of the defaults and validates the result.
func NewConfigFromJSON(configJSON string) (*Config, error) {
	config := NewConfig()

	if err := loadConfigFromJSON(configJSON, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigFromFile reads a JSON file on top of the defaults. The result is not validated.
func LoadConfigFromFile(path string) (*Config, error) {
	config := NewConfig()
	if path == "" {
		return config, nil
	}

	jsonConfig, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := loadConfigFromJSON(string(jsonConfig), config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

func loadConfigFromJSON(configJSON string, config *Config) error {
	decoder := json.NewDecoder(strings.NewReader(configJSON))
	// override default configuration with values by JSON input
	return decoder.Decode(config)
}

// NewValidator returns the struct validator used for configuration.
func NewValidator() *validator.Validate {
	return validator.New()
}

// Validate checks if Config fields have valid values.
//
// A single error for a struct:
//
//	type TestStruct struct {
//	    TestField string `validate:"required"`
//	}
//
// has the following format:
//
//	Key: 'TestStruct.TestField' Error:Field validation for 'TestField' failed on the 'required' tag
func (c *Config) Validate() error {
	validate := NewValidator()

	if err := validate.Struct(c); err != nil {
		return err
	}

	if err := c.Connection.Validate(validate); err != nil {
		return err
	}
	if err := c.RPC.Validate(validate); err != nil {
		return err
	}

	if c.Sync.WatchStorage && c.Sync.PollInterval.Duration <= 0 {
		return fmt.Errorf("Sync.PollInterval must be positive when WatchStorage is enabled")
	}
	if c.Sync.RedisURL != "" {
		if _, err := url.Parse(c.Sync.RedisURL); err != nil {
			return fmt.Errorf("Sync.RedisURL '%s' is invalid: %v", c.Sync.RedisURL, err)
		}
	}

	if c.TimeSource.Enabled {
		if len(c.TimeSource.Servers) == 0 || c.TimeSource.UpdatePeriod.Duration <= 0 {
			return fmt.Errorf("TimeSource needs servers and a positive UpdatePeriod when enabled")
		}
		if c.TimeSource.AllowedFailures >= len(c.TimeSource.Servers) {
			return fmt.Errorf("TimeSource.AllowedFailures must be lower than the number of servers")
		}
	}

	return nil
}
