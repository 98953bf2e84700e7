package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/storage"
)

type environment struct {
	config *params.Config
	keys   params.APIKeys
	logger *zap.Logger

	durable storage.Store
	session storage.Store
	// stateDir is set for the file store only
	stateDir string
}

func (e *environment) Close() error {
	err := multierr.Combine(e.session.Close(), e.durable.Close())
	_ = e.logger.Sync()
	return err
}

func (e *environment) persistence() *persistence.Persistence {
	return persistence.New(e.durable, e.session,
		persistence.WithLogger(e.logger),
		persistence.WithExpiry(e.config.Connection.ConnectionExpiry.Duration, e.config.Connection.NavigationExpiry.Duration))
}

// loadConfig layers the defaults, the config file, the environment and the
// global flags, in that order.
func loadConfig(cCtx *cli.Context) (*params.Config, params.APIKeys, error) {
	config, err := params.LoadConfigFromFile(cCtx.String(ConfigFlag))
	if err != nil {
		return nil, params.APIKeys{}, err
	}

	env, err := params.LoadEnv(cCtx.String(EnvFileFlag))
	if err != nil {
		return nil, params.APIKeys{}, err
	}
	if err := config.ApplyEnv(env); err != nil {
		return nil, params.APIKeys{}, err
	}

	if err := config.Merge(flagOverrides(cCtx)); err != nil {
		return nil, params.APIKeys{}, fmt.Errorf("apply flags: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, params.APIKeys{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, env.APIKeys(), nil
}

// flagOverrides collects the global flags that were set. Unset flags stay
// zero and are skipped by the merge.
func flagOverrides(cCtx *cli.Context) *params.Config {
	return &params.Config{
		DataDir: cCtx.String(DataDirFlag),
		LogSettings: logutils.LogSettings{
			Level: strings.ToUpper(cCtx.String(LogLevelFlag)),
			File:  cCtx.String(LogFileFlag),
		},
	}
}

func setup(cCtx *cli.Context) (*environment, error) {
	config, keys, err := loadConfig(cCtx)
	if err != nil {
		return nil, err
	}

	if err := logutils.OverrideRootLogWithConfig(config.LogSettings); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logutils.ZapLogger().Named("walletd")

	env := &environment{
		config:  config,
		keys:    keys,
		logger:  logger,
		session: storage.NewMemoryStore(),
	}

	switch cCtx.String(StoreFlag) {
	case storeFile:
		dir := filepath.Join(config.DataDir, "state")
		store, err := storage.NewFileStore(dir)
		if err != nil {
			env.session.Close()
			return nil, err
		}
		env.durable = store
		env.stateDir = dir
	case storeLevelDB:
		store, err := storage.NewLevelDBStore(filepath.Join(config.DataDir, "leveldb"))
		if err != nil {
			env.session.Close()
			return nil, err
		}
		env.durable = store
	default:
		env.session.Close()
		return nil, fmt.Errorf("unknown store %q", cCtx.String(StoreFlag))
	}

	logger.Debug("environment ready",
		zap.String("dataDir", config.DataDir),
		zap.String("store", cCtx.String(StoreFlag)),
		zap.String("network", config.RPC.Network))
	return env, nil
}

func printJSON(cCtx *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cCtx.App.Writer, string(data))
	return err
}

func newManager(env *environment) *connection.Manager {
	return connection.NewManager(env.persistence(), nil, env.config.Connection, connection.WithLogger(env.logger))
}
