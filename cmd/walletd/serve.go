package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection"
	"github.com/status-im/status-connect/connection/crosstab"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/rpc"
	"github.com/status-im/status-connect/rpc/subscriptions"
	msignal "github.com/status-im/status-connect/signal"
	"github.com/status-im/status-connect/storage"
	"github.com/status-im/status-connect/timesource"
)

const shutdownTimeout = 5 * time.Second

// lineWriter serializes signal lines written from several goroutines.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) handle(jsonEvent string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, jsonEvent)
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger
	config := env.config

	writer := &lineWriter{out: cCtx.App.Writer}
	msignal.SetDefaultNodeNotificationHandler(writer.handle)
	defer msignal.ResetDefaultNodeNotificationHandler()

	channels, err := openChannels(ctx, cCtx, env)
	if err != nil {
		return err
	}

	opts := []connection.Option{connection.WithLogger(logger)}
	if cCtx.Bool(NTPFlag) || config.TimeSource.Enabled {
		ts := timesource.New(config.TimeSource, logger)
		ts.Start()
		defer ts.Stop()
		logger.Info("using ntp corrected time", zap.Duration("offset", ts.Offset()))
		opts = append(opts, connection.WithClock(ts.Now))
	}

	p := env.persistence()
	manager := connection.NewManager(p, channels, config.Connection, opts...)
	defer manager.Dispose()
	defer connection.ForwardSignals(manager)()

	resolver, err := rpc.NewResolver(config.RPC, env.keys, rpc.WithLogger(logger))
	if err != nil {
		return err
	}
	defer resolver.Close()
	resolver.WatchEndpoints(ctx)

	manager.Init(ctx)
	restoreSession(manager, p.GetConnectionState())

	metricsAddr := cCtx.String(MetricsAddrFlag)
	if metricsAddr == "" {
		metricsAddr = config.MetricsAddr
	}
	if metricsAddr != "" {
		server := metrics.NewMetricsServer(metricsAddr)
		go server.Listen()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	if interval := cCtx.Duration(PollFlag); interval > 0 {
		subs := subscriptions.NewSubscriptions(interval)
		if _, err := subs.Create(ctx, "eth", "blockNumber", subscriptions.NewBlockMonitor(resolver.Client()), nil); err != nil {
			return err
		}
		defer func() {
			if err := subs.RemoveAll(); err != nil {
				logger.Warn("failed to stop subscriptions", zap.Error(err))
			}
		}()
	}

	logger.Info("walletd running",
		zap.Uint64("chainID", resolver.ChainID()),
		zap.Int("channels", len(channels)),
		zap.String("metrics", metricsAddr))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// openChannels returns the storage watch channel for the file store and the
// Redis channel when a URL is configured. The manager owns them afterwards.
func openChannels(ctx context.Context, cCtx *cli.Context, env *environment) ([]crosstab.Channel, error) {
	var channels []crosstab.Channel

	if env.stateDir != "" && env.config.Sync.WatchStorage {
		watcher, err := storage.NewWatcher(env.stateDir, env.config.Sync.PollInterval.Duration, env.logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, crosstab.NewStorageChannel(watcher))
	}

	redisURL := cCtx.String(RedisURLFlag)
	if redisURL == "" {
		redisURL = env.config.Sync.RedisURL
	}
	if redisURL != "" {
		ch, err := crosstab.DialRedisChannel(ctx, redisURL, env.config.Sync.RedisChannel, env.logger)
		if err != nil {
			for _, c := range channels {
				c.Close()
			}
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, nil
}

// restoreSession reconnects the persisted session when the user allows it.
func restoreSession(manager *connection.Manager, record *persistence.ConnectionRecord) {
	if record == nil || !manager.ShouldReconnect() {
		return
	}
	manager.UpdateReconnecting(1)
	manager.UpdateConnecting(true, connection.SourceAuto)
	manager.UpdateConnection(record.Address, record.ChainID, record.ConnectorID, connection.SourceAuto)
}
