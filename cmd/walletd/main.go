package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	DataDirFlag  = "data-dir"
	ConfigFlag   = "config"
	LogLevelFlag = "log-level"
	LogFileFlag  = "log-file"
	StoreFlag    = "store"
	EnvFileFlag  = "env-file"

	AddressFlag       = "address"
	ConnectorFlag     = "connector"
	ChainIDFlag       = "chain-id"
	AutoReconnectFlag = "auto-reconnect"
	MethodFlag        = "method"
	ParamsFlag        = "params"
	RedisURLFlag      = "redis-url"
	MetricsAddrFlag   = "metrics-addr"
	PollFlag          = "poll"
	NTPFlag           = "ntp"

	storeFile    = "file"
	storeLevelDB = "leveldb"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "walletd",
		Usage:  "Wallet session persistence and resilient Base RPC transport",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  DataDirFlag,
				Usage: "Directory holding the durable wallet state",
			},
			&cli.StringFlag{
				Name:    ConfigFlag,
				Aliases: []string{"c"},
				Usage:   "JSON config file",
			},
			&cli.StringFlag{
				Name:  LogLevelFlag,
				Usage: "Log level: ERROR, WARN, INFO or DEBUG",
			},
			&cli.StringFlag{
				Name:  LogFileFlag,
				Usage: "Write logs to a rotated file instead of stderr",
			},
			&cli.StringFlag{
				Name:  StoreFlag,
				Value: storeFile,
				Usage: "Durable store backend: file (shareable between processes) or leveldb",
			},
			&cli.StringFlag{
				Name:  EnvFileFlag,
				Value: ".env",
				Usage: "dotenv file with provider keys, skipped when missing",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Print the persisted connection, preferences and reconnect decision",
				Action: status,
			},
			{
				Name:  "connect",
				Usage: "Record a user connection",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: AddressFlag, Required: true, Usage: "Wallet address"},
					&cli.StringFlag{Name: ConnectorFlag, Value: "injected", Usage: "Connector id"},
					&cli.Uint64Flag{Name: ChainIDFlag, Usage: "Chain id, defaults to the configured network"},
				},
				Action: connect,
			},
			{
				Name:   "disconnect",
				Usage:  "Record a user disconnection",
				Action: disconnect,
			},
			{
				Name:   "refresh",
				Usage:  "Extend the lifetime of the persisted connection",
				Action: refresh,
			},
			{
				Name:  "prefs",
				Usage: "Update the stored preferences",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: AutoReconnectFlag, Value: true, Usage: "Restore the session automatically"},
					&cli.StringFlag{Name: ConnectorFlag, Usage: "Preferred connector id"},
					&cli.Uint64Flag{Name: ChainIDFlag, Usage: "Preferred chain id"},
				},
				Action: prefs,
			},
			{
				Name:  "call",
				Usage: "Run a JSON-RPC call through the fallback transport",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: MethodFlag, Required: true, Usage: "JSON-RPC method"},
					&cli.StringFlag{Name: ParamsFlag, Value: "[]", Usage: "JSON array of parameters"},
				},
				Action: call,
			},
			{
				Name:  "serve",
				Usage: "Run the state manager, the transport and the metrics server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: RedisURLFlag, Usage: "Broadcast state changes over Redis pub/sub"},
					&cli.StringFlag{Name: MetricsAddrFlag, Usage: "Serve /metrics on this address"},
					&cli.DurationFlag{Name: PollFlag, Usage: "Poll the latest block at this interval, 0 disables"},
					&cli.BoolFlag{Name: NTPFlag, Usage: "Stamp state broadcasts with NTP corrected time"},
				},
				Action: serve,
			},
		},
	}
}
