package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/connection"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/rpc"
	"github.com/status-im/status-connect/rpc/network"
)

var errInvalidAddress = errors.New("invalid wallet address")

type statusReport struct {
	Connection        *persistence.ConnectionRecord `json:"connection"`
	ShouldBeConnected bool                          `json:"shouldBeConnected"`
	ShouldReconnect   bool                          `json:"shouldReconnect"`
	Preferences       persistence.Preferences       `json:"preferences"`
	LastDisconnect    *int64                        `json:"lastDisconnect"`
}

func status(cCtx *cli.Context) error {
	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	p := env.persistence()
	manager := connection.NewManager(p, nil, env.config.Connection, connection.WithLogger(env.logger))
	defer manager.Dispose()

	report := statusReport{
		Connection:        p.GetConnectionState(),
		ShouldBeConnected: p.ShouldBeConnected(),
		ShouldReconnect:   manager.ShouldReconnect(),
		Preferences:       p.GetPreferences(),
	}
	if last, ok := p.GetLastDisconnect(); ok {
		report.LastDisconnect = &last
	}
	return printJSON(cCtx, report)
}

func connect(cCtx *cli.Context) error {
	address := cCtx.String(AddressFlag)
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %s", errInvalidAddress, address)
	}

	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	chainID := cCtx.Uint64(ChainIDFlag)
	if chainID == 0 {
		chainID = network.SelectChainID(env.config.RPC.Embedded, env.config.RPC.Network == params.NetworkTestnet)
	}

	manager := newManager(env)
	defer manager.Dispose()

	manager.UpdateConnecting(true, connection.SourceUser)
	manager.UpdateConnection(common.HexToAddress(address).Hex(), chainID, cCtx.String(ConnectorFlag), connection.SourceUser)
	return printJSON(cCtx, manager.State())
}

func disconnect(cCtx *cli.Context) error {
	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	manager := newManager(env)
	defer manager.Dispose()

	manager.UpdateDisconnection(connection.SourceUser, nil)
	return printJSON(cCtx, manager.State())
}

func refresh(cCtx *cli.Context) error {
	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	p := env.persistence()
	p.RefreshConnectionTimestamp()
	return printJSON(cCtx, p.GetConnectionState())
}

func prefs(cCtx *cli.Context) error {
	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	p := env.persistence()
	current := p.GetPreferences()
	if cCtx.IsSet(AutoReconnectFlag) {
		current.AutoReconnect = cCtx.Bool(AutoReconnectFlag)
	}
	if cCtx.IsSet(ConnectorFlag) {
		current.PreferredConnector = cCtx.String(ConnectorFlag)
	}
	if cCtx.IsSet(ChainIDFlag) {
		current.PreferredChainID = cCtx.Uint64(ChainIDFlag)
	}
	p.SavePreferences(current)
	return printJSON(cCtx, p.GetPreferences())
}

func call(cCtx *cli.Context) error {
	var args []interface{}
	if err := json.Unmarshal([]byte(cCtx.String(ParamsFlag)), &args); err != nil {
		return fmt.Errorf("params must be a JSON array: %w", err)
	}

	env, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer env.Close()

	resolver, err := rpc.NewResolver(env.config.RPC, env.keys, rpc.WithLogger(env.logger))
	if err != nil {
		return err
	}
	defer resolver.Close()

	method := cCtx.String(MethodFlag)
	var result json.RawMessage
	if err := resolver.CallContext(cCtx.Context, &result, method, args...); err != nil {
		env.logger.Warn("call failed", zap.String("method", method), zap.Error(err))
		return err
	}
	return printJSON(cCtx, result)
}
