package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/status-im/status-connect/connection"
	"github.com/status-im/status-connect/connection/persistence"
	"github.com/status-im/status-connect/rpc/network"
)

const testAddress = "0x00000000000000000000000000000000000000aa"

func run(t *testing.T, dataDir string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	global := []string{
		"walletd",
		"--data-dir", dataDir,
		"--env-file", filepath.Join(dataDir, "missing.env"),
		"--log-level", "ERROR",
	}
	err := newApp(&out).Run(append(global, args...))
	return out.Bytes(), err
}

func readStatus(t *testing.T, dataDir string, args ...string) statusReport {
	out, err := run(t, dataDir, append(args, "status")...)
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal(out, &report))
	return report
}

func TestConnectStatusDisconnect(t *testing.T) {
	dir := t.TempDir()

	report := readStatus(t, dir)
	require.Nil(t, report.Connection)
	require.False(t, report.ShouldBeConnected)
	require.Nil(t, report.LastDisconnect)

	out, err := run(t, dir, "connect", "--address", testAddress, "--connector", "coinbaseWallet")
	require.NoError(t, err)
	var state connection.WalletState
	require.NoError(t, json.Unmarshal(out, &state))
	require.True(t, state.IsConnected)
	require.Equal(t, network.BaseMainnetChainID, state.ChainID)

	report = readStatus(t, dir)
	require.NotNil(t, report.Connection)
	require.Equal(t, "coinbaseWallet", report.Connection.ConnectorID)
	require.True(t, report.ShouldBeConnected)
	require.True(t, report.ShouldReconnect)

	_, err = run(t, dir, "disconnect")
	require.NoError(t, err)

	report = readStatus(t, dir)
	require.Nil(t, report.Connection)
	require.False(t, report.ShouldBeConnected)
	require.NotNil(t, report.LastDisconnect)
}

func TestConnectRejectsInvalidAddress(t *testing.T) {
	_, err := run(t, t.TempDir(), "connect", "--address", "not-an-address")
	require.ErrorIs(t, err, errInvalidAddress)
}

func TestPreferencesGateReconnect(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "connect", "--address", testAddress, "--chain-id", "84532")
	require.NoError(t, err)

	out, err := run(t, dir, "prefs", "--auto-reconnect=false", "--connector", "injected")
	require.NoError(t, err)
	var prefs persistence.Preferences
	require.NoError(t, json.Unmarshal(out, &prefs))
	require.False(t, prefs.AutoReconnect)
	require.Equal(t, "injected", prefs.PreferredConnector)

	report := readStatus(t, dir)
	require.True(t, report.ShouldBeConnected)
	require.False(t, report.ShouldReconnect)
	require.Equal(t, uint64(84532), report.Connection.ChainID)
}

func TestRefreshKeepsRecord(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "refresh")
	require.NoError(t, err)
	require.JSONEq(t, "null", string(out))

	_, err = run(t, dir, "connect", "--address", testAddress)
	require.NoError(t, err)

	out, err = run(t, dir, "refresh")
	require.NoError(t, err)
	var record persistence.ConnectionRecord
	require.NoError(t, json.Unmarshal(out, &record))
	require.Equal(t, "injected", record.ConnectorID)
}

func TestLevelDBStore(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "--store", "leveldb", "connect", "--address", testAddress)
	require.NoError(t, err)

	report := readStatus(t, dir, "--store", "leveldb")
	require.NotNil(t, report.Connection)

	// the file store does not see leveldb state
	require.Nil(t, readStatus(t, dir).Connection)

	_, err = run(t, dir, "--store", "memcache", "status")
	require.Error(t, err)
}

func TestCallAnswersChainIDLocally(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "call", "--method", "eth_chainId")
	require.NoError(t, err)
	require.JSONEq(t, `"0x2105"`, string(out))

	_, err = run(t, dir, "call", "--method", "eth_chainId", "--params", "{}")
	require.Error(t, err)
}
