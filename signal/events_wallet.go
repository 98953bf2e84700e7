package signal

type SignalType string

const (
	Wallet = SignalType("wallet")

	// WalletConnectionPrefix prefixes wallet connection lifecycle signals,
	// e.g. "wallet.connection.connected".
	WalletConnectionPrefix = "wallet.connection."

	// RPCEndpointStatusChanged is sent when the transport goes up or down.
	RPCEndpointStatusChanged = SignalType("wallet.rpc.status-changed")

	// RPCProvidersStatusChanged is sent when an endpoint turns healthy or unhealthy.
	RPCProvidersStatusChanged = SignalType("wallet.rpc.providers-changed")
)

// WalletConnectionSignal mirrors a wallet connection event.
type WalletConnectionSignal struct {
	Type      string                 `json:"type"`
	State     interface{}            `json:"state"`
	Timestamp int64                  `json:"timestamp"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RPCStatusSignal reports the availability of a chain transport.
type RPCStatusSignal struct {
	ChainID uint64 `json:"chainId"`
	Status  string `json:"status"`
}

// SendWalletEvent sends a wallet signal of the given type.
func SendWalletEvent(signalType SignalType, event interface{}) {
	send(string(signalType), event)
}

// SendWalletConnectionEvent sends "wallet.connection.<event type>".
func SendWalletConnectionEvent(event WalletConnectionSignal) {
	send(WalletConnectionPrefix+event.Type, event)
}

// RPCProvidersSignal lists the status of every endpoint of a chain.
type RPCProvidersSignal struct {
	ChainID   uint64      `json:"chainId"`
	Providers interface{} `json:"providers"`
}

func SendRPCStatusChanged(chainID uint64, status string) {
	SendWalletEvent(RPCEndpointStatusChanged, RPCStatusSignal{ChainID: chainID, Status: status})
}

func SendRPCProvidersChanged(chainID uint64, providers interface{}) {
	SendWalletEvent(RPCProvidersStatusChanged, RPCProvidersSignal{ChainID: chainID, Providers: providers})
}
