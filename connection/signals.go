package connection

import (
	"github.com/status-im/status-connect/signal"
)

// ForwardSignals sends every wallet-event of m as a wallet.connection signal.
func ForwardSignals(m *Manager) (unsubscribe func()) {
	return m.On(EventWallet, func(ev WalletEvent) {
		signal.SendWalletConnectionEvent(signal.WalletConnectionSignal{
			Type:      string(ev.Type),
			State:     ev.State,
			Timestamp: ev.Timestamp,
			Source:    string(ev.Source),
			Metadata:  ev.Metadata,
		})
	})
}
