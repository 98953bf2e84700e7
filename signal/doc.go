// Package signal implements the event signalling interface between walletd
// and an embedding application. Events are encoded as JSON envelopes and
// handed to the registered node notification handler.
package signal
