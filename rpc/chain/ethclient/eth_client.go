package ethclient

//go:generate mockgen -package=mock_ethclient -destination=mock/eth_client.go . Caller

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/status-im/status-connect/params"
)

type CallClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type BatchCallClient interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Interface for rpc.Client
type RPCClientInterface interface {
	CallClient
	BatchCallClient
}

// Caller is the transport of a single endpoint.
type Caller interface {
	RPCClientInterface
	Close()
}

// EthClient is the transport of one named endpoint. Calls are paced by the
// tier's requests per second and batched when the tier allows it.
type EthClient struct {
	name      string
	tier      string
	rpcClient Caller
	limited   *RPSLimitedEthClient
	batcher   *Batcher
	next      RPCClientInterface
}

func NewEthClient(rpcClient Caller, name string, tier string, cfg params.TierConfig) *EthClient {
	c := &EthClient{
		name:      name,
		tier:      tier,
		rpcClient: rpcClient,
		next:      rpcClient,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limited = NewRPSLimitedEthClient(c.next, cfg.RequestsPerSecond)
		c.next = c.limited
	}
	if cfg.BatchSize > 1 {
		c.batcher = NewBatcher(c.next, cfg.BatchSize, cfg.BatchWait.Duration, cfg.Timeout.Duration)
	}
	return c
}

// Dial connects lazily to url over HTTP(S) or WS.
func Dial(ctx context.Context, url string, name string, tier string, cfg params.TierConfig, httpClient *http.Client) (*EthClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout.Duration + time.Second}
	}
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return NewEthClient(rpcClient, name, tier, cfg), nil
}

func (c *EthClient) GetName() string {
	return c.name
}

func (c *EthClient) Tier() string {
	return c.tier
}

func (c *EthClient) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.batcher != nil {
		return c.batcher.CallContext(ctx, result, method, args...)
	}
	return c.next.CallContext(ctx, result, method, args...)
}

func (c *EthClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	return c.next.BatchCallContext(ctx, b)
}

func (c *EthClient) Close() {
	if c.batcher != nil {
		c.batcher.Close()
	}
	c.rpcClient.Close()
}
