package ethclient

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPSLimitedEthClient paces calls to a requests per second budget. A batch
// counts as one request.
type RPSLimitedEthClient struct {
	client  RPCClientInterface
	limiter *rate.Limiter
}

func NewRPSLimitedEthClient(client RPCClientInterface, rps float64) *RPSLimitedEthClient {
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return &RPSLimitedEthClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *RPSLimitedEthClient) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.client.CallContext(ctx, result, method, args...)
}

func (c *RPSLimitedEthClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.client.BatchCallContext(ctx, b)
}
