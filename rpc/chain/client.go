package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/status-im/status-connect/circuitbreaker"
	"github.com/status-im/status-connect/healthmanager"
	"github.com/status-im/status-connect/healthmanager/provider_errors"
	"github.com/status-im/status-connect/healthmanager/rpcstatus"
	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/rpc/chain/ethclient"
	"github.com/status-im/status-connect/rpc/network"
	"github.com/status-im/status-connect/signal"
)

var (
	// ErrRateLimited is returned when every endpoint was skipped by the rate limiter.
	ErrRateLimited = errors.New("all endpoints are rate limited")
	// ErrAllEndpointsFailed wraps the causes of a call every endpoint failed.
	ErrAllEndpointsFailed = errors.New("all endpoints failed")
)

const (
	StatusUp   = "up"
	StatusDown = "down"

	outcomeSuccess     = "success"
	outcomeError       = "error"
	outcomeRateLimited = "rate_limited"
)

// uncachedMethods change state or depend on the caller, they are neither
// cached nor coalesced.
var uncachedMethods = map[string]bool{
	"eth_sendRawTransaction": true,
	"eth_sendTransaction":    true,
	"eth_sign":               true,
	"eth_signTransaction":    true,
	"eth_signTypedData_v4":   true,
	"eth_subscribe":          true,
	"eth_unsubscribe":        true,
	"eth_newFilter":          true,
	"eth_newBlockFilter":     true,
	"personal_sign":          true,
}

func cacheable(method string) bool {
	return !uncachedMethods[method] && !strings.HasPrefix(method, "personal_")
}

// Transport is the client of one endpoint with its tier configuration.
type Transport struct {
	Endpoint network.Endpoint
	Caller   ethclient.Caller
	Config   params.TierConfig
}

type Option func(*ClientWithFallback)

func WithLogger(logger *zap.Logger) Option {
	return func(c *ClientWithFallback) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ClientWithFallback) {
		c.now = now
	}
}

// WithMonitor shares an endpoint monitor between clients.
func WithMonitor(monitor *healthmanager.EndpointMonitor) Option {
	return func(c *ClientWithFallback) {
		c.monitor = monitor
	}
}

// WithRetryInterval sets the first retry delay of an endpoint attempt.
func WithRetryInterval(d time.Duration) Option {
	return func(c *ClientWithFallback) {
		c.retryInterval = d
	}
}

// ClientWithFallback sends each call to the best ranked endpoint that is
// not rate limited, falling back to the next ones on failure.
type ClientWithFallback struct {
	chainID uint64

	transports    []Transport
	byName        map[string]Transport
	cb            *circuitbreaker.CircuitBreaker
	circuitPrefix string

	limiter *RateLimiter
	monitor *healthmanager.EndpointMonitor
	ranker  *Ranker
	cache   *RequestCache

	logger        *zap.Logger
	now           func() time.Time
	retryInterval time.Duration

	WalletNotifier func(chainID uint64, message string)

	isConnected             bool
	consecutiveFailureCount int
	isConnectedLock         sync.RWMutex
	lastCheckedAt           int64

	closeOnce sync.Once
}

func NewClient(chainID uint64, transports []Transport, cfg params.RPCConfig, opts ...Option) *ClientWithFallback {
	c := &ClientWithFallback{
		chainID:       chainID,
		transports:    transports,
		byName:        make(map[string]Transport, len(transports)),
		cb:            circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{}),
		circuitPrefix: fmt.Sprintf("ethClient_%d_%s", chainID, uuid.NewString()),
		now:           time.Now,
		retryInterval: 100 * time.Millisecond,
		isConnected:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logutils.OrDefault(c.logger).Named("rpc-client").With(zap.Uint64("chainID", chainID))
	if c.monitor == nil {
		c.monitor = healthmanager.NewEndpointMonitor(cfg.Health, healthmanager.WithClock(c.now))
	}

	ranking := cfg.Ranking
	if cfg.Aggressive {
		ranking.LatencyWeight, ranking.StabilityWeight = 0.8, 0.2
	}
	c.ranker = NewRanker(ranking, c.now)
	c.limiter = NewRateLimiter(cfg.RateLimit, nil, c.now)
	c.cache = NewRequestCache(cfg.Cache)
	c.lastCheckedAt = c.now().Unix()

	for _, t := range transports {
		c.byName[t.Endpoint.Name] = t
	}
	return c
}

// Close stops the cache and closes every endpoint transport. It is idempotent.
func (c *ClientWithFallback) Close() {
	c.closeOnce.Do(func() {
		c.cache.Stop()
		for _, t := range c.transports {
			t.Caller.Close()
		}
	})
}

func (c *ClientWithFallback) Endpoints() []network.Endpoint {
	res := make([]network.Endpoint, 0, len(c.transports))
	for _, t := range c.transports {
		res = append(res, t.Endpoint)
	}
	return res
}

// RankedEndpoints returns the endpoints in the order the next call tries them.
func (c *ClientWithFallback) RankedEndpoints() []network.Endpoint {
	return c.ranker.Rank(c.Endpoints(), c.monitor.IsHealthy)
}

// BestEndpoint returns the healthy endpoint with the lowest response time.
func (c *ClientWithFallback) BestEndpoint() string {
	names := make([]string, 0, len(c.transports))
	for _, t := range c.transports {
		names = append(names, t.Endpoint.Name)
	}
	best := c.monitor.BestEndpoints(names)
	if len(best) == 0 {
		return ""
	}
	return best[0]
}

func (c *ClientWithFallback) Monitor() *healthmanager.EndpointMonitor {
	return c.monitor
}

func (c *ClientWithFallback) Limiter() *RateLimiter {
	return c.limiter
}

func (c *ClientWithFallback) IsConnected() bool {
	c.isConnectedLock.RLock()
	defer c.isConnectedLock.RUnlock()
	return c.isConnected
}

func (c *ClientWithFallback) LastCheckedAt() int64 {
	c.isConnectedLock.RLock()
	defer c.isConnectedLock.RUnlock()
	return c.lastCheckedAt
}

func (c *ClientWithFallback) setIsConnected(value bool) {
	c.isConnectedLock.Lock()
	c.lastCheckedAt = c.now().Unix()
	var status string
	if !value {
		c.consecutiveFailureCount += 1
		if c.consecutiveFailureCount > 1 && c.isConnected {
			c.isConnected = false
			status = StatusDown
		}
	} else {
		c.consecutiveFailureCount = 0
		if !c.isConnected {
			c.isConnected = true
			status = StatusUp
		}
	}
	c.isConnectedLock.Unlock()

	if status == "" {
		return
	}
	c.logger.Info("rpc connection status changed", zap.String("status", status))
	signal.SendRPCStatusChanged(c.chainID, status)
	if c.WalletNotifier != nil {
		c.WalletNotifier(c.chainID, status)
	}
}

// stopsFallback reports errors caused by the request itself, every
// endpoint would answer the same.
func stopsFallback(err error) bool {
	return provider_errors.IsPropagatedError(err) || provider_errors.IsMethodNotFoundError(err)
}

func (c *ClientWithFallback) circuitName(endpoint string) string {
	return c.circuitPrefix + "_" + endpoint
}

func circuitConfig(cfg params.TierConfig) circuitbreaker.Config {
	attempts := cfg.RetryCount + 1
	// room for every attempt plus the waits between them
	timeout := cfg.Timeout.Duration*time.Duration(attempts) + time.Duration(attempts)*time.Second
	return circuitbreaker.Config{
		Timeout:                int(timeout.Milliseconds()),
		MaxConcurrentRequests:  100,
		RequestVolumeThreshold: 20,
		SleepWindow:            30000,
		ErrorPercentThreshold:  50,
	}
}

func (c *ClientWithFallback) retryPolicy(ctx context.Context, cfg params.TierConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.RetryCount)), ctx)
}

// attempt runs fn against one endpoint with the tier retries and per attempt timeout.
func (c *ClientWithFallback) attempt(ctx context.Context, t Transport, fn func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, t.Config.Timeout.Duration)
		defer cancel()
		err := fn(attemptCtx)
		if err != nil && (stopsFallback(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}, c.retryPolicy(ctx, t.Config))
}

func (c *ClientWithFallback) record(ctx context.Context, name string, d time.Duration, err error) {
	if err != nil && ctx.Err() != nil {
		// the caller gave up, this says nothing about the endpoint
		return
	}

	c.monitor.RecordCall(rpcstatus.RpcProviderCallStatus{
		Name:      name,
		Timestamp: c.now(),
		Err:       err,
	})

	if err == nil || stopsFallback(err) {
		c.monitor.RecordSuccess(name, d)
		c.limiter.RecordSuccess(name)
		c.ranker.Record(name, d, true)
		metrics.RPCCall(name, outcomeSuccess, d)
		return
	}

	c.monitor.RecordError(name)
	c.limiter.RecordError(name)
	c.ranker.Record(name, d, false)
	metrics.RPCCall(name, outcomeError, d)
	c.logger.Debug("endpoint call failed", zap.String("endpoint", name), zap.Duration("duration", d), zap.Error(err))
}

// execute tries the ranked endpoints in order until call succeeds or fails
// with an error caused by the request.
func (c *ClientWithFallback) execute(ctx context.Context, call func(ctx context.Context, t Transport) (interface{}, error)) (interface{}, error) {
	if len(c.transports) == 0 {
		return nil, ErrAllEndpointsFailed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		final error
	)
	cmd := circuitbreaker.NewCommand(ctx, nil)
	ranked := c.RankedEndpoints()
	for _, e := range ranked {
		t := c.byName[e.Name]
		name := e.Name
		f := circuitbreaker.NewFunctor(func() ([]any, error) {
			if err := ctx.Err(); err != nil {
				cmd.Cancel()
				return nil, err
			}
			start := time.Now()
			var res interface{}
			err := c.attempt(ctx, t, func(ctx context.Context) error {
				var err error
				res, err = call(ctx, t)
				return err
			})
			c.record(ctx, name, time.Since(start), err)
			if err != nil && stopsFallback(err) {
				mu.Lock()
				final = err
				mu.Unlock()
				cmd.Cancel()
			}
			return []any{res}, err
		}, c.circuitName(name)).
			WithConfig(circuitConfig(t.Config)).
			WithGate(func() bool {
				if c.limiter.CheckRateLimit(name) {
					return true
				}
				metrics.RPCCall(name, outcomeRateLimited, 0)
				return false
			})
		cmd.Add(f)
	}

	result := c.cb.Execute(cmd)
	statuses := result.FunctorCallStatuses()

	if result.Error() == nil && len(statuses) > 0 {
		c.setIsConnected(true)
		if len(statuses) > 1 || statuses[0].Name != c.circuitName(ranked[0].Name) {
			metrics.RPCFallback()
		}
		return result.Result()[0], nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu.Lock()
	propagated := final
	mu.Unlock()
	if propagated != nil {
		c.setIsConnected(true)
		return nil, propagated
	}

	if len(statuses) == 0 {
		c.logger.Warn("all endpoints are rate limited", zap.Int("endpoints", len(ranked)))
		return nil, ErrRateLimited
	}

	causes := make([]error, 0, len(statuses))
	for _, s := range statuses {
		causes = append(causes, fmt.Errorf("%s: %w", strings.TrimPrefix(s.Name, c.circuitPrefix+"_"), s.Err))
	}
	c.setIsConnected(false)
	return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, multierr.Combine(causes...))
}

func (c *ClientWithFallback) callRaw(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	res, err := c.execute(ctx, func(ctx context.Context, t Transport) (interface{}, error) {
		var raw json.RawMessage
		if err := t.Caller.CallContext(ctx, &raw, method, args...); err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}

// CallContext performs a JSON-RPC call. Identical read calls are served from
// the request cache or share an in flight execution.
func (c *ClientWithFallback) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var (
		raw json.RawMessage
		err error
	)
	if cacheable(method) {
		raw, err = c.cache.GetCachedOrExecute(ctx, method, args, func(ctx context.Context) (json.RawMessage, error) {
			return c.callRaw(ctx, method, args...)
		})
	} else {
		raw, err = c.callRaw(ctx, method, args...)
	}
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, result)
}

// BatchCallContext sends the batch to the ranked endpoints. Batches are not
// cached. Per element errors are reported in the elements.
func (c *ClientWithFallback) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	res, err := c.execute(ctx, func(ctx context.Context, t Transport) (interface{}, error) {
		elems := make([]rpc.BatchElem, len(b))
		raws := make([]json.RawMessage, len(b))
		for i := range b {
			elems[i] = rpc.BatchElem{Method: b[i].Method, Args: b[i].Args, Result: &raws[i]}
		}
		if err := t.Caller.BatchCallContext(ctx, elems); err != nil {
			return nil, err
		}
		return elems, nil
	})
	if err != nil {
		return err
	}

	elems := res.([]rpc.BatchElem)
	for i := range b {
		b[i].Error = elems[i].Error
		if b[i].Error != nil || b[i].Result == nil {
			continue
		}
		raw := *elems[i].Result.(*json.RawMessage)
		if len(raw) == 0 {
			continue
		}
		b[i].Error = json.Unmarshal(raw, b[i].Result)
	}
	return nil
}

func (c *ClientWithFallback) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (c *ClientWithFallback) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *ClientWithFallback) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var result hexutil.Big
	if err := c.CallContext(ctx, &result, "eth_getBalance", account, toBlockNumArg(blockNumber)); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (c *ClientWithFallback) GasPrice(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := c.CallContext(ctx, &result, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	return rpc.BlockNumber(number.Int64()).String()
}
