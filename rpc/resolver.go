package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/rpc/chain"
	"github.com/status-im/status-connect/rpc/chain/ethclient"
	"github.com/status-im/status-connect/rpc/network"
	"github.com/status-im/status-connect/signal"
)

const (
	// DefaultCallTimeout is a default timeout for an RPC call
	DefaultCallTimeout = time.Minute

	dialTimeout = 10 * time.Second
)

// List of RPC resolver errors.
var (
	ErrNoEndpoints = errors.New("no RPC endpoints configured for the selected network")
)

// Handler defines handler for RPC methods.
type Handler func(context.Context, ...interface{}) (interface{}, error)

type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithNetworks replaces the built-in network definitions.
func WithNetworks(networks []network.Network) Option {
	return func(r *Resolver) {
		r.networks = networks
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithClientOptions passes options to the fallback client.
func WithClientOptions(opts ...chain.Option) Option {
	return func(r *Resolver) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// Resolver builds the transports of exactly one chain, picked once at
// construction. Calls go to locally registered handlers first and to the
// fallback client otherwise.
type Resolver struct {
	chainID uint64
	network *network.Network
	client  *chain.ClientWithFallback

	networks   []network.Network
	httpClient *http.Client
	clientOpts []chain.Option
	logger     *zap.Logger

	handlersMx sync.RWMutex       // mx guards handlers
	handlers   map[string]Handler // locally registered handlers
}

// NewResolver selects the chain from the embedded flag and the configured
// network, then dials every endpoint of that chain in tier order.
// ErrNoEndpoints is returned when nothing can serve the chain.
func NewResolver(cfg params.RPCConfig, keys params.APIKeys, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logutils.OrDefault(r.logger).Named("rpc-resolver")
	if r.networks == nil {
		r.networks = network.DefaultNetworks(keys)
	}

	manager := network.NewManager()
	if err := manager.Init(r.networks); err != nil {
		return nil, fmt.Errorf("init networks: %w", err)
	}
	for _, e := range cfg.Endpoints {
		endpoint := network.Endpoint{Name: e.Name, URL: e.URL, Tier: network.Tier(e.Tier)}
		if err := manager.AddEndpoint(e.ChainID, endpoint); err != nil {
			r.logger.Warn("skipping configured endpoint", zap.String("name", e.Name), zap.Error(err))
		}
	}

	r.chainID = network.SelectChainID(cfg.Embedded, cfg.Network == params.NetworkTestnet)
	r.network = manager.Find(r.chainID)
	if r.network == nil || len(r.network.Endpoints) == 0 {
		r.logger.Error("no endpoints for network", zap.Uint64("chainID", r.chainID))
		return nil, ErrNoEndpoints
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	transports := make([]chain.Transport, 0, len(r.network.Endpoints))
	for _, endpoint := range r.network.Endpoints {
		tierCfg := cfg.Tiers.ForTier(string(endpoint.Tier))
		caller, err := ethclient.Dial(ctx, endpoint.URL, endpoint.Name, string(endpoint.Tier), tierCfg, r.httpClient)
		if err != nil {
			r.logger.Warn("failed to dial endpoint", zap.String("name", endpoint.Name), zap.Error(err))
			continue
		}
		transports = append(transports, chain.Transport{
			Endpoint: endpoint,
			Caller:   caller,
			Config:   tierCfg,
		})
	}
	if len(transports) == 0 {
		r.logger.Error("no endpoint could be dialed", zap.Uint64("chainID", r.chainID))
		return nil, ErrNoEndpoints
	}

	clientOpts := append([]chain.Option{chain.WithLogger(r.logger)}, r.clientOpts...)
	r.client = chain.NewClient(r.chainID, transports, cfg, clientOpts...)

	r.RegisterHandler("eth_chainId", func(context.Context, ...interface{}) (interface{}, error) {
		return hexutil.Uint64(r.chainID), nil
	})

	r.logger.Info("rpc resolver ready",
		zap.Uint64("chainID", r.chainID),
		zap.String("network", r.network.ChainName),
		zap.Int("endpoints", len(transports)))
	return r, nil
}

func (r *Resolver) Client() *chain.ClientWithFallback {
	return r.client
}

func (r *Resolver) ChainID() uint64 {
	return r.chainID
}

// Network returns a copy of the selected network.
func (r *Resolver) Network() network.Network {
	cp := *r.network
	cp.Endpoints = append([]network.Endpoint(nil), r.network.Endpoints...)
	return cp
}

func (r *Resolver) Close() {
	r.client.Close()
}

// WatchEndpoints sends the status of every provider each time an endpoint
// turns healthy or unhealthy, until ctx is done. The subscription is in
// place when WatchEndpoints returns.
func (r *Resolver) WatchEndpoints(ctx context.Context) {
	monitor := r.client.Monitor()
	ch := monitor.Subscribe()
	go func() {
		defer monitor.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				statuses := monitor.Statuses()
				down := 0
				for _, e := range r.client.Endpoints() {
					if !monitor.IsHealthy(e.Name) {
						down++
					}
				}
				r.logger.Info("rpc endpoint health changed",
					zap.Uint64("chainID", r.chainID),
					zap.Int("unhealthy", down),
					zap.Int("providers", len(statuses)))
				signal.SendRPCProvidersChanged(r.chainID, statuses)
			}
		}
	}()
}

// Call performs a JSON-RPC call with the given arguments and unmarshals into
// result if no error occurred.
//
// The result must be a pointer so that package json can unmarshal into it. You
// can also pass nil, in which case the result is ignored.
func (r *Resolver) Call(result interface{}, method string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCallTimeout)
	defer cancel()
	return r.CallContext(ctx, result, method, args...)
}

// CallContext performs a JSON-RPC call with the given arguments. If there are
// any local handlers registered for this call, they will handle it.
func (r *Resolver) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if handler, ok := r.handler(method); ok {
		return r.callMethod(ctx, result, handler, args...)
	}
	return r.client.CallContext(ctx, result, method, args...)
}

// RegisterHandler registers local handler for specific RPC method.
//
// If method is registered, it will be executed with given handler and
// never routed to the endpoints.
func (r *Resolver) RegisterHandler(method string, handler Handler) {
	r.handlersMx.Lock()
	defer r.handlersMx.Unlock()

	r.handlers[method] = handler
}

// callMethod calls registered RPC handler with given args and pointer to result.
func (r *Resolver) callMethod(ctx context.Context, result interface{}, handler Handler, args ...interface{}) error {
	response, err := handler(ctx, args...)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	return setResultFromRPCResponse(result, response)
}

func (r *Resolver) handler(method string) (Handler, bool) {
	r.handlersMx.RLock()
	defer r.handlersMx.RUnlock()
	handler, ok := r.handlers[method]
	return handler, ok
}

// setResultFromRPCResponse tries to set result value from response using reflection
// as concrete types are unknown.
func setResultFromRPCResponse(result, response interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid result type: %s", r)
		}
	}()

	responseValue := reflect.ValueOf(response)

	// Raw results get the marshalled response. Anything else must have the
	// response's exact type.
	switch reflect.ValueOf(result).Elem().Type() {
	case reflect.TypeOf(json.RawMessage{}), reflect.TypeOf([]byte{}):
		data, err := json.Marshal(response)
		if err != nil {
			return err
		}

		responseValue = reflect.ValueOf(data)
	}

	value := reflect.ValueOf(result).Elem()
	if !value.CanSet() {
		return errors.New("can't assign value to result")
	}
	value.Set(responseValue)

	return nil
}
