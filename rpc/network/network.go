package network

import (
	"fmt"
	"sort"
	"sync"

	"github.com/status-im/status-connect/params"
)

const (
	BaseMainnetChainID uint64 = 8453
	BaseSepoliaChainID uint64 = 84532
)

type Tier string

const (
	TierPremium  Tier = params.TierPremium
	TierPublic   Tier = params.TierPublic
	TierFallback Tier = params.TierFallback
)

// Priority orders tiers, lower first.
func (t Tier) Priority() int {
	switch t {
	case TierPremium:
		return 0
	case TierPublic:
		return 1
	default:
		return 2
	}
}

func (t Tier) Valid() bool {
	return t == TierPremium || t == TierPublic || t == TierFallback
}

type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Tier Tier   `json:"tier"`
}

type Network struct {
	ChainID   uint64     `json:"chainId"`
	ChainName string     `json:"chainName"`
	IsTest    bool       `json:"isTest"`
	Endpoints []Endpoint `json:"endpoints"`
}

// SortEndpoints orders endpoints premium -> public -> fallback, keeping the
// declaration order inside a tier.
func SortEndpoints(endpoints []Endpoint) {
	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Tier.Priority() < endpoints[j].Tier.Priority()
	})
}

// SelectChainID picks the single chain served by the process. Embedded
// viewers always use the main network.
func SelectChainID(embedded bool, preferTestnet bool) uint64 {
	if embedded || !preferTestnet {
		return BaseMainnetChainID
	}
	return BaseSepoliaChainID
}

type Manager struct {
	mu       sync.RWMutex
	networks map[uint64]*Network
}

func NewManager() *Manager {
	return &Manager{
		networks: make(map[uint64]*Network),
	}
}

// Init stores the given networks unless the manager already holds some.
func (nm *Manager) Init(networks []Network) error {
	if networks == nil {
		return nil
	}

	nm.mu.RLock()
	populated := len(nm.networks) > 0
	nm.mu.RUnlock()
	if populated {
		return nil
	}

	for i := range networks {
		err := nm.Upsert(&networks[i])
		if err != nil {
			return err
		}
	}

	return nil
}

func (nm *Manager) Upsert(network *Network) error {
	if network.ChainID == 0 {
		return fmt.Errorf("network %q has no chain id", network.ChainName)
	}
	for _, e := range network.Endpoints {
		if !e.Tier.Valid() {
			return fmt.Errorf("endpoint %q has unknown tier %q", e.Name, e.Tier)
		}
	}

	cp := *network
	cp.Endpoints = append([]Endpoint(nil), network.Endpoints...)
	SortEndpoints(cp.Endpoints)

	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.networks[cp.ChainID] = &cp
	return nil
}

// AddEndpoint appends an endpoint to a known network.
func (nm *Manager) AddEndpoint(chainID uint64, endpoint Endpoint) error {
	if !endpoint.Tier.Valid() {
		return fmt.Errorf("endpoint %q has unknown tier %q", endpoint.Name, endpoint.Tier)
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	network, ok := nm.networks[chainID]
	if !ok {
		return fmt.Errorf("unknown chain id %d", chainID)
	}
	network.Endpoints = append(network.Endpoints, endpoint)
	SortEndpoints(network.Endpoints)
	return nil
}

func (nm *Manager) Delete(chainID uint64) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.networks, chainID)
	return nil
}

func (nm *Manager) Find(chainID uint64) *Network {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	network, ok := nm.networks[chainID]
	if !ok {
		return nil
	}
	cp := *network
	cp.Endpoints = append([]Endpoint(nil), network.Endpoints...)
	return &cp
}

func (nm *Manager) Get(onlyTest bool) ([]*Network, error) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	var res []*Network
	for _, network := range nm.networks {
		if onlyTest && !network.IsTest {
			continue
		}
		cp := *network
		cp.Endpoints = append([]Endpoint(nil), network.Endpoints...)
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ChainID < res[j].ChainID
	})
	return res, nil
}
