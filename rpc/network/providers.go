package network

import (
	"fmt"
	"strings"

	"github.com/status-im/status-connect/params"
)

const (
	ProviderAlchemy   = "alchemy"
	ProviderInfura    = "infura"
	ProviderQuickNode = "quicknode"
)

type publicEndpoint struct {
	name string
	urls map[uint64]string
}

var publicEndpoints = []publicEndpoint{
	{
		name: "publicnode",
		urls: map[uint64]string{
			BaseMainnetChainID: "https://base-rpc.publicnode.com",
			BaseSepoliaChainID: "https://base-sepolia-rpc.publicnode.com",
		},
	},
	{
		name: "llamarpc",
		urls: map[uint64]string{
			BaseMainnetChainID: "https://base.llamarpc.com",
		},
	},
	{
		name: "drpc",
		urls: map[uint64]string{
			BaseMainnetChainID: "https://base.drpc.org",
			BaseSepoliaChainID: "https://base-sepolia.drpc.org",
		},
	},
}

var officialEndpoints = map[uint64]string{
	BaseMainnetChainID: "https://mainnet.base.org",
	BaseSepoliaChainID: "https://sepolia.base.org",
}

func alchemyURL(chainID uint64, key string) string {
	if chainID == BaseSepoliaChainID {
		return "https://base-sepolia.g.alchemy.com/v2/" + key
	}
	return "https://base-mainnet.g.alchemy.com/v2/" + key
}

func infuraURL(chainID uint64, key string) string {
	if chainID == BaseSepoliaChainID {
		return "https://base-sepolia.infura.io/v3/" + key
	}
	return "https://base-mainnet.infura.io/v3/" + key
}

// quickNodeServes reports whether a QuickNode endpoint URL is for chainID.
// QuickNode URLs embed the network in the host name.
func quickNodeServes(chainID uint64, endpoint string) bool {
	isSepolia := strings.Contains(endpoint, "base-sepolia")
	return isSepolia == (chainID == BaseSepoliaChainID)
}

func endpointsFor(chainID uint64, keys params.APIKeys) []Endpoint {
	var endpoints []Endpoint

	if keys.Alchemy != "" {
		endpoints = append(endpoints, Endpoint{Name: ProviderAlchemy, URL: alchemyURL(chainID, keys.Alchemy), Tier: TierPremium})
	}
	if keys.Infura != "" {
		endpoints = append(endpoints, Endpoint{Name: ProviderInfura, URL: infuraURL(chainID, keys.Infura), Tier: TierPremium})
	}
	if keys.QuickNode != "" && quickNodeServes(chainID, keys.QuickNode) {
		endpoints = append(endpoints, Endpoint{Name: ProviderQuickNode, URL: keys.QuickNode, Tier: TierPremium})
	}

	for _, p := range publicEndpoints {
		if url, ok := p.urls[chainID]; ok {
			endpoints = append(endpoints, Endpoint{Name: p.name, URL: url, Tier: TierPublic})
		}
	}

	if url, ok := officialEndpoints[chainID]; ok {
		endpoints = append(endpoints, Endpoint{Name: fmt.Sprintf("base-%d", chainID), URL: url, Tier: TierFallback})
	}

	return endpoints
}

// DefaultNetworks returns Base mainnet and Base Sepolia. Premium providers
// are included only when their key is present.
func DefaultNetworks(keys params.APIKeys) []Network {
	return []Network{
		{
			ChainID:   BaseMainnetChainID,
			ChainName: "Base",
			Endpoints: endpointsFor(BaseMainnetChainID, keys),
		},
		{
			ChainID:   BaseSepoliaChainID,
			ChainName: "Base Sepolia",
			IsTest:    true,
			Endpoints: endpointsFor(BaseSepoliaChainID, keys),
		},
	}
}
