package fetch

import (
	"sort"
	"strings"
)

// Network is one supported chain profile. Endpoint is the per-network
// path slug under the explorer gateway base URL.
type Network struct {
	Key         string
	DisplayName string
	ChainID     int64
	Slug        string
}

// networks is the built-in profile table. Keys are what the CLI and API
// accept for --network.
var networks = map[string]Network{
	"ethereum":  {Key: "ethereum", DisplayName: "Ethereum Mainnet", ChainID: 1, Slug: "eth-mainnet"},
	"sepolia":   {Key: "sepolia", DisplayName: "Sepolia Testnet", ChainID: 11155111, Slug: "eth-sepolia"},
	"polygon":   {Key: "polygon", DisplayName: "Polygon", ChainID: 137, Slug: "polygon"},
	"arbitrum":  {Key: "arbitrum", DisplayName: "Arbitrum One", ChainID: 42161, Slug: "arbitrum"},
	"optimism":  {Key: "optimism", DisplayName: "Optimism", ChainID: 10, Slug: "optimism"},
	"base":      {Key: "base", DisplayName: "Base", ChainID: 8453, Slug: "base"},
	"avalanche": {Key: "avalanche", DisplayName: "Avalanche C-Chain", ChainID: 43114, Slug: "avalanche"},
}

// networkAliases maps accepted alternate spellings onto canonical keys.
var networkAliases = map[string]string{
	"mainnet": "ethereum",
	"eth":     "ethereum",
	"matic":   "polygon",
	"avax":    "avalanche",
}

// LookupNetwork resolves a network key or alias to its profile.
func LookupNetwork(key string) (Network, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := networkAliases[key]; ok {
		key = canonical
	}
	network, ok := networks[key]
	return network, ok
}

// SupportedNetworks lists the canonical network keys in sorted order, for
// error messages and help text.
func SupportedNetworks() []string {
	keys := make([]string, 0, len(networks))
	for key := range networks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
