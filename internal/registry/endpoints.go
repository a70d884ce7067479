package registry

import (
	"fmt"
	"strings"
)

const (
	// MarketDataURL serves the reserve snapshot for every market of the protocol.
	MarketDataURL = "https://data.bonzo.finance/market"
)

var defaultRPCByNetwork = map[Network]string{
	Mainnet: "https://mainnet.hashio.io/api",
	Testnet: "https://testnet.hashio.io/api",
}

var defaultMirrorByNetwork = map[Network]string{
	Mainnet: "https://mainnet-public.mirrornode.hedera.com",
	Testnet: "https://testnet.mirrornode.hedera.com",
}

func DefaultRPCURL(network Network) (string, bool) {
	value, ok := defaultRPCByNetwork[network]
	return value, ok
}

func ResolveRPCURL(override string, network Network) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(network); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for network %q; provide --rpc-url", network)
}

func ResolveMirrorURL(override string, network Network) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSuffix(strings.TrimSpace(override), "/"), nil
	}
	if value, ok := defaultMirrorByNetwork[network]; ok {
		return value, nil
	}
	return "", fmt.Errorf("no default mirror node configured for network %q; provide --mirror-url", network)
}
