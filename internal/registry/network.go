package registry

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
)

// Network is one of the two ledger networks the lending deployment exists on.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

var chainIDByNetwork = map[Network]int64{
	Mainnet: 295,
	Testnet: 296,
}

// Networks returns the supported networks in a stable order.
func Networks() []Network {
	return []Network{Mainnet, Testnet}
}

func ParseNetwork(input string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(input))) {
	case Mainnet:
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	default:
		return "", clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("unsupported network %q (expected %s|%s)", input, Mainnet, Testnet))
	}
}

func (n Network) String() string { return string(n) }

func (n Network) Valid() bool {
	_, ok := chainIDByNetwork[n]
	return ok
}

func (n Network) ChainID() *big.Int {
	return big.NewInt(chainIDByNetwork[n])
}
