package resolve

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/marketdata"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
	"github.com/ggonzalez94/lendtools/internal/units"
)

// ReserveSource yields the cached market reserve list.
type ReserveSource interface {
	Reserves(ctx context.Context) ([]marketdata.Reserve, error)
}

var erc20ABI = mustABI(registry.ERC20ABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type DecimalsResult struct {
	Decimals int       `json:"decimals"`
	Source   string    `json:"source"`
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Decimals prefers the market snapshot and falls back to the token's
// decimals() view.
func (r *Resolver) Decimals(ctx context.Context, symbol string, token common.Address, client ledger.Client) (DecimalsResult, error) {
	logger := logging.OrDefault(r.Logger)
	metrics := telemetry.OrDefault(r.Metrics)

	strategies := []struct {
		name string
		run  func() (int, error)
	}{
		{StrategyMarketData, func() (int, error) { return r.marketDecimals(ctx, symbol) }},
		{StrategyOnChain, func() (int, error) { return OnChainDecimals(ctx, token, client) }},
	}

	var out DecimalsResult
	for _, strategy := range strategies {
		decimals, err := strategy.run()
		if err == nil {
			metrics.Resolution("decimals", strategy.name, "hit")
			out.Decimals = decimals
			out.Source = strategy.name
			return out, nil
		}
		metrics.Resolution("decimals", strategy.name, "miss")
		logger.Warn("decimals strategy failed", "symbol", symbol, "strategy", strategy.name, "error", err)
		out.Attempts = append(out.Attempts, Attempt{Strategy: strategy.name, Error: err.Error()})
	}
	last := out.Attempts[len(out.Attempts)-1]
	return out, clierr.New(clierr.CodeLedger, fmt.Sprintf("could not resolve decimals for %s: %s", symbol, last.Error))
}

func (r *Resolver) marketDecimals(ctx context.Context, symbol string) (int, error) {
	if r.Markets == nil {
		return 0, fmt.Errorf("market data source not configured")
	}
	reserves, err := r.Markets.Reserves(ctx)
	if err != nil {
		return 0, err
	}
	reserve, ok := marketdata.FindReserve(reserves, symbol)
	if !ok {
		return 0, fmt.Errorf("market data does not list %s", symbol)
	}
	if reserve.Decimals == nil {
		return 0, fmt.Errorf("market data lists %s without decimals", symbol)
	}
	decimals := *reserve.Decimals
	if decimals < 0 || decimals > units.MaxDecimals {
		return 0, fmt.Errorf("market data lists %s with invalid decimals %d", symbol, decimals)
	}
	return decimals, nil
}

// OnChainDecimals reads decimals() from the token contract.
func OnChainDecimals(ctx context.Context, token common.Address, client ledger.Client) (int, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack decimals call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeLedger, fmt.Sprintf("decode decimals() of %s", token.Hex()), err)
	}
	if len(values) != 1 {
		return 0, clierr.New(clierr.CodeLedger, "decimals() returned no value")
	}
	switch v := values[0].(type) {
	case uint8:
		return int(v), nil
	case *big.Int:
		return int(v.Int64()), nil
	default:
		return 0, clierr.New(clierr.CodeLedger, fmt.Sprintf("decimals() returned unexpected type %T", v))
	}
}
