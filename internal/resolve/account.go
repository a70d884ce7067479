package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
)

const (
	StrategyLiteral    = "literal"
	StrategyAlias      = "alias"
	StrategyDerived    = "derived"
	StrategyMarketData = "market_data"
	StrategyOnChain    = "on_chain"
)

// Resolver turns symbols, amounts and account references into call arguments.
// Each fallback chain is an ordered list of strategies evaluated until one
// succeeds; every failed attempt is logged and counted.
type Resolver struct {
	Markets ReserveSource
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

type AddressResult struct {
	Address  common.Address `json:"address"`
	Source   string         `json:"source"`
	Attempts []Attempt      `json:"attempts,omitempty"`
}

// Attempt records a strategy that did not produce a value.
type Attempt struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

type addressStrategy struct {
	name string
	run  func(ctx context.Context, id ledger.AccountID, client ledger.Client) (common.Address, error)
}

var errNoAlias = fmt.Errorf("account has no alias")

var accountStrategies = []addressStrategy{
	{name: StrategyAlias, run: func(ctx context.Context, id ledger.AccountID, client ledger.Client) (common.Address, error) {
		alias, err := client.AccountAlias(ctx, id)
		if err != nil {
			return common.Address{}, err
		}
		if alias == (common.Address{}) {
			return common.Address{}, errNoAlias
		}
		return alias, nil
	}},
	{name: StrategyDerived, run: func(ctx context.Context, id ledger.AccountID, client ledger.Client) (common.Address, error) {
		return id.LongZeroAddress(), nil
	}},
}

// AccountAddress resolves ref, either a 0x address or a shard.realm.num id.
func (r *Resolver) AccountAddress(ctx context.Context, ref string, client ledger.Client) (AddressResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return AddressResult{}, clierr.New(clierr.CodeUsage, "account reference is required")
	}
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		if !common.IsHexAddress(ref) {
			return AddressResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address %q", ref))
		}
		return AddressResult{Address: common.HexToAddress(ref), Source: StrategyLiteral}, nil
	}
	id, err := ledger.ParseAccountID(ref)
	if err != nil {
		return AddressResult{}, err
	}
	return r.AccountIDAddress(ctx, id, client)
}

func (r *Resolver) AccountIDAddress(ctx context.Context, id ledger.AccountID, client ledger.Client) (AddressResult, error) {
	logger := logging.OrDefault(r.Logger)
	metrics := telemetry.OrDefault(r.Metrics)
	var out AddressResult
	for _, strategy := range accountStrategies {
		addr, err := strategy.run(ctx, id, client)
		if err == nil {
			metrics.Resolution("account", strategy.name, "hit")
			out.Address = addr
			out.Source = strategy.name
			return out, nil
		}
		metrics.Resolution("account", strategy.name, "miss")
		logger.Info("account address strategy failed", "account", id.String(), "strategy", strategy.name, "error", err)
		out.Attempts = append(out.Attempts, Attempt{Strategy: strategy.name, Error: err.Error()})
	}
	return AddressResult{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("could not resolve an address for account %s", id))
}
