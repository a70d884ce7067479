package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/gas"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/resolve"
	"github.com/ggonzalez94/lendtools/internal/tools"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
	"github.com/ggonzalez94/lendtools/internal/units"
)

const sourceOperator = "operator"

// request describes one state-changing action before resolution.
type request struct {
	tool   string
	action gas.Action
	token  string
	amount Amount
	// all encodes units.MaxUnits() and ignores amount.
	all bool
	// account is the caller-supplied counterparty, empty for the default.
	account string
	// spenderIsPool makes the lending pool the default counterparty instead of
	// the operator.
	spenderIsPool bool
	// guardPool rejects a mainnet pool address on testnet.
	guardPool bool
	rateMode  RateMode
	encode    func(call callArgs) (common.Address, []byte, error)
}

type callArgs struct {
	pool         common.Address
	token        registry.TokenAddresses
	amount       *big.Int
	counterparty common.Address
}

// actionReport is the raw payload of an action response. Fields are filled as
// the pipeline advances so failures still report how far it got.
type actionReport struct {
	Tool             string                   `json:"tool"`
	Network          string                   `json:"network"`
	Mode             txassembly.Mode          `json:"mode"`
	Token            *registry.TokenAddresses `json:"token,omitempty"`
	Pool             *common.Address          `json:"pool,omitempty"`
	Amount           string                   `json:"amount,omitempty"`
	AmountBaseUnits  string                   `json:"amount_base_units,omitempty"`
	Decimals         *int                     `json:"decimals,omitempty"`
	DecimalsSource   string                   `json:"decimals_source,omitempty"`
	DecimalsAttempts []resolve.Attempt        `json:"decimals_attempts,omitempty"`
	RateMode         string                   `json:"rate_mode,omitempty"`
	Counterparty     *resolve.AddressResult   `json:"counterparty,omitempty"`
	Transaction      *txassembly.Result       `json:"transaction,omitempty"`
}

func (s *Service) run(ctx context.Context, inv tools.Invocation, req request) (*actionReport, error) {
	report := &actionReport{Tool: req.tool, Network: networkName(inv.Ledger)}
	if inv.Ledger == nil {
		return report, clierr.New(clierr.CodeConfig, "no ledger client configured")
	}
	mode, err := txassembly.ParseMode(string(inv.Exec.Mode))
	if err != nil {
		return report, err
	}
	report.Mode = mode

	network, err := registry.ParseNetwork(inv.Ledger.Network())
	if err != nil {
		return report, err
	}
	symbol, err := requireToken(req.token)
	if err != nil {
		return report, err
	}
	addrs, err := s.directory.ResolveToken(symbol, network)
	if err != nil {
		return report, err
	}
	report.Token = &addrs
	pool, err := s.directory.ResolveSingleton(registry.LendingPool, network)
	if err != nil {
		return report, err
	}
	report.Pool = &pool
	if req.guardPool {
		if err := s.checkPoolNetwork(network, pool); err != nil {
			return report, err
		}
	}

	amount, err := s.resolveAmount(ctx, inv.Ledger, req, addrs, report)
	if err != nil {
		return report, err
	}
	if req.rateMode != 0 {
		report.RateMode = req.rateMode.String()
	}

	counterparty, err := s.counterparty(ctx, inv.Ledger, req, pool)
	if err != nil {
		return report, err
	}
	report.Counterparty = &counterparty

	target, data, err := req.encode(callArgs{pool: pool, token: addrs, amount: amount, counterparty: counterparty.Address})
	if err != nil {
		return report, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("encode %s call", req.tool), err)
	}
	intent := txassembly.Intent{Target: target, Data: data, Gas: s.gasFor(req.action)}
	result, err := txassembly.Assemble(ctx, inv.Ledger, mode, intent, txassembly.Options{Nonce: inv.Exec.Nonce})
	if err != nil {
		return report, err
	}
	report.Transaction = &result
	return report, nil
}

// checkPoolNetwork catches a directory whose testnet pool points at mainnet.
func (s *Service) checkPoolNetwork(network registry.Network, pool common.Address) error {
	if network != registry.Testnet {
		return nil
	}
	mainnetPool, err := s.directory.ResolveSingleton(registry.LendingPool, registry.Mainnet)
	if err != nil {
		return nil
	}
	if pool == mainnetPool {
		return clierr.New(clierr.CodeNetworkMismatch, fmt.Sprintf("lending pool %s is the mainnet deployment but the active network is %s; fix the contract directory before sending funds", pool.Hex(), network))
	}
	return nil
}

func (s *Service) resolveAmount(ctx context.Context, client ledger.Client, req request, addrs registry.TokenAddresses, report *actionReport) (*big.Int, error) {
	if req.all {
		max := units.MaxUnits()
		report.Amount = "max"
		report.AmountBaseUnits = max.String()
		return max, nil
	}
	if !req.amount.IsSet() {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	report.Amount = req.amount.String()

	decimals, err := s.resolver.Decimals(ctx, addrs.Symbol, addrs.Token, client)
	report.DecimalsAttempts = decimals.Attempts
	if err != nil {
		return nil, err
	}
	report.Decimals = &decimals.Decimals
	report.DecimalsSource = decimals.Source

	amount, err := units.ToBaseUnits(req.amount.String(), decimals.Decimals)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s is zero at %d decimals", req.amount, decimals.Decimals))
	}
	report.AmountBaseUnits = amount.String()
	return amount, nil
}

func (s *Service) counterparty(ctx context.Context, client ledger.Client, req request, pool common.Address) (resolve.AddressResult, error) {
	if req.account != "" {
		return s.resolver.AccountAddress(ctx, req.account, client)
	}
	if req.spenderIsPool {
		return resolve.AddressResult{Address: pool, Source: registry.LendingPool}, nil
	}
	operator := client.Operator()
	if operator.Address != (common.Address{}) {
		return resolve.AddressResult{Address: operator.Address, Source: sourceOperator}, nil
	}
	if operator.ID.IsZero() {
		return resolve.AddressResult{}, clierr.New(clierr.CodeConfig, "no operator account configured")
	}
	return s.resolver.AccountIDAddress(ctx, operator.ID, client)
}

func networkName(client ledger.Client) string {
	if client == nil {
		return "unknown"
	}
	if name := client.Network(); name != "" {
		return name
	}
	return "unknown"
}
