package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/ledger"
	"github.com/ggonzalez94/lendtools/internal/ledger/ledgertest"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/marketdata"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
)

type staticReserves struct {
	reserves []marketdata.Reserve
	err      error
	calls    int
}

func (s *staticReserves) Reserves(ctx context.Context) ([]marketdata.Reserve, error) {
	s.calls++
	return s.reserves, s.err
}

func newResolver(markets ReserveSource) (*Resolver, *telemetry.Metrics) {
	metrics := telemetry.New()
	return &Resolver{Markets: markets, Logger: logging.Discard(), Metrics: metrics}, metrics
}

func decimalsReturn(v byte) func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
		return common.LeftPadBytes([]byte{v}, 32), nil
	}
}

func TestAccountAddressPrefersAlias(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	alias := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stub.AliasFn = func(ctx context.Context, id ledger.AccountID) (common.Address, error) { return alias, nil }
	r, metrics := newResolver(nil)

	got, err := r.AccountAddress(context.Background(), "0.0.1234", stub)
	if err != nil {
		t.Fatalf("AccountAddress failed: %v", err)
	}
	if got.Address != alias || got.Source != StrategyAlias || len(got.Attempts) != 0 {
		t.Fatalf("unexpected result %+v", got)
	}
	if n := testutil.ToFloat64(metrics.ResolutionsVec().WithLabelValues("account", StrategyAlias, "hit")); n != 1 {
		t.Fatalf("expected alias hit counted, got %v", n)
	}
}

func TestAccountAddressFallsBackToDerived(t *testing.T) {
	for name, aliasFn := range map[string]func(context.Context, ledger.AccountID) (common.Address, error){
		"zero alias": func(ctx context.Context, id ledger.AccountID) (common.Address, error) { return common.Address{}, nil },
		"mirror down": func(ctx context.Context, id ledger.AccountID) (common.Address, error) {
			return common.Address{}, clierr.New(clierr.CodeUpstreamNetwork, "upstream timeout")
		},
	} {
		t.Run(name, func(t *testing.T) {
			stub := ledgertest.New(registry.Testnet)
			stub.AliasFn = aliasFn
			r, metrics := newResolver(nil)

			got, err := r.AccountAddress(context.Background(), "0.0.1234", stub)
			if err != nil {
				t.Fatalf("AccountAddress failed: %v", err)
			}
			if got.Address != common.HexToAddress("0x00000000000000000000000000000000000004d2") || got.Source != StrategyDerived {
				t.Fatalf("unexpected result %+v", got)
			}
			if len(got.Attempts) != 1 || got.Attempts[0].Strategy != StrategyAlias {
				t.Fatalf("expected the alias miss to be recorded, got %+v", got.Attempts)
			}
			if n := testutil.ToFloat64(metrics.ResolutionsVec().WithLabelValues("account", StrategyAlias, "miss")); n != 1 {
				t.Fatalf("expected alias miss counted, got %v", n)
			}
		})
	}
}

func TestAccountAddressLiteral(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	r, _ := newResolver(nil)
	got, err := r.AccountAddress(context.Background(), "0x00000000000000000000000000000000000000ff", stub)
	if err != nil || got.Source != StrategyLiteral {
		t.Fatalf("unexpected literal result %+v err=%v", got, err)
	}
	if stub.Interactions() != 0 {
		t.Fatal("literal addresses must not query the ledger")
	}
	if _, err := r.AccountAddress(context.Background(), "0x1234", stub); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for short address, got %v", err)
	}
	if _, err := r.AccountAddress(context.Background(), "alice", stub); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for bad account id, got %v", err)
	}
}

func TestDecimalsPrefersMarketData(t *testing.T) {
	stub := ledgertest.New(registry.Mainnet)
	stub.CallFn = decimalsReturn(18)
	markets := &staticReserves{reserves: []marketdata.Reserve{{Symbol: "USDC", Decimals: intPtr(6)}}}
	r, _ := newResolver(markets)

	got, err := r.Decimals(context.Background(), "usdc", common.HexToAddress("0x01"), stub)
	if err != nil {
		t.Fatalf("Decimals failed: %v", err)
	}
	if got.Decimals != 6 || got.Source != StrategyMarketData {
		t.Fatalf("unexpected result %+v", got)
	}
	if len(stub.Calls()) != 0 {
		t.Fatal("market data hit must not read the chain")
	}
}

func TestDecimalsFallsBackOnChain(t *testing.T) {
	cases := map[string]*staticReserves{
		"market down":      {err: clierr.New(clierr.CodeUpstreamNetwork, "upstream timeout")},
		"symbol unlisted":  {reserves: []marketdata.Reserve{{Symbol: "SAUCE", Decimals: intPtr(6)}}},
		"decimals unknown": {reserves: []marketdata.Reserve{{Symbol: "WHBAR"}}},
	}
	for name, markets := range cases {
		t.Run(name, func(t *testing.T) {
			stub := ledgertest.New(registry.Testnet)
			stub.CallFn = decimalsReturn(8)
			r, metrics := newResolver(markets)

			got, err := r.Decimals(context.Background(), "WHBAR", common.HexToAddress("0x03"), stub)
			if err != nil {
				t.Fatalf("Decimals failed: %v", err)
			}
			if got.Decimals != 8 || got.Source != StrategyOnChain {
				t.Fatalf("unexpected result %+v", got)
			}
			if len(got.Attempts) != 1 || got.Attempts[0].Strategy != StrategyMarketData || got.Attempts[0].Error == "" {
				t.Fatalf("expected market data failure to be exposed, got %+v", got.Attempts)
			}
			calls := stub.Calls()
			if len(calls) != 1 || *calls[0].To != common.HexToAddress("0x03") {
				t.Fatalf("expected one decimals() call to the token, got %+v", calls)
			}
			if n := testutil.ToFloat64(metrics.ResolutionsVec().WithLabelValues("decimals", StrategyMarketData, "miss")); n != 1 {
				t.Fatalf("expected market data miss counted, got %v", n)
			}
		})
	}
}

func TestDecimalsBothStrategiesFail(t *testing.T) {
	stub := ledgertest.New(registry.Testnet)
	stub.CallFn = func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("CONTRACT_REVERT_EXECUTED")
	}
	r, _ := newResolver(&staticReserves{err: errors.New("down")})
	got, err := r.Decimals(context.Background(), "WHBAR", common.HexToAddress("0x03"), stub)
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("expected both attempts recorded, got %+v", got.Attempts)
	}
}

func intPtr(v int) *int { return &v }
