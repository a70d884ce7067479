package app

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/lending"
	"github.com/ggonzalez94/lendtools/internal/model"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/txassembly"
)

func (s *runtimeState) newMarketsCommand() *cobra.Command {
	var query lending.MarketQuery
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "List active lending markets with supply and borrow rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			report, err := s.service.Markets(ctx, query)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report.Reserves, nil, s.cacheMetaMarkets())
		},
	}
	cmd.Flags().StringVar(&query.Symbol, "symbol", "", "Only show this token symbol")
	cmd.Flags().StringVar(&query.Sort, "sort", "supply", "Sort by supply|borrow")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "Maximum number of markets (0 for all)")
	cmd.Flags().BoolVar(&query.IncludeBorrowDisabled, "include-borrow-disabled", false, "Include markets where borrowing is disabled")
	return cmd
}

func (s *runtimeState) newContractsCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "List token contracts from the contract directory for the active network",
		RunE: func(cmd *cobra.Command, args []string) error {
			networks := []registry.Network{s.settings.Network}
			if all {
				networks = registry.Networks()
			}
			table, err := s.directory.Load()
			if err != nil {
				return err
			}
			entries := make([]model.ContractEntry, 0)
			for _, network := range networks {
				for _, symbol := range table.AvailableSymbols(network) {
					addrs, err := table.ResolveToken(symbol, network)
					if err != nil {
						return err
					}
					entries = append(entries, model.ContractEntry{
						Symbol:       addrs.Symbol,
						Network:      network.String(),
						Token:        addrs.Token,
						AToken:       optionalAddress(addrs.AToken),
						StableDebt:   optionalAddress(addrs.StableDebt),
						VariableDebt: optionalAddress(addrs.VariableDebt),
					})
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), entries, nil, cacheMetaBypass())
		},
	}
	cmd.Flags().BoolVar(&all, "all-networks", false, "List every network instead of the active one")
	return cmd
}

func optionalAddress(addr common.Address) *common.Address {
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List supported networks with chain ids and endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]model.NetworkInfo, 0, len(registry.Networks()))
			for _, network := range registry.Networks() {
				info := model.NetworkInfo{Network: network.String(), ChainID: network.ChainID().Int64()}
				if pool, err := s.directory.ResolveSingleton(registry.LendingPool, network); err == nil {
					info.LendingPool = pool.Hex()
				}
				info.RPCURL, _ = registry.DefaultRPCURL(network)
				info.MirrorURL, _ = registry.ResolveMirrorURL("", network)
				if network == s.settings.Network {
					if s.settings.RPCURL != "" {
						info.RPCURL = s.settings.RPCURL
					}
					if s.settings.MirrorURL != "" {
						info.MirrorURL, _ = registry.ResolveMirrorURL(s.settings.MirrorURL, network)
					}
				}
				infos = append(infos, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos, nil, cacheMetaBypass())
		},
	}
}

type decodedTransaction struct {
	ChainID   int64           `json:"chain_id"`
	Nonce     uint64          `json:"nonce"`
	To        *common.Address `json:"to"`
	Gas       uint64          `json:"gas_limit"`
	GasFeeCap string          `json:"max_fee_per_gas"`
	GasTipCap string          `json:"max_priority_fee_per_gas"`
	Selector  string          `json:"selector,omitempty"`
	Data      string          `json:"data"`
	Hash      string          `json:"unsigned_hash"`
	Signed    bool            `json:"signed"`
}

func (s *runtimeState) newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode frozen transaction bytes returned by a tool call in freeze mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := hexutil.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "decode hex", err)
			}
			tx, err := txassembly.Decode(buf)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), describeTransaction(tx), nil, cacheMetaBypass())
		},
	}
}

func describeTransaction(tx *types.Transaction) decodedTransaction {
	out := decodedTransaction{
		ChainID:   tx.ChainId().Int64(),
		Nonce:     tx.Nonce(),
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap().String(),
		GasTipCap: tx.GasTipCap().String(),
		Data:      hexutil.Encode(tx.Data()),
		Hash:      tx.Hash().Hex(),
	}
	if data := tx.Data(); len(data) >= 4 {
		out.Selector = hexutil.Encode(data[:4])
	}
	v, r, sig := tx.RawSignatureValues()
	out.Signed = v.Sign() != 0 || r.Sign() != 0 || sig.Sign() != 0
	return out
}
